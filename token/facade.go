package token

import (
	erpauth "github.com/plazma-edu/erpauth-go"
)

// Facade resolves "the current token" without callers needing to know about
// per-user caching: reads and writes go to the active account's entry when
// one is set, and to the legacy slot otherwise.
type Facade struct {
	store *Store
}

// compile-time checks
var (
	_ erpauth.TokenReader = (*Facade)(nil)
	_ erpauth.TokenWriter = (*Facade)(nil)
)

// NewFacade wraps a token store.
func NewFacade(store *Store) *Facade {
	return &Facade{store: store}
}

// AccessToken returns the active account's cached token, or the legacy slot
// when no account is active. Empty string means no token.
func (f *Facade) AccessToken() string {
	if userID := f.store.ActiveUserID(); userID != "" {
		return f.store.TokenFor(userID)
	}
	return f.store.LegacyToken()
}

// SetAccessToken writes the token through to the active account's cache
// entry, or to the legacy slot when no account is active.
func (f *Facade) SetAccessToken(tok string, origin erpauth.Origin) {
	if origin == "" {
		origin = erpauth.OriginAPI
	}
	if userID := f.store.ActiveUserID(); userID != "" {
		f.store.CacheTokenFor(userID, tok, origin)
		return
	}
	f.store.SetLegacyToken(tok, origin)
}

// SubscribeAccessToken adapts the store's change events to a simpler
// (token, origin) listener. Returns a disposer.
func (f *Facade) SubscribeAccessToken(fn func(tok string, origin erpauth.Origin)) func() {
	return f.store.Subscribe(func(c erpauth.TokenChange) {
		fn(c.Token, c.Origin)
	})
}

// Store exposes the underlying token store.
func (f *Facade) Store() *Store { return f.store }
