// Package token is the single source of truth for "what bearer token should
// requests for user X use right now", independent of any UI or session state.
//
// The store keeps one cached token per user, a single active-user pointer,
// and a legacy slot for code paths that predate multi-account support. All
// mutation goes through exported methods; the maps are never reachable from
// outside, so the legacy slot and the per-user cache cannot be driven apart
// by a bypassing writer.
package token

import (
	"log/slog"
	"sync"

	erpauth "github.com/plazma-edu/erpauth-go"
	"github.com/plazma-edu/erpauth-go/metrics"
)

// Store caches access tokens per user and tracks the active account.
// Construct one per process with NewStore and inject it into the session
// store and the HTTP transport; tests create a fresh store each.
type Store struct {
	mu           sync.Mutex
	tokens       map[string]string
	activeUserID string
	legacyToken  string

	// unauthorizedFired latches after a failed refresh so subsequent 401s
	// do not re-trigger the refresh protocol for the same account. Reset
	// when the active account changes.
	unauthorizedFired bool

	subs    *subscribers
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// compile-time check
var _ erpauth.TokenCache = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a structured logger. Token values are never logged.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics sink. The store keeps the cached-tokens gauge
// current across mutations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates an empty token store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		tokens:  make(map[string]string),
		subs:    newSubscribers(),
		logger:  slog.Default(),
		metrics: metrics.New(false),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ActiveUserID returns the currently active account, or "" if none.
func (s *Store) ActiveUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeUserID
}

// SetActiveUserID switches the active account pointer. The unauthorized
// latch is reset so the freshly activated account gets a clean slate for
// 401 handling, and the legacy slot is re-mirrored from the new account's
// cached token.
func (s *Store) SetActiveUserID(userID string) {
	s.mu.Lock()
	s.activeUserID = userID
	s.unauthorizedFired = false
	if userID != "" {
		if tok, ok := s.tokens[userID]; ok {
			s.legacyToken = tok
		}
	}
	s.mu.Unlock()

	s.logger.Debug("active user switched", "user_id", userID)
}

// CacheTokenFor stores or removes the per-user token. An empty token removes
// the entry. When userID is the active account, the legacy slot is updated
// too and a change event is emitted.
func (s *Store) CacheTokenFor(userID, token string, origin erpauth.Origin) {
	if userID == "" {
		return
	}

	s.mu.Lock()
	if token == "" {
		delete(s.tokens, userID)
	} else {
		s.tokens[userID] = token
	}
	active := s.activeUserID == userID
	if active {
		s.legacyToken = token
	}
	cached := len(s.tokens)
	s.mu.Unlock()

	s.metrics.SetCachedTokens(float64(cached))
	if active {
		s.subs.emit(erpauth.TokenChange{UserID: userID, Token: token, Origin: origin})
	}
}

// TokenFor returns the cached token for userID, or "" if none. Pure lookup,
// no side effects.
func (s *Store) TokenFor(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[userID]
}

// LegacyToken returns the no-active-user slot.
func (s *Store) LegacyToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.legacyToken
}

// SetLegacyToken assigns the no-active-user slot. Emission is unconditional
// on every call (at-least-once; identical consecutive values are not
// de-duplicated), with an empty UserID.
func (s *Store) SetLegacyToken(token string, origin erpauth.Origin) {
	s.mu.Lock()
	s.legacyToken = token
	s.mu.Unlock()

	s.subs.emit(erpauth.TokenChange{Token: token, Origin: origin})
}

// ClearAll wipes the per-user map and the legacy slot, clears the active
// pointer and the unauthorized latch, and emits a single change event with
// OriginClear.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.tokens = make(map[string]string)
	s.legacyToken = ""
	s.activeUserID = ""
	s.unauthorizedFired = false
	s.mu.Unlock()

	s.logger.Debug("all tokens cleared")
	s.metrics.SetCachedTokens(0)
	s.subs.emit(erpauth.TokenChange{Origin: erpauth.OriginClear})
}

// Subscribe registers a listener for every emitted change event and returns
// a disposer that must be called on teardown. A panicking listener is
// isolated so the remaining listeners still run.
func (s *Store) Subscribe(fn func(erpauth.TokenChange)) func() {
	return s.subs.add(fn)
}

// MarkUnauthorized latches the "refresh already failed" flag for the active
// account.
func (s *Store) MarkUnauthorized() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unauthorizedFired = true
}

// UnauthorizedFired reports whether a failed refresh has already been
// recorded for the active account.
func (s *Store) UnauthorizedFired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unauthorizedFired
}
