package erpauth

import "context"

// Storage is durable key→value storage for session snapshots and account
// history. Implementations: storage/ (file-based and in-memory).
//
// Get returns ErrKeyNotFound when the key is absent. Delete on an absent key
// is a no-op.
type Storage interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// AuthAPI is the ERP backend's authentication surface consumed by this
// module. Implementations: api/ (REST), fake/ (testing).
type AuthAPI interface {
	// SignIn exchanges credentials for a token and user identity.
	SignIn(ctx context.Context, req SignInRequest) (*SignInResult, error)

	// Refresh exchanges the cached credential for a fresh access token
	// without re-entering credentials.
	Refresh(ctx context.Context, userID string) (*RefreshResult, error)
}

// SessionStore is the auth session state machine. Implementation: session/.
type SessionStore interface {
	// Initialize restores the persisted session; idempotent.
	Initialize()

	// Ready reports whether the initial restore has completed.
	Ready() bool

	// Authenticated reports whether the session carries a token.
	Authenticated() bool

	// Snapshot returns the current session value.
	Snapshot() Session

	// SetState replaces the full session.
	SetState(next Session)

	// UpdateState merges a partial update into the session.
	UpdateState(patch SessionPatch)

	// ClearState signs out: defaults, all tokens cleared.
	ClearState()

	// Subscribe registers a snapshot listener; returns a disposer.
	Subscribe(fn func(Session)) func()

	Close() error
}

// HistoryStore remembers recently-authenticated accounts for fast
// switching. Implementation: history/.
type HistoryStore interface {
	// List returns the remembered accounts, most recently used first.
	List() []HistoryEntry

	// Upsert inserts or refreshes an entry, evicting the oldest over
	// capacity.
	Upsert(entry HistoryEntry) error

	// Remove drops the entry for userID.
	Remove(userID string) error

	// Activate switches the active account; onNeedLogin is invoked when no
	// cached token exists for it.
	Activate(entry HistoryEntry, onNeedLogin func(userID string)) error
}

// TokenCache is the per-user token store surface the aggregate client
// needs. Implementation: token/.
type TokenCache interface {
	ActiveUserID() string
	SetActiveUserID(userID string)
	TokenFor(userID string) string
	ClearAll()
}

// TokenReader resolves the current access token. Implemented by
// token.Facade; consumed by anything that stamps outgoing requests.
type TokenReader interface {
	AccessToken() string
}

// TokenWriter adopts a token for the active account (or the legacy slot
// when no account is active).
type TokenWriter interface {
	SetAccessToken(token string, origin Origin)
}
