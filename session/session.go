// Package session holds the client-side auth session state machine: the
// full snapshot of who is signed in, persistence across process restarts,
// and bidirectional synchronization with the token store.
//
// The store moves through uninitialized → restoring → ready. Once ready,
// every transition replaces the snapshot wholesale (never mutated in place)
// and runs the write-through side effects: caching the token under the
// signed-in user, marking that user active, and persisting the session —
// or, when unauthenticated, wiping tokens and deleting the persisted
// record so its absence is the signed-out sentinel.
package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	erpauth "github.com/plazma-edu/erpauth-go"
	"github.com/plazma-edu/erpauth-go/token"
)

// StorageKey is the durable storage key holding the session snapshot.
// Presence of the key signals "was authenticated when the process last
// exited"; absence signals signed-out.
const StorageKey = "erpauth.session"

// Store is the auth session state machine.
type Store struct {
	storage erpauth.Storage
	tokens  *token.Store
	logger  *slog.Logger

	initOnce    sync.Once
	unsubscribe func()
	applying    atomic.Int32

	mu    sync.Mutex
	state erpauth.Session
	ready bool

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(erpauth.Session)
}

// compile-time check
var _ erpauth.SessionStore = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a structured logger. Token values are never logged.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a session store persisting through storage and writing tokens
// through to tokens. Call Initialize before use.
func New(storage erpauth.Storage, tokens *token.Store, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		tokens:  tokens,
		logger:  slog.Default(),
		subs:    make(map[int]func(erpauth.Session)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Initialize restores the persisted session and subscribes to token store
// changes. It is idempotent: repeated calls after the first are free, so
// every consumer may call it defensively.
//
// When the persisted record is corrupt or storage is unavailable the store
// still becomes ready with an empty session; it never stays uninitialized.
func (s *Store) Initialize() {
	s.initOnce.Do(func() {
		s.unsubscribe = s.tokens.Subscribe(s.handleTokenChange)
		s.transitionWith(s.restore(), erpauth.OriginRestore)
	})
}

// Ready reports whether the initial restore has completed.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Authenticated reports whether the current session carries a token.
func (s *Store) Authenticated() bool {
	return s.Snapshot().Authenticated()
}

// Snapshot returns the current session value.
func (s *Store) Snapshot() erpauth.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState replaces the full session and transitions to ready.
func (s *Store) SetState(next erpauth.Session) {
	s.transition(next)
}

// UpdateState merges the patch into the current session and transitions to
// ready.
func (s *Store) UpdateState(patch erpauth.SessionPatch) {
	s.mu.Lock()
	next := patch.Apply(s.state)
	s.mu.Unlock()
	s.transition(next)
}

// ClearState resets the session to defaults, clears all cached tokens, and
// transitions to ready(unauthenticated).
func (s *Store) ClearState() {
	s.transition(erpauth.Session{})
}

// Subscribe registers a listener invoked with the new snapshot after every
// transition. Returns a disposer that must be called on teardown.
func (s *Store) Subscribe(fn func(erpauth.Session)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Close detaches the store from the token store.
func (s *Store) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	return nil
}

// transition installs next as the current session, marks the store ready,
// and runs the write-through side effects.
func (s *Store) transition(next erpauth.Session) {
	s.transitionWith(next, erpauth.OriginStore)
}

func (s *Store) transitionWith(next erpauth.Session, origin erpauth.Origin) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.ready = true
	s.mu.Unlock()

	// Token store events fired inside this block are delivered synchronously
	// on this goroutine; handleTokenChange must skip them. The origin tag
	// alone is not enough: ClearAll always emits OriginClear.
	s.applying.Add(1)
	if next.AccessToken != "" && next.UserID != "" {
		// Activate first: CacheTokenFor only mirrors to the legacy slot and
		// emits while the user is active. The origin tag lets our own token
		// listener ignore the echo.
		s.tokens.SetActiveUserID(next.UserID)
		s.tokens.CacheTokenFor(next.UserID, next.AccessToken, origin)
		s.persist(next)
	} else {
		if prev.UserID != "" {
			s.tokens.CacheTokenFor(prev.UserID, "", origin)
		}
		s.tokens.SetActiveUserID("")
		s.tokens.ClearAll()
		if next.AccessToken != "" {
			// Token known before the user identity is: park it in the
			// legacy slot.
			s.tokens.SetLegacyToken(next.AccessToken, origin)
		}
		if err := s.storage.Delete(StorageKey); err != nil {
			s.logger.Warn("failed to delete persisted session", "error", err)
		}
	}
	s.applying.Add(-1)

	s.notify(next)
}

// handleTokenChange keeps the snapshot consistent with whatever the HTTP
// layer does autonomously (token adoption on sign-in/refresh, clearing on
// refresh failure).
func (s *Store) handleTokenChange(c erpauth.TokenChange) {
	if s.applying.Load() > 0 {
		// Emitted by our own write-through block above.
		return
	}
	if c.Origin == erpauth.OriginStore || c.Origin == erpauth.OriginRestore {
		// Our own echo. Reacting to it would loop forever through
		// transition → cache → emit → here.
		return
	}

	s.mu.Lock()
	current := s.state
	s.mu.Unlock()

	if c.Token == current.AccessToken {
		return
	}

	if c.Token == "" {
		s.logger.Info("token cleared externally, signing out", "origin", string(c.Origin))
		s.transition(erpauth.Session{})
		return
	}

	next := current
	next.AccessToken = c.Token
	if c.UserID != "" {
		next.UserID = c.UserID
	}
	s.transition(next)
}

// restore loads the persisted session. Corrupt data is discarded and the
// offending key deleted; any failure degrades to an empty session.
func (s *Store) restore() erpauth.Session {
	data, err := s.storage.Get(StorageKey)
	if err != nil {
		if !errors.Is(err, erpauth.ErrKeyNotFound) {
			s.logger.Warn("session restore failed", "error", err)
		}
		return erpauth.Session{}
	}

	var restored erpauth.Session
	if err := json.Unmarshal(data, &restored); err != nil {
		s.logger.Warn("persisted session corrupt, discarding", "error", err)
		_ = s.storage.Delete(StorageKey)
		return erpauth.Session{}
	}

	s.logger.Info("session restored", "user_id", restored.UserID, "organization_id", restored.OrganizationID)
	return restored
}

func (s *Store) persist(state erpauth.Session) {
	data, err := json.Marshal(state)
	if err != nil {
		s.logger.Error("failed to encode session", "error", err)
		return
	}
	if err := s.storage.Set(StorageKey, data); err != nil {
		s.logger.Warn("failed to persist session", "error", err)
	}
}

func (s *Store) notify(state erpauth.Session) {
	s.subMu.Lock()
	snapshot := make([]func(erpauth.Session), 0, len(s.subs))
	for _, fn := range s.subs {
		snapshot = append(snapshot, fn)
	}
	s.subMu.Unlock()

	for _, fn := range snapshot {
		fn(state)
	}
}
