// Package history remembers recently-authenticated accounts so an operator
// can switch between them without re-entering credentials, as long as a
// cached token still exists for the target account.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	erpauth "github.com/plazma-edu/erpauth-go"
	"github.com/plazma-edu/erpauth-go/token"
)

// StorageKey is the durable storage key holding the history list.
const StorageKey = "erpauth.history"

// DefaultCapacity bounds the history list; the oldest entry is evicted when
// an upsert overflows it.
const DefaultCapacity = 5

// Store is the durable most-recently-used account list.
type Store struct {
	storage  erpauth.Storage
	tokens   *token.Store
	capacity int
	logger   *slog.Logger
}

// compile-time check
var _ erpauth.HistoryStore = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithCapacity overrides the history capacity. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n >= 1 {
			s.capacity = n
		}
	}
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a history store persisting through storage and switching
// accounts through tokens.
func New(storage erpauth.Storage, tokens *token.Store, opts ...Option) *Store {
	s := &Store{
		storage:  storage,
		tokens:   tokens,
		capacity: DefaultCapacity,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// List returns the remembered accounts, most recently used first. A corrupt
// or missing persisted record yields an empty list.
func (s *Store) List() []erpauth.HistoryEntry {
	return s.load()
}

// Upsert removes any existing entry with the same user ID, prepends the
// entry with LastUsedAt set to now, and truncates to capacity.
func (s *Store) Upsert(entry erpauth.HistoryEntry) error {
	entries := s.load()
	entry.LastUsedAt = time.Now()

	next := make([]erpauth.HistoryEntry, 0, len(entries)+1)
	next = append(next, entry)
	for _, e := range entries {
		if e.UserID != entry.UserID {
			next = append(next, e)
		}
	}
	if len(next) > s.capacity {
		next = next[:s.capacity]
	}
	return s.save(next)
}

// Remove filters the entry with userID out of the list. Absent entries are
// a no-op.
func (s *Store) Remove(userID string) error {
	entries := s.load()
	next := make([]erpauth.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		if e.UserID != userID {
			next = append(next, e)
		}
	}
	if len(next) == len(entries) {
		return nil
	}
	return s.save(next)
}

// Activate switches the active account to entry's user. When no usable
// cached token exists for that user, onNeedLogin is invoked (or ErrNeedLogin
// returned when nil) so the caller can route to a credential prompt; the
// switch itself never makes a network call. The entry's LastUsedAt is
// refreshed either way.
func (s *Store) Activate(entry erpauth.HistoryEntry, onNeedLogin func(userID string)) error {
	s.tokens.SetActiveUserID(entry.UserID)

	if err := s.Upsert(entry); err != nil {
		return err
	}

	if !token.Usable(s.tokens.TokenFor(entry.UserID)) {
		s.logger.Info("account switch needs credential prompt", "user_id", entry.UserID)
		if onNeedLogin == nil {
			return erpauth.ErrNeedLogin
		}
		onNeedLogin(entry.UserID)
		return nil
	}

	s.logger.Info("account switched", "user_id", entry.UserID)
	return nil
}

// load reads the persisted list. Corrupt or non-array data is treated as
// empty and the offending key is deleted so the next write starts clean.
func (s *Store) load() []erpauth.HistoryEntry {
	data, err := s.storage.Get(StorageKey)
	if err != nil {
		if !errors.Is(err, erpauth.ErrKeyNotFound) {
			s.logger.Warn("history read failed", "error", err)
		}
		return nil
	}

	var entries []erpauth.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("history record corrupt, discarding", "error", err)
		_ = s.storage.Delete(StorageKey)
		return nil
	}
	return entries
}

func (s *Store) save(entries []erpauth.HistoryEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("erpauth/history: failed to encode history: %w", err)
	}
	if err := s.storage.Set(StorageKey, data); err != nil {
		return fmt.Errorf("erpauth/history: %w", err)
	}
	return nil
}
