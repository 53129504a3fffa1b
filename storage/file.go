package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	erpauth "github.com/plazma-edu/erpauth-go"
)

// DefaultDir is the default directory for persisted auth state, relative to
// the user's home directory.
const DefaultDir = ".config/erpauth"

// File is a file-backed Storage. Each key becomes one JSON file.
//
// SECURITY: stored values contain bearer credentials. The directory is
// created with 0700 and files are written with 0600 (owner only).
type File struct {
	mu  sync.Mutex
	dir string
}

// compile-time check
var _ erpauth.Storage = (*File)(nil)

// NewFile creates a file-backed storage rooted at dir. An empty dir defaults
// to ~/.config/erpauth.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("erpauth/storage: failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, DefaultDir)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("erpauth/storage: failed to create directory: %w", err)
	}
	return &File{dir: dir}, nil
}

// Get reads the value stored under key, or erpauth.ErrKeyNotFound.
func (s *File) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// #nosec G304 -- path is derived from a sanitized internal key
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, erpauth.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("erpauth/storage: failed to read %q: %w", key, err)
	}
	return data, nil
}

// Set writes value under key with owner-only permissions.
func (s *File) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.path(key), value, 0600); err != nil {
		return fmt.Errorf("erpauth/storage: failed to write %q: %w", key, err)
	}
	return nil
}

// Delete removes the file for key. Absent keys are a no-op.
func (s *File) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("erpauth/storage: failed to delete %q: %w", key, err)
	}
	return nil
}

func (s *File) path(key string) string {
	return filepath.Join(s.dir, sanitize(key)+".json")
}

// sanitize maps a storage key to a filesystem-safe name.
func sanitize(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
}
