// Package storage provides durable key→value storage backends for the
// session snapshot and account history.
//
// Both backends satisfy erpauth.Storage. The file backend is the production
// choice; the memory backend exists for tests and for embedders that manage
// persistence themselves.
package storage

import (
	"sync"

	erpauth "github.com/plazma-edu/erpauth-go"
)

// Memory is an in-memory Storage. Values are copied on the way in and out.
type Memory struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// compile-time check
var _ erpauth.Storage = (*Memory)(nil)

// NewMemory creates an empty in-memory storage.
func NewMemory() *Memory {
	return &Memory{m: make(map[string][]byte)}
}

// Get returns the stored value, or erpauth.ErrKeyNotFound.
func (s *Memory) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return nil, erpauth.ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores a copy of value under key.
func (s *Memory) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.m[key] = v
	return nil
}

// Delete removes key. Absent keys are a no-op.
func (s *Memory) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

// Len returns the number of stored keys.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
