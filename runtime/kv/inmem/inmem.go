// Package inmem provides a process-local kv.Store used by tests and the
// in-memory workflow engine.
package inmem

import (
	"context"
	"sync"

	"github.com/agentexhq/agentex/runtime/kv"
)

// Store is a mutex-guarded map. Values are copied on the way in and out so
// callers cannot alias the stored blobs.
type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{values: make(map[string][]byte)}
}

// Get implements kv.Store.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	if !ok {
		return nil, kv.ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set implements kv.Store.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = stored
	return nil
}

// Delete implements kv.Store.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// BatchGet implements kv.Store.
func (s *Store) BatchGet(_ context.Context, keys []string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]byte, len(keys))
	for i, key := range keys {
		value, ok := s.values[key]
		if !ok {
			continue
		}
		cp := make([]byte, len(value))
		copy(cp, value)
		out[i] = cp
	}
	return out, nil
}

// BatchSet implements kv.Store.
func (s *Store) BatchSet(_ context.Context, values map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range values {
		stored := make([]byte, len(value))
		copy(stored, value)
		s.values[key] = stored
	}
	return nil
}

// BatchDelete implements kv.Store.
func (s *Store) BatchDelete(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}
