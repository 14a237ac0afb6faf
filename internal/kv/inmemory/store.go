package inmemory

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/AriceNn/MonEra-sub000/internal/kv"
)

// Store is an in-memory implementation of kv.Store.
// It is safe for concurrent use. Data is lost when the process exits.
type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		values: make(map[string][]byte),
	}
}

// Get implements the kv.Store interface.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.values[key]
	if !exists {
		return nil, kv.ErrNotFound
	}

	// Return a copy to avoid external modifications
	return append([]byte(nil), value...), nil
}

// Set implements the kv.Store interface.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = append([]byte(nil), value...)
	return nil
}

// Delete implements the kv.Store interface.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// SetNX implements the kv.Store interface.
func (s *Store) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.values[key]; exists {
		return false, nil
	}
	s.values[key] = append([]byte(nil), value...)
	return true, nil
}

// CompareAndDelete implements the kv.Store interface.
func (s *Store) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.values[key]
	if !exists || !bytes.Equal(current, old) {
		return false, nil
	}
	delete(s.values, key)
	return true, nil
}

// Keys implements the kv.Store interface.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements the kv.Store interface.
func (s *Store) Close() error {
	return nil
}

// Ensure Store implements kv.Store interface.
var _ kv.Store = (*Store)(nil)
