package cache

import (
	"context"
	"errors"
	"sync"
)

// Store is a reload-surviving string key/value store.
type Store interface {
	// Get returns the raw value and whether it exists
	Get(ctx context.Context, key string) (string, bool, error)

	// Set creates or replaces a value
	Set(ctx context.Context, key, value string) error

	// Remove deletes a key; removing a missing key is not an error
	Remove(ctx context.Context, key string) error
}

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]string),
	}
}

// Get retrieves a value by key
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, errors.New("key is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	return value, ok, nil
}

// Set creates or updates a value
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	if key == "" {
		return errors.New("key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

// Remove deletes a value
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	if key == "" {
		return errors.New("key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// Len returns the number of stored keys
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
