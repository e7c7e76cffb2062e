package doccache

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store for tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

// Get returns the entry for key.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.entries[key]
	return text, ok, nil
}

// Put stores the entry for key.
func (s *MemoryStore) Put(_ context.Context, key, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = text
	return nil
}

// Delete removes the entry for key.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}
