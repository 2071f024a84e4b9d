package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docketwatch/docketwatch/internal/docket"
)

// MemoryStore keeps blobs in-process. Used in tests and dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory blob store.
func NewMemory() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// PutObject stores a copy of the data under the key.
func (s *MemoryStore) PutObject(_ context.Context, key, _ string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	return nil
}

// GetObject returns a copy of the stored data.
func (s *MemoryStore) GetObject(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: object %s not found", docket.ErrStorage, key)
	}
	return append([]byte(nil), data...), nil
}

// SignedURL returns a pseudo URL carrying the expiry, good enough for
// asserting TTL plumbing in tests.
func (s *MemoryStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data[key]; !ok {
		return "", fmt.Errorf("%w: object %s not found", docket.ErrStorage, key)
	}
	return fmt.Sprintf("memory://%s?ttl=%s", key, ttl), nil
}

// Len reports how many objects are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
