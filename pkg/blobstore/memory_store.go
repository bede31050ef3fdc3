package blobstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores the payload under its structured key.
func (s *MemoryStore) Put(_ context.Context, req PutRequest) (string, string, error) {
	if err := req.validate(); err != nil {
		return "", "", err
	}
	key := Key(req.Source, req.ID, req.Ext, req.RetrievedAt)
	body := make([]byte, len(req.Body))
	copy(body, req.Body)

	s.mu.Lock()
	s.blobs[key] = body
	s.mu.Unlock()
	return key, hashBytes(body), nil
}

// Get returns the bytes stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Exists reports whether key is present.
func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[key]
	return ok, nil
}

// Presign returns a synthetic URL; memory blobs are process-local.
func (s *MemoryStore) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.blobs[key]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Sprintf("memory://%s?expires=%d", key, time.Now().Add(ttl).Unix()), nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
