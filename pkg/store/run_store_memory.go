package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/civiclens/mitds/pkg/model"
)

// MemoryRunStore is an in-process RunStore for tests.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*model.IngestionResult
}

// NewMemoryRunStore creates an empty in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*model.IngestionResult)}
}

// Save upserts the run row.
func (s *MemoryRunStore) Save(_ context.Context, run *model.IngestionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	cp.Errors = append([]model.RunError(nil), run.Errors...)
	s.runs[run.ID] = &cp
	return nil
}

// Get returns a run by id.
func (s *MemoryRunStore) Get(_ context.Context, id string) (*model.IngestionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	cp := *run
	return &cp, nil
}

// LastCompleted returns the newest completed run's started_at.
func (s *MemoryRunStore) LastCompleted(_ context.Context, source string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *time.Time
	for _, run := range s.runs {
		if run.Source != source || run.Status != model.RunCompleted {
			continue
		}
		t := run.StartedAt
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	return latest, nil
}
