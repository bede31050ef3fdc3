package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/civiclens/mitds/pkg/model"
)

// MemoryEventStore is an in-process EventStore for tests and the
// detector unit suites.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []model.TimingEvent
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

// Append adds events to the series.
func (s *MemoryEventStore) Append(_ context.Context, events ...model.TimingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// Window returns events for the entities inside [from, to], ascending.
func (s *MemoryEventStore) Window(_ context.Context, entityIDs []string, from, to time.Time) ([]model.TimingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		wanted[id] = true
	}
	var out []model.TimingEvent
	for _, ev := range s.events {
		if !wanted[ev.EntityID] {
			continue
		}
		if ev.Timestamp.Before(from) || ev.Timestamp.After(to) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
