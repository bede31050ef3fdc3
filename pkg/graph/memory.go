package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/civiclens/mitds/pkg/model"
)

// MemoryStore is an in-process graph store for tests and local runs.
// It mirrors the Postgres store's semantics, including commit-time
// updated_at stamping and merge-key uniqueness.
type MemoryStore struct {
	mu       sync.RWMutex
	nodes    map[string]*model.Entity
	edges    map[string]*model.Relationship // by edge id
	edgeKeys map[string]string              // type|mergeKey -> edge id
	evidence map[string]*model.Evidence
	clock    func() time.Time
}

// NewMemoryStore creates an empty in-memory graph store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:    make(map[string]*model.Entity),
		edges:    make(map[string]*model.Relationship),
		edgeKeys: make(map[string]string),
		evidence: make(map[string]*model.Evidence),
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the commit clock (tests only).
func (s *MemoryStore) SetClock(clock func() time.Time) { s.clock = clock }

type memTx struct {
	store    *MemoryStore
	nodes    map[string]*model.Entity
	edges    map[string]*model.Relationship
	edgeKeys map[string]string
	evidence []*model.Evidence
	done     bool
}

// Begin opens a per-record transaction.
func (s *MemoryStore) Begin(_ context.Context) (Tx, error) {
	return &memTx{
		store:    s,
		nodes:    make(map[string]*model.Entity),
		edges:    make(map[string]*model.Relationship),
		edgeKeys: make(map[string]string),
	}, nil
}

func (t *memTx) FindNodeByExternalID(_ context.Context, typ model.EntityType, idName, idValue string) (*model.Entity, error) {
	for _, n := range t.nodes {
		if n.Type == typ && n.ExternalID(idName) == idValue {
			return copyEntity(n), nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, n := range t.store.nodes {
		if n.Type == typ && n.ExternalID(idName) == idValue {
			return copyEntity(n), nil
		}
	}
	return nil, nil
}

func (t *memTx) FindNodeByName(_ context.Context, typ model.EntityType, name, jurisdiction string) (*model.Entity, error) {
	match := func(n *model.Entity) bool {
		if n.Type != typ || !strings.EqualFold(n.Name, name) {
			return false
		}
		if jurisdiction == "" {
			return true
		}
		j, _ := n.Properties["jurisdiction"].(string)
		return strings.EqualFold(j, jurisdiction)
	}
	for _, n := range t.nodes {
		if match(n) {
			return copyEntity(n), nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, n := range t.store.nodes {
		if match(n) {
			return copyEntity(n), nil
		}
	}
	return nil, nil
}

func (t *memTx) InsertNode(_ context.Context, e *model.Entity) error {
	t.nodes[e.ID] = copyEntity(e)
	return nil
}

func (t *memTx) UpdateNode(_ context.Context, e *model.Entity) error {
	t.nodes[e.ID] = copyEntity(e)
	return nil
}

func (t *memTx) FindEdgeByMergeKey(_ context.Context, typ model.EdgeType, mergeKey string) (*model.Relationship, error) {
	if id, ok := t.edgeKeys[mergeKey]; ok {
		return copyEdge(t.edges[id]), nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if id, ok := t.store.edgeKeys[mergeKey]; ok {
		return copyEdge(t.store.edges[id]), nil
	}
	return nil, nil
}

func (t *memTx) InsertEdge(ctx context.Context, rel *model.Relationship, mergeKey string) error {
	// I1: endpoints must exist at commit time; staged nodes count.
	for _, id := range []string{rel.SourceID, rel.TargetID} {
		if _, ok := t.nodes[id]; ok {
			continue
		}
		t.store.mu.RLock()
		_, ok := t.store.nodes[id]
		t.store.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: edge endpoint %s", ErrNodeNotFound, id)
		}
	}
	t.edges[rel.ID] = copyEdge(rel)
	t.edgeKeys[mergeKey] = rel.ID
	return nil
}

func (t *memTx) UpdateEdge(_ context.Context, rel *model.Relationship) error {
	t.edges[rel.ID] = copyEdge(rel)
	return nil
}

func (t *memTx) InsertEvidence(_ context.Context, ev *model.Evidence) error {
	cp := *ev
	t.evidence = append(t.evidence, &cp)
	return nil
}

// Commit applies staged writes under one lock, stamping updated_at from
// the store clock. created_at of pre-existing rows is preserved and
// updated_at never moves backwards.
func (t *memTx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()

	for id, n := range t.nodes {
		if prev, ok := s.nodes[id]; ok {
			n.CreatedAt = prev.CreatedAt
			n.UpdatedAt = laterOf(now, prev.UpdatedAt)
		} else {
			if n.CreatedAt.IsZero() {
				n.CreatedAt = now
			}
			n.UpdatedAt = laterOf(now, n.CreatedAt)
		}
		s.nodes[id] = n
	}
	for id, e := range t.edges {
		if prev, ok := s.edges[id]; ok {
			e.CreatedAt = prev.CreatedAt
			e.UpdatedAt = laterOf(now, prev.UpdatedAt)
		} else {
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}
			e.UpdatedAt = laterOf(now, e.CreatedAt)
		}
		s.edges[id] = e
	}
	for k, id := range t.edgeKeys {
		s.edgeKeys[k] = id
	}
	for _, ev := range t.evidence {
		s.evidence[ev.ID] = ev
	}
	return nil
}

func (t *memTx) Rollback() error {
	t.done = true
	return nil
}

func laterOf(now, prev time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	// Same-tick commit; nudge forward so updated_at still advances.
	return prev.Add(time.Microsecond)
}

// GetNode returns a node by id.
func (s *MemoryStore) GetNode(_ context.Context, id string) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return copyEntity(n), nil
}

// NodesByType returns all nodes of a type, name-ordered.
func (s *MemoryStore) NodesByType(_ context.Context, typ model.EntityType) ([]*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Entity
	for _, n := range s.nodes {
		if n.Type == typ {
			out = append(out, copyEntity(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// EdgesValidAt returns edges of a type valid at t.
func (s *MemoryStore) EdgesValidAt(_ context.Context, typ model.EdgeType, t time.Time) ([]*model.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Relationship
	for _, e := range s.edges {
		if e.Type == typ && e.ValidAt(t) {
			out = append(out, copyEdge(e))
		}
	}
	return out, nil
}

// EdgesFrom returns outgoing edges of a node.
func (s *MemoryStore) EdgesFrom(_ context.Context, nodeID string) ([]*model.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Relationship
	for _, e := range s.edges {
		if e.SourceID == nodeID {
			out = append(out, copyEdge(e))
		}
	}
	return out, nil
}

// OutDegree returns the count of outgoing edges of a node.
func (s *MemoryStore) OutDegree(ctx context.Context, nodeID string) (int, error) {
	edges, err := s.EdgesFrom(ctx, nodeID)
	if err != nil {
		return 0, err
	}
	return len(edges), nil
}

// FundingTuples projects FUNDED_BY edges into detector input.
func (s *MemoryStore) FundingTuples(_ context.Context, f FundingFilter) ([]FundingTuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []FundingTuple
	for _, e := range s.edges {
		if e.Type != model.EdgeFundedBy {
			continue
		}
		amount, _ := toFloat(e.Properties["amount"])
		year := toInt(e.Properties["fiscal_year"])
		if f.FiscalYear != 0 && year != f.FiscalYear {
			continue
		}
		if amount < f.MinAmount {
			continue
		}
		if f.EntityType != "" {
			rec, ok := s.nodes[e.SourceID]
			if !ok || rec.Type != f.EntityType {
				continue
			}
		}
		out = append(out, FundingTuple{
			RecipientID: e.SourceID,
			FunderID:    e.TargetID,
			Amount:      amount,
			FiscalYear:  year,
		})
	}
	return out, nil
}

// Directors returns person ids with a current DIRECTOR_OF edge to org.
func (s *MemoryStore) Directors(_ context.Context, orgID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now().UTC()
	var out []string
	for _, e := range s.edges {
		if e.Type == model.EdgeDirectorOf && e.TargetID == orgID && e.ValidAt(now) {
			out = append(out, e.SourceID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// EvidenceCount returns the number of committed evidence rows (tests).
func (s *MemoryStore) EvidenceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.evidence)
}

func copyEntity(e *model.Entity) *model.Entity {
	cp := *e
	cp.ExternalIDs = make(map[string]string, len(e.ExternalIDs))
	for k, v := range e.ExternalIDs {
		cp.ExternalIDs[k] = v
	}
	cp.Properties = make(map[string]any, len(e.Properties))
	for k, v := range e.Properties {
		cp.Properties[k] = v
	}
	if e.Address != nil {
		addr := *e.Address
		cp.Address = &addr
	}
	return &cp
}

func copyEdge(r *model.Relationship) *model.Relationship {
	cp := *r
	cp.EvidenceIDs = append([]string(nil), r.EvidenceIDs...)
	cp.Properties = make(map[string]any, len(r.Properties))
	for k, v := range r.Properties {
		cp.Properties[k] = v
	}
	if r.ValidFrom != nil {
		t := *r.ValidFrom
		cp.ValidFrom = &t
	}
	if r.ValidTo != nil {
		t := *r.ValidTo
		cp.ValidTo = &t
	}
	return &cp
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

func toInt(v any) int {
	f, _ := toFloat(v)
	return int(f)
}
