package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/civiclens/mitds/pkg/model"
)

// Writer performs idempotent, merge-keyed upserts against a graph
// store. One Writer is shared by all adapters; writes within one
// adapter run are serialized by the runner so a node always exists
// before its edges.
type Writer struct {
	store  Store
	logger *slog.Logger
}

// NewWriter creates a writer over the given store.
func NewWriter(store Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: store, logger: logger}
}

// RecordWriter exposes upserts inside one per-record transaction.
type RecordWriter struct {
	tx     Tx
	logger *slog.Logger
}

// WriteRecord runs fn inside a transaction: the record's nodes, edges
// and evidence all commit together or not at all.
func (w *Writer) WriteRecord(ctx context.Context, fn func(ctx context.Context, rw *RecordWriter) error) error {
	tx, err := w.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record: %w", err)
	}
	rw := &RecordWriter{tx: tx, logger: w.logger}
	if err := fn(ctx, rw); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			w.logger.Warn("record rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

// UpsertNode reconciles an observation against the store. Identity is
// decided by the first merge-key identifier present on the observation
// (falling back to name+jurisdiction); a hit updates mutable fields and
// merges identifiers, a miss inserts. A stored identifier that
// contradicts the observation flags NeedsReview and is never
// overwritten.
func (rw *RecordWriter) UpsertNode(ctx context.Context, obs *model.Entity) (NodeResult, error) {
	existing, err := rw.findNode(ctx, obs)
	if err != nil {
		return NodeResult{}, err
	}
	if existing == nil {
		if obs.ID == "" {
			fresh := model.NewEntity(obs.Type, obs.Name)
			obs.ID = fresh.ID
			obs.CreatedAt = fresh.CreatedAt
			obs.UpdatedAt = fresh.UpdatedAt
		}
		if err := rw.tx.InsertNode(ctx, obs); err != nil {
			return NodeResult{}, fmt.Errorf("insert node %q: %w", obs.Name, err)
		}
		return NodeResult{ID: obs.ID, Created: true}, nil
	}

	needsReview := mergeInto(existing, obs)
	if err := rw.tx.UpdateNode(ctx, existing); err != nil {
		return NodeResult{}, fmt.Errorf("update node %s: %w", existing.ID, err)
	}
	return NodeResult{ID: existing.ID, NeedsReview: needsReview}, nil
}

func (rw *RecordWriter) findNode(ctx context.Context, obs *model.Entity) (*model.Entity, error) {
	for _, idName := range NodeKeyIdentifiers(obs.Type) {
		v := obs.ExternalID(idName)
		if v == "" {
			continue
		}
		n, err := rw.tx.FindNodeByExternalID(ctx, obs.Type, idName, v)
		if err != nil {
			return nil, err
		}
		if n != nil {
			return n, nil
		}
	}
	if obs.Type == model.EntityAd {
		if v := obs.ExternalID("platform_ad_key"); v != "" {
			return rw.tx.FindNodeByExternalID(ctx, obs.Type, "platform_ad_key", v)
		}
		return nil, nil
	}
	jurisdiction := ""
	if obs.Type == model.EntityOrganization {
		if j, ok := obs.Properties["jurisdiction"].(string); ok {
			jurisdiction = j
		}
	}
	return rw.tx.FindNodeByName(ctx, obs.Type, obs.Name, jurisdiction)
}

// mergeInto folds an observation into an existing node. Returns true
// when an identifier conflict was detected (stored value kept).
func mergeInto(existing, obs *model.Entity) bool {
	needsReview := false
	for name, v := range obs.ExternalIDs {
		cur := existing.ExternalID(name)
		switch {
		case cur == "":
			existing.SetExternalID(name, v)
		case cur != v:
			needsReview = true
		}
	}
	if obs.Name != "" {
		existing.Name = obs.Name
	}
	if obs.Confidence > existing.Confidence {
		existing.Confidence = obs.Confidence
	}
	if existing.Address == nil && obs.Address != nil {
		existing.Address = obs.Address
	}
	if existing.Properties == nil {
		existing.Properties = make(map[string]any)
	}
	for k, v := range obs.Properties {
		existing.Properties[k] = v
	}
	return needsReview
}

// UpsertEdge writes an edge through its type's merge key: a hit updates
// mutable fields and appends evidence references, a miss inserts.
// created_at is never rewritten. Undirected types (SHARED_INFRA) hit
// the same edge regardless of endpoint order.
func (rw *RecordWriter) UpsertEdge(ctx context.Context, rel *model.Relationship) (EdgeResult, error) {
	if rel.SourceID == "" || rel.TargetID == "" {
		return EdgeResult{}, model.NewValidationError("endpoints", "edge endpoints are required")
	}
	mergeKey := EdgeMergeKey(rel)

	existing, err := rw.tx.FindEdgeByMergeKey(ctx, rel.Type, mergeKey)
	if err != nil {
		return EdgeResult{}, err
	}
	if existing == nil {
		if rel.ID == "" {
			rel.ID = model.NewRelationship(rel.Type, rel.SourceID, rel.TargetID).ID
		}
		if err := rw.tx.InsertEdge(ctx, rel, mergeKey); err != nil {
			return EdgeResult{}, fmt.Errorf("insert %s edge: %w", rel.Type, err)
		}
		return EdgeResult{ID: rel.ID, Created: true}, nil
	}

	existing.Confidence = rel.Confidence
	if rel.ValidFrom != nil {
		existing.ValidFrom = rel.ValidFrom
	}
	if rel.ValidTo != nil {
		existing.ValidTo = rel.ValidTo
	}
	if existing.Properties == nil {
		existing.Properties = make(map[string]any)
	}
	for k, v := range rel.Properties {
		existing.Properties[k] = v
	}
	existing.EvidenceIDs = appendUnique(existing.EvidenceIDs, rel.EvidenceIDs...)
	if err := rw.tx.UpdateEdge(ctx, existing); err != nil {
		return EdgeResult{}, fmt.Errorf("update %s edge %s: %w", rel.Type, existing.ID, err)
	}
	return EdgeResult{ID: existing.ID}, nil
}

// MergeNode folds an observation into a node the resolver already
// matched, inside the record's transaction. Same conflict rules as
// UpsertNode: contradicting identifiers flag review, stored value kept.
func (rw *RecordWriter) MergeNode(ctx context.Context, existing *model.Entity, obs *model.Entity) (NodeResult, error) {
	needsReview := mergeInto(existing, obs)
	if err := rw.tx.UpdateNode(ctx, existing); err != nil {
		return NodeResult{}, fmt.Errorf("merge node %s: %w", existing.ID, err)
	}
	return NodeResult{ID: existing.ID, NeedsReview: needsReview}, nil
}

// AddEvidence appends an evidence row inside the record's transaction.
func (rw *RecordWriter) AddEvidence(ctx context.Context, ev *model.Evidence) error {
	return rw.tx.InsertEvidence(ctx, ev)
}

// CreateSharedInfra upserts the undirected SHARED_INFRA edge between
// two outlets from an infrastructure match.
func (rw *RecordWriter) CreateSharedInfra(ctx context.Context, outletA, outletB string, signals []model.InfraSignal, totalScore float64, category string) (EdgeResult, error) {
	rel := model.NewRelationship(model.EdgeSharedInfra, outletA, outletB)
	rel.Confidence = totalScore / 10
	if rel.Confidence > 1 {
		rel.Confidence = 1
	}
	rel.Properties["signals"] = signals
	rel.Properties["total_score"] = totalScore
	rel.Properties["sharing_category"] = category
	return rw.UpsertEdge(ctx, rel)
}

func appendUnique(dst []string, more ...string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range more {
		if _, ok := seen[s]; !ok {
			dst = append(dst, s)
			seen[s] = struct{}{}
		}
	}
	return dst
}
