package graph

import (
	"context"
	"errors"
	"time"

	"github.com/civiclens/mitds/pkg/model"
)

var (
	ErrNodeNotFound = errors.New("node not found")
	ErrEdgeNotFound = errors.New("edge not found")
)

// NodeResult reports the outcome of a node upsert.
type NodeResult struct {
	ID      string
	Created bool
	// NeedsReview is set when the observation carried an external id
	// that conflicts with the stored value; the stored value is kept.
	NeedsReview bool
}

// EdgeResult reports the outcome of an edge upsert.
type EdgeResult struct {
	ID      string
	Created bool
}

// Tx is the per-record transaction. Either every write inside it
// commits, or the record rolls back whole; partial records never land.
type Tx interface {
	FindNodeByExternalID(ctx context.Context, typ model.EntityType, idName, idValue string) (*model.Entity, error)
	FindNodeByName(ctx context.Context, typ model.EntityType, name, jurisdiction string) (*model.Entity, error)
	InsertNode(ctx context.Context, e *model.Entity) error
	// UpdateNode persists mutable fields; updated_at is set by the
	// store's clock at commit time and never moves backwards.
	UpdateNode(ctx context.Context, e *model.Entity) error

	FindEdgeByMergeKey(ctx context.Context, typ model.EdgeType, mergeKey string) (*model.Relationship, error)
	InsertEdge(ctx context.Context, rel *model.Relationship, mergeKey string) error
	UpdateEdge(ctx context.Context, rel *model.Relationship) error

	InsertEvidence(ctx context.Context, ev *model.Evidence) error

	Commit() error
	Rollback() error
}

// FundingTuple is one (recipient, funder, amount, year) observation,
// the raw input of the funding-cluster detector.
type FundingTuple struct {
	RecipientID string
	FunderID    string
	Amount      float64
	FiscalYear  int
}

// FundingFilter narrows the funding tuples a detector considers.
type FundingFilter struct {
	EntityType model.EntityType // recipient type; empty matches all
	FiscalYear int              // 0 matches all
	MinAmount  float64
}

// Store is the graph-store boundary. The Postgres implementation backs
// production; MemoryStore backs tests and the detector unit suites.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	GetNode(ctx context.Context, id string) (*model.Entity, error)
	NodesByType(ctx context.Context, typ model.EntityType) ([]*model.Entity, error)

	// EdgesValidAt returns edges of a type valid at t; a null bound is
	// open-ended.
	EdgesValidAt(ctx context.Context, typ model.EdgeType, t time.Time) ([]*model.Relationship, error)
	// EdgesFrom returns outgoing edges of a node, any type.
	EdgesFrom(ctx context.Context, nodeID string) ([]*model.Relationship, error)
	OutDegree(ctx context.Context, nodeID string) (int, error)

	// FundingTuples feeds the funding-cluster detector.
	FundingTuples(ctx context.Context, f FundingFilter) ([]FundingTuple, error)
	// Directors returns person ids with a current DIRECTOR_OF edge to org.
	Directors(ctx context.Context, orgID string) ([]string, error)
}
