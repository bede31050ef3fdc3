package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// RunError records one record-level failure inside a run. Record-level
// failures never abort the run; they accumulate here.
type RunError struct {
	RecordID string    `json:"record_id,omitempty"`
	Field    string    `json:"field,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// IngestionResult is the per-run bookkeeping row: one run of one adapter
// under one config writes exactly one of these.
type IngestionResult struct {
	ID               string     `json:"id"`
	Source           string     `json:"source"`
	Status           RunStatus  `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsCreated   int        `json:"records_created"`
	RecordsUpdated   int        `json:"records_updated"`
	Duplicates       int        `json:"duplicates"`
	Errors           []RunError `json:"errors,omitempty"`
	Log              string     `json:"log,omitempty"`
}

// NewIngestionResult starts bookkeeping for a run. An empty id generates
// one; the API layer may supply its own so the row is addressable before
// the run finishes.
func NewIngestionResult(id, source string) *IngestionResult {
	if id == "" {
		id = uuid.New().String()
	}
	return &IngestionResult{
		ID:        id,
		Source:    source,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
	}
}

// TimingEvent is one observation in the ad-delivery / publication time
// series consumed by the temporal coordination detector.
type TimingEvent struct {
	EntityID  string         `json:"entity_id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
