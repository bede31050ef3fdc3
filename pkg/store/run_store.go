// Package store holds the relational bookkeeping stores: ingestion
// runs and the timing-event series consumed by the temporal detector.
// Graph nodes, edges and evidence live in pkg/graph's schema.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/civiclens/mitds/pkg/model"
)

var ErrRunNotFound = errors.New("ingestion run not found")

// RunStore persists IngestionResult rows.
type RunStore interface {
	// Save upserts the run row (the runner writes it at start and at
	// completion).
	Save(ctx context.Context, run *model.IngestionResult) error
	Get(ctx context.Context, id string) (*model.IngestionResult, error)
	// LastCompleted returns the started_at of the most recent completed
	// run for a source, or nil when the source never completed a run.
	LastCompleted(ctx context.Context, source string) (*time.Time, error)
}

// PostgresRunStore implements RunStore on PostgreSQL.
type PostgresRunStore struct {
	db *sql.DB
}

// NewPostgresRunStore creates the store and its schema.
func NewPostgresRunStore(db *sql.DB) (*PostgresRunStore, error) {
	s := &PostgresRunStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresRunStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS ingestion_runs (
		id UUID PRIMARY KEY,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		records_processed INT NOT NULL DEFAULT 0,
		records_created INT NOT NULL DEFAULT 0,
		records_updated INT NOT NULL DEFAULT 0,
		duplicates INT NOT NULL DEFAULT 0,
		errors JSONB NOT NULL DEFAULT '[]',
		log TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_ingestion_runs_source ON ingestion_runs (source, started_at DESC);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Save upserts the run row.
func (s *PostgresRunStore) Save(ctx context.Context, run *model.IngestionResult) error {
	errsJSON, err := json.Marshal(orEmptyErrors(run.Errors))
	if err != nil {
		return fmt.Errorf("encode run errors: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (id, source, status, started_at, completed_at,
			records_processed, records_created, records_updated, duplicates, errors, log)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			records_processed = EXCLUDED.records_processed,
			records_created = EXCLUDED.records_created,
			records_updated = EXCLUDED.records_updated,
			duplicates = EXCLUDED.duplicates,
			errors = EXCLUDED.errors,
			log = EXCLUDED.log`,
		run.ID, run.Source, string(run.Status), run.StartedAt, run.CompletedAt,
		run.RecordsProcessed, run.RecordsCreated, run.RecordsUpdated, run.Duplicates,
		errsJSON, run.Log)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, source, status, started_at, completed_at, records_processed, records_created, records_updated, duplicates, errors, log`

// Get returns a run by id.
func (s *PostgresRunStore) Get(ctx context.Context, id string) (*model.IngestionResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM ingestion_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// LastCompleted returns the newest completed run's started_at.
func (s *PostgresRunStore) LastCompleted(ctx context.Context, source string) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT started_at FROM ingestion_runs
		WHERE source = $1 AND status = 'completed'
		ORDER BY started_at DESC LIMIT 1`, source).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanRun(r interface{ Scan(...any) error }) (*model.IngestionResult, error) {
	var (
		run       model.IngestionResult
		status    string
		completed sql.NullTime
		errsJSON  []byte
	)
	err := r.Scan(&run.ID, &run.Source, &status, &run.StartedAt, &completed,
		&run.RecordsProcessed, &run.RecordsCreated, &run.RecordsUpdated, &run.Duplicates,
		&errsJSON, &run.Log)
	if err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	if completed.Valid {
		run.CompletedAt = &completed.Time
	}
	if err := json.Unmarshal(errsJSON, &run.Errors); err != nil {
		return nil, fmt.Errorf("decode run errors: %w", err)
	}
	return &run, nil
}

func orEmptyErrors(errs []model.RunError) []model.RunError {
	if errs == nil {
		return []model.RunError{}
	}
	return errs
}
