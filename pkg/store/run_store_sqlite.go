package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/civiclens/mitds/pkg/model"
)

// SQLiteRunStore implements RunStore on an embedded sqlite database,
// for single-binary and development deployments.
type SQLiteRunStore struct {
	db *sql.DB
}

// NewSQLiteRunStore creates the store and its schema.
func NewSQLiteRunStore(db *sql.DB) (*SQLiteRunStore, error) {
	s := &SQLiteRunStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRunStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS ingestion_runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		records_processed INTEGER NOT NULL DEFAULT 0,
		records_created INTEGER NOT NULL DEFAULT 0,
		records_updated INTEGER NOT NULL DEFAULT 0,
		duplicates INTEGER NOT NULL DEFAULT 0,
		errors JSON NOT NULL DEFAULT '[]',
		log TEXT NOT NULL DEFAULT ''
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Save upserts the run row.
func (s *SQLiteRunStore) Save(ctx context.Context, run *model.IngestionResult) error {
	errsJSON, err := json.Marshal(orEmptyErrors(run.Errors))
	if err != nil {
		return fmt.Errorf("encode run errors: %w", err)
	}
	var completed any
	if run.CompletedAt != nil {
		completed = run.CompletedAt.UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (id, source, status, started_at, completed_at,
			records_processed, records_created, records_updated, duplicates, errors, log)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			records_processed = excluded.records_processed,
			records_created = excluded.records_created,
			records_updated = excluded.records_updated,
			duplicates = excluded.duplicates,
			errors = excluded.errors,
			log = excluded.log`,
		run.ID, run.Source, string(run.Status), run.StartedAt.UTC(), completed,
		run.RecordsProcessed, run.RecordsCreated, run.RecordsUpdated, run.Duplicates,
		string(errsJSON), run.Log)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// Get returns a run by id.
func (s *SQLiteRunStore) Get(ctx context.Context, id string) (*model.IngestionResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM ingestion_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// LastCompleted returns the newest completed run's started_at.
func (s *SQLiteRunStore) LastCompleted(ctx context.Context, source string) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT started_at FROM ingestion_runs
		WHERE source = ? AND status = 'completed'
		ORDER BY started_at DESC LIMIT 1`, source).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
