package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/civiclens/mitds/pkg/model"
)

// EventStore persists the timing-event series (ad deliveries,
// publication times) that the temporal coordination detector reads.
type EventStore interface {
	Append(ctx context.Context, events ...model.TimingEvent) error
	// Window returns events for the given entities inside [from, to],
	// timestamp-ascending.
	Window(ctx context.Context, entityIDs []string, from, to time.Time) ([]model.TimingEvent, error)
}

// PostgresEventStore implements EventStore on PostgreSQL.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore creates the store and its schema.
func NewPostgresEventStore(db *sql.DB) (*PostgresEventStore, error) {
	s := &PostgresEventStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresEventStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		entity_id UUID NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		event_type TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_events_entity_ts ON events (entity_id, ts);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Append inserts events; the series is append-only.
func (s *PostgresEventStore) Append(ctx context.Context, events ...model.TimingEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (entity_id, ts, event_type, metadata) VALUES ($1, $2, $3, $4)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, ev := range events {
		meta, err := json.Marshal(orEmptyMeta(ev.Metadata))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode event metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, ev.EntityID, ev.Timestamp, ev.EventType, meta); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("append event: %w", err)
		}
	}
	return tx.Commit()
}

// Window returns events for the entities inside [from, to].
func (s *PostgresEventStore) Window(ctx context.Context, entityIDs []string, from, to time.Time) ([]model.TimingEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, ts, event_type, metadata FROM events
		WHERE entity_id = ANY($1) AND ts >= $2 AND ts <= $3
		ORDER BY ts`, pq.Array(entityIDs), from, to)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.TimingEvent
	for rows.Next() {
		var (
			ev   model.TimingEvent
			meta []byte
		)
		if err := rows.Scan(&ev.EntityID, &ev.Timestamp, &ev.EventType, &meta); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("decode event metadata: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func orEmptyMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
