package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclens/mitds/pkg/model"
)

func TestMemoryEventStoreWindow(t *testing.T) {
	s := NewMemoryEventStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx,
		model.TimingEvent{EntityID: "a", Timestamp: base.Add(2 * time.Hour), EventType: "ad_delivery"},
		model.TimingEvent{EntityID: "a", Timestamp: base, EventType: "ad_delivery"},
		model.TimingEvent{EntityID: "b", Timestamp: base.Add(time.Hour), EventType: "publication"},
		model.TimingEvent{EntityID: "c", Timestamp: base.Add(time.Hour), EventType: "publication"},
	))

	events, err := s.Window(ctx, []string{"a", "b"}, base, base.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 2)
	// Ascending by timestamp, bounds inclusive, entity "c" excluded.
	assert.Equal(t, "a", events[0].EntityID)
	assert.Equal(t, "b", events[1].EntityID)

	// Inclusive upper bound.
	events, err = s.Window(ctx, []string{"a"}, base, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestPostgresEventStoreAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := &PostgresEventStore{db: db}
	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO events").
		ExpectExec().
		WithArgs("ent-1", ts, "ad_delivery", []byte(`{"platform":"meta"}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = s.Append(context.Background(), model.TimingEvent{
		EntityID:  "ent-1",
		Timestamp: ts,
		EventType: "ad_delivery",
		Metadata:  map[string]any{"platform": "meta"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEventStoreWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := &PostgresEventStore{db: db}
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	rows := sqlmock.NewRows([]string{"entity_id", "ts", "event_type", "metadata"}).
		AddRow("ent-1", from.Add(time.Hour), "ad_delivery", []byte(`{}`)).
		AddRow("ent-2", from.Add(2*time.Hour), "publication", []byte(`{"page":"home"}`))
	mock.ExpectQuery("SELECT entity_id, ts, event_type, metadata FROM events").
		WillReturnRows(rows)

	events, err := s.Window(context.Background(), []string{"ent-1", "ent-2"}, from, to)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "publication", events[1].EventType)
	assert.Equal(t, "home", events[1].Metadata["page"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEventStoreAppendEmpty(t *testing.T) {
	s := &PostgresEventStore{}
	assert.NoError(t, s.Append(context.Background()))
}
