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

func TestPostgresRunStoreSave(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	run := model.NewIngestionResult("", "irs990")
	run.Status = model.RunCompleted
	completed := run.StartedAt.Add(time.Minute)
	run.CompletedAt = &completed
	run.RecordsProcessed = 10
	run.RecordsCreated = 7
	run.RecordsUpdated = 2
	run.Duplicates = 1
	run.Log = "done"

	mock.ExpectExec("INSERT INTO ingestion_runs").
		WithArgs(run.ID, "irs990", "completed", run.StartedAt, run.CompletedAt,
			10, 7, 2, 1, sqlmock.AnyArg(), "done").
		WillReturnResult(sqlmock.NewResult(1, 1))

	s := &PostgresRunStore{db: db}
	require.NoError(t, s.Save(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunStoreLastCompleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT started_at FROM ingestion_runs").
		WithArgs("cra").
		WillReturnRows(sqlmock.NewRows([]string{"started_at"}).AddRow(want))

	s := &PostgresRunStore{db: db}
	got, err := s.LastCompleted(context.Background(), "cra")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(want))

	// No completed runs yet: nil, no error.
	mock.ExpectQuery("SELECT started_at FROM ingestion_runs").
		WithArgs("sec_edgar").
		WillReturnRows(sqlmock.NewRows([]string{"started_at"}))
	got, err = s.LastCompleted(context.Background(), "sec_edgar")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryRunStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRunStore()

	first := model.NewIngestionResult("run-1", "elections")
	first.Status = model.RunCompleted
	require.NoError(t, s.Save(ctx, first))

	second := model.NewIngestionResult("run-2", "elections")
	second.StartedAt = first.StartedAt.Add(time.Hour)
	second.Status = model.RunFailed
	require.NoError(t, s.Save(ctx, second))

	// Only completed runs count toward the incremental watermark.
	last, err := s.LastCompleted(ctx, "elections")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(first.StartedAt))

	got, err := s.Get(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, got.Status)

	_, err = s.Get(ctx, "run-3")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
