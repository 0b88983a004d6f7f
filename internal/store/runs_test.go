package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moodgrid/blockwell/internal/ingest"
)

func TestRunCreateStartsRunning(t *testing.T) {
	t.Parallel()

	stores, mock := newMockStores(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO runs").
		WithArgs("blk-new", "src-1", "tail", "running", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := stores.Runs.Create(context.Background(), "src-1", ingest.RunKindTail)
	require.NoError(t, err)
	assert.Equal(t, ingest.RunStatusRunning, run.Status)
	assert.Equal(t, now, run.StartedAt)
	assert.Nil(t, run.FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementCountersRejectsNegativeDelta(t *testing.T) {
	t.Parallel()

	stores, _ := newMockStores(t)
	err := stores.Runs.IncrementCounters(context.Background(), "run-1", ingest.RunCounters{Errors: -1})
	require.Error(t, err)
}

func TestIncrementCounters(t *testing.T) {
	t.Parallel()

	stores, mock := newMockStores(t)
	mock.ExpectExec("UPDATE runs SET").
		WithArgs("run-1", 3, 2, 2, 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := stores.Runs.IncrementCounters(context.Background(), "run-1",
		ingest.RunCounters{ItemsFound: 3, ItemsUploaded: 2, ItemsUpserted: 2, Errors: 1})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishIsTerminalExactlyOnce(t *testing.T) {
	t.Parallel()

	stores, mock := newMockStores(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	counters := ingest.RunCounters{ItemsFound: 5, ItemsUpserted: 4, Errors: 1}

	mock.ExpectExec("UPDATE runs SET").
		WithArgs("run-1", "success", now, "", 5, 0, 4, 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	// Second finish finds finished_at already set.
	mock.ExpectExec("UPDATE runs SET").
		WithArgs("run-1", "error", now, "late failure", 5, 0, 4, 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := stores.Runs.Finish(context.Background(), "run-1", ingest.RunStatusSuccess, "", counters)
	require.NoError(t, err)

	err = stores.Runs.Finish(context.Background(), "run-1", ingest.RunStatusError, "late failure", counters)
	assert.ErrorIs(t, err, ErrRunFinished)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	stores, mock := newMockStores(t)
	mock.ExpectQuery("FROM runs").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := stores.Runs.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
