package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/moodgrid/blockwell/internal/ingest"
)

// RunStore implements ingest.RunStore.
type RunStore struct {
	db    DB
	ids   ingest.IDGenerator
	clock ingest.Clock
}

// Create inserts a new run in the running state.
func (s *RunStore) Create(ctx context.Context, sourceID string, kind ingest.RunKind) (ingest.Run, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return ingest.Run{}, fmt.Errorf("run id: %w", err)
	}
	now := s.clock.Now()
	query := `
INSERT INTO runs (id, source_id, kind, status, started_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err = s.db.Exec(ctx, query, id, sourceID, string(kind), string(ingest.RunStatusRunning), now)
	if err != nil {
		return ingest.Run{}, fmt.Errorf("create run for source %s: %w", sourceID, err)
	}
	return ingest.Run{
		ID:        id,
		SourceID:  sourceID,
		Kind:      kind,
		Status:    ingest.RunStatusRunning,
		StartedAt: now,
	}, nil
}

// IncrementCounters adds delta to the run's counters. Counters only move
// forward; negative deltas are rejected.
func (s *RunStore) IncrementCounters(ctx context.Context, runID string, delta ingest.RunCounters) error {
	if delta.ItemsFound < 0 || delta.ItemsUploaded < 0 || delta.ItemsUpserted < 0 || delta.Errors < 0 {
		return fmt.Errorf("increment counters for run %s: negative delta", runID)
	}
	query := `
UPDATE runs SET
	items_found = items_found + $2,
	items_uploaded = items_uploaded + $3,
	items_upserted = items_upserted + $4,
	errors = errors + $5
WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, runID, delta.ItemsFound, delta.ItemsUploaded, delta.ItemsUpserted, delta.Errors)
	if err != nil {
		return fmt.Errorf("increment counters for run %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Finish marks a run terminal with its final counters. The guard on
// finished_at makes finishing idempotent-hostile on purpose: a run
// finishes exactly once, later calls return ErrRunFinished.
func (s *RunStore) Finish(ctx context.Context, runID string, status ingest.RunStatus, errMsg string, counters ingest.RunCounters) error {
	query := `
UPDATE runs SET
	status = $2,
	finished_at = $3,
	error_message = $4,
	items_found = $5,
	items_uploaded = $6,
	items_upserted = $7,
	errors = $8
WHERE id = $1 AND finished_at IS NULL`
	tag, err := s.db.Exec(ctx, query, runID, string(status), s.clock.Now(), errMsg,
		counters.ItemsFound, counters.ItemsUploaded, counters.ItemsUpserted, counters.Errors)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunFinished
	}
	return nil
}

// Get returns one run row.
func (s *RunStore) Get(ctx context.Context, runID string) (ingest.Run, error) {
	query := `
SELECT id, source_id, kind, status, started_at, finished_at,
	items_found, items_uploaded, items_upserted, errors, error_message
FROM runs WHERE id = $1`
	var (
		run    ingest.Run
		kind   string
		status string
	)
	err := s.db.QueryRow(ctx, query, runID).Scan(
		&run.ID, &run.SourceID, &kind, &status, &run.StartedAt, &run.FinishedAt,
		&run.Counters.ItemsFound, &run.Counters.ItemsUploaded,
		&run.Counters.ItemsUpserted, &run.Counters.Errors, &run.Error,
	)
	if err != nil {
		if isNoRows(err) {
			return ingest.Run{}, ErrNotFound
		}
		return ingest.Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	run.Kind = ingest.RunKind(kind)
	run.Status = ingest.RunStatus(status)
	return run, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
