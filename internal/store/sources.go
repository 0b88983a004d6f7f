package store

import (
	"context"
	"fmt"
	"time"

	"github.com/moodgrid/blockwell/internal/ingest"
)

// SourceStore implements ingest.SourceStore.
type SourceStore struct {
	db DB
}

const sourceColumns = `id, name, kind, url, enabled, status,
	sweep_interval_seconds, next_run_at, created_at, updated_at`

// Get returns one configured source.
func (s *SourceStore) Get(ctx context.Context, id string) (ingest.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1`
	src, err := scanSource(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return ingest.Source{}, ErrNotFound
		}
		return ingest.Source{}, fmt.Errorf("get source %s: %w", id, err)
	}
	return src, nil
}

// ListDue returns the enabled sources whose next_run_at has passed,
// oldest first.
func (s *SourceStore) ListDue(ctx context.Context, now time.Time) ([]ingest.Source, error) {
	query := `SELECT ` + sourceColumns + `
FROM sources
WHERE enabled AND next_run_at IS NOT NULL AND next_run_at <= $1
ORDER BY next_run_at`
	rows, err := s.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list due sources: %w", err)
	}
	defer rows.Close()

	var sources []ingest.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list due sources: %w", err)
	}
	return sources, nil
}

// SetNextRun schedules the source's next sweep.
func (s *SourceStore) SetNextRun(ctx context.Context, id string, next time.Time) error {
	query := `UPDATE sources SET next_run_at = $2, updated_at = now() WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, id, next)
	if err != nil {
		return fmt.Errorf("set next run for source %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (ingest.Source, error) {
	var (
		src             ingest.Source
		kind            string
		intervalSeconds int
	)
	err := row.Scan(
		&src.ID, &src.Name, &kind, &src.URL, &src.Enabled, &src.Status,
		&intervalSeconds, &src.NextRunAt, &src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return ingest.Source{}, err
	}
	src.Kind = ingest.SourceKind(kind)
	src.SweepInterval = time.Duration(intervalSeconds) * time.Second
	return src, nil
}
