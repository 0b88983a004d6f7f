// Package store provides the Postgres-backed persistence layer: blocks
// with their editorial overlay, run bookkeeping and configured sources.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moodgrid/blockwell/internal/ingest"
)

// Sentinel errors surfaced by the stores.
var (
	ErrNotFound = errors.New("not found")
	// ErrRunFinished means a run was already terminal when Finish was
	// called; a run finishes exactly once.
	ErrRunFinished = errors.New("run already finished")
)

// DB is the subset of pgxpool.Pool the stores use. pgxmock satisfies it
// in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Stores bundles the per-table stores sharing one pool.
type Stores struct {
	Blocks  *BlockStore
	Runs    *RunStore
	Sources *SourceStore

	db DB
}

// New connects to Postgres and constructs the stores.
func New(ctx context.Context, cfg Config, ids ingest.IDGenerator, clock ingest.Clock) (*Stores, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithDB(pool, ids, clock), nil
}

// NewWithDB constructs the stores from an existing pool, primarily for
// testing.
func NewWithDB(db DB, ids ingest.IDGenerator, clock ingest.Clock) *Stores {
	return &Stores{
		Blocks:  &BlockStore{db: db, ids: ids},
		Runs:    &RunStore{db: db, ids: ids, clock: clock},
		Sources: &SourceStore{db: db},
		db:      db,
	}
}

// Close releases the underlying pool.
func (s *Stores) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}
