// Package scheduler periodically enqueues sweep jobs for sources whose
// next run is due.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/moodgrid/blockwell/internal/ingest"
	"github.com/moodgrid/blockwell/internal/queue"
)

// Scheduler ticks on an interval, checks for due sources and fans out
// one sweep job per due source per pass.
type Scheduler struct {
	sources  ingest.SourceStore
	producer *queue.Producer
	clock    ingest.Clock
	tick     time.Duration
	logger   *zap.Logger
}

// New constructs a Scheduler.
func New(sources ingest.SourceStore, producer *queue.Producer, clock ingest.Clock, tick time.Duration, logger *zap.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Minute
	}
	return &Scheduler{
		sources:  sources,
		producer: producer,
		clock:    clock,
		tick:     tick,
		logger:   logger,
	}
}

// Run loops until ctx is cancelled. Pass failures are logged, never
// fatal; the next tick retries.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// One pass up front so a fresh deployment does not wait out the
	// first tick.
	s.Pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Pass(ctx)
		}
	}
}

// Pass enqueues a tail sweep for every due source and pushes each
// source's next run forward by its own interval.
func (s *Scheduler) Pass(ctx context.Context) {
	now := s.clock.Now()
	due, err := s.sources.ListDue(ctx, now)
	if err != nil {
		s.logger.Error("list due sources failed", zap.Error(err))
		return
	}
	for _, src := range due {
		if _, err := s.producer.EnqueueSweep(ctx, src.ID, src.URL, ingest.RunKindTail, 0); err != nil {
			s.logger.Error("enqueue sweep failed",
				zap.String("source_id", src.ID),
				zap.Error(err),
			)
			continue
		}
		interval := src.SweepInterval
		if interval <= 0 {
			interval = 15 * time.Minute
		}
		if err := s.sources.SetNextRun(ctx, src.ID, now.Add(interval)); err != nil {
			s.logger.Error("set next run failed",
				zap.String("source_id", src.ID),
				zap.Error(err),
			)
		}
	}
	if len(due) > 0 {
		s.logger.Info("scheduler pass", zap.Int("due_sources", len(due)))
	}
}
