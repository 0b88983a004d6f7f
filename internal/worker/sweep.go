// Package worker implements the queue consumers: sweeps that discover
// items on listing pages and item jobs that scrape, upload and persist
// one item each.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/moodgrid/blockwell/internal/discover"
	"github.com/moodgrid/blockwell/internal/ingest"
	"github.com/moodgrid/blockwell/internal/metrics"
	"github.com/moodgrid/blockwell/internal/queue"
	"github.com/moodgrid/blockwell/internal/seenset"
)

// Per-cycle discovery caps. Backfills reach deeper into the listing
// than tail sweeps.
const (
	DefaultTailMaxItems     = 50
	DefaultBackfillMaxItems = 100
)

// SweepConfig tunes sweep behavior.
type SweepConfig struct {
	StateRoot        string
	TailMaxItems     int
	BackfillMaxItems int
	Scroll           discover.ScrollPolicy
	RenderTimeout    time.Duration
}

func (c SweepConfig) tailMax() int {
	if c.TailMaxItems > 0 {
		return c.TailMaxItems
	}
	return DefaultTailMaxItems
}

func (c SweepConfig) backfillMax() int {
	if c.BackfillMaxItems > 0 {
		return c.BackfillMaxItems
	}
	return DefaultBackfillMaxItems
}

// SweepHandler processes sweep jobs: discover new items on a source's
// listing page and fan them out as item jobs.
type SweepHandler struct {
	sources  ingest.SourceStore
	runs     ingest.RunStore
	renderer ingest.Renderer
	producer *queue.Producer
	cfg      SweepConfig
	logger   *zap.Logger
}

// NewSweepHandler constructs a SweepHandler.
func NewSweepHandler(
	sources ingest.SourceStore,
	runs ingest.RunStore,
	renderer ingest.Renderer,
	producer *queue.Producer,
	cfg SweepConfig,
	logger *zap.Logger,
) *SweepHandler {
	return &SweepHandler{
		sources:  sources,
		runs:     runs,
		renderer: renderer,
		producer: producer,
		cfg:      cfg,
		logger:   logger,
	}
}

// Handle runs one sweep. The listing being unreachable fails the run
// and the job; per-item enqueue errors only dent the counters.
func (h *SweepHandler) Handle(ctx context.Context, job queue.Job) error {
	src, err := h.sources.Get(ctx, job.SourceID)
	if err != nil {
		return fmt.Errorf("load source %s: %w", job.SourceID, err)
	}

	kind := ingest.RunKind(job.SweepKind)
	if kind == "" {
		kind = ingest.RunKindTail
	}

	run, err := h.runs.Create(ctx, src.ID, kind)
	if err != nil {
		return fmt.Errorf("create run for source %s: %w", src.ID, err)
	}
	logger := h.logger.With(
		zap.String("run_id", run.ID),
		zap.String("source_id", src.ID),
		zap.String("sweep_kind", string(kind)),
	)

	engine, err := h.newEngine(src)
	if err != nil {
		h.finish(ctx, run.ID, ingest.RunStatusError, err.Error(), ingest.RunCounters{}, logger)
		metrics.ObserveSweep(string(kind), "error")
		return err
	}

	listingURL := src.URL
	if job.URL != "" {
		listingURL = job.URL
	}
	refs, err := engine.Discover(ctx, discover.Job{
		ListingURL:  listingURL,
		MaxItems:    h.maxItems(kind),
		OldestFirst: kind == ingest.RunKindBackfill,
		Scroll:      h.cfg.Scroll,
		Timeout:     h.cfg.RenderTimeout,
	})
	if err != nil {
		h.finish(ctx, run.ID, ingest.RunStatusError, err.Error(), ingest.RunCounters{}, logger)
		metrics.ObserveSweep(string(kind), "error")
		return err
	}

	counters := ingest.RunCounters{ItemsFound: len(refs)}
	for _, ref := range refs {
		if _, err := h.producer.EnqueueItem(ctx, src.ID, run.ID, ref.URL, job.Priority); err != nil {
			logger.Warn("enqueue item failed",
				zap.String("external_id", ref.ExternalID),
				zap.Error(err),
			)
			counters.Errors++
			continue
		}
		if err := engine.MarkSeen(ref.ExternalID); err != nil {
			logger.Warn("mark seen failed", zap.String("external_id", ref.ExternalID), zap.Error(err))
		}
	}
	if err := engine.CloseCycle(); err != nil {
		logger.Warn("seen set flush failed", zap.Error(err))
	}

	h.finish(ctx, run.ID, ingest.RunStatusSuccess, "", counters, logger)
	metrics.ObserveSweep(string(kind), "success")
	metrics.ObserveDiscovered(src.ID, len(refs))
	logger.Info("sweep finished",
		zap.Int("items_found", counters.ItemsFound),
		zap.Int("errors", counters.Errors),
	)
	return nil
}

func (h *SweepHandler) newEngine(src ingest.Source) (*discover.Engine, error) {
	slug := discover.JobSlug(src.URL)
	seen, err := seenset.Open(discover.StatePath(h.cfg.StateRoot, slug))
	if err != nil {
		return nil, fmt.Errorf("open seen set for %s: %w", src.ID, err)
	}
	return discover.NewEngine(h.renderer, seen, h.logger), nil
}

func (h *SweepHandler) maxItems(kind ingest.RunKind) int {
	if kind == ingest.RunKindBackfill {
		return h.cfg.backfillMax()
	}
	return h.cfg.tailMax()
}

func (h *SweepHandler) finish(
	ctx context.Context,
	runID string,
	status ingest.RunStatus,
	errMsg string,
	counters ingest.RunCounters,
	logger *zap.Logger,
) {
	if err := h.runs.Finish(ctx, runID, status, errMsg, counters); err != nil {
		logger.Error("finish run failed", zap.Error(err))
	}
}
