package queue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/moodgrid/blockwell/internal/ingest"
)

// Producer enqueues sweep and item jobs. It is owned by the composition
// root and injected everywhere a job needs publishing.
type Producer struct {
	broker Broker
	ids    ingest.IDGenerator
	clock  ingest.Clock
	logger *zap.Logger
}

// NewProducer constructs a Producer.
func NewProducer(broker Broker, ids ingest.IDGenerator, clock ingest.Clock, logger *zap.Logger) *Producer {
	return &Producer{broker: broker, ids: ids, clock: clock, logger: logger}
}

// EnqueueSweep publishes a sweep job for a source and returns the job id.
func (p *Producer) EnqueueSweep(ctx context.Context, sourceID, url string, kind ingest.RunKind, priority uint8) (string, error) {
	jobID, err := p.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("sweep job id: %w", err)
	}
	job := Job{
		JobID:      jobID,
		Kind:       JobKindSweep,
		SourceID:   sourceID,
		SweepKind:  string(kind),
		URL:        url,
		Priority:   priority,
		MaxRetries: SweepMaxRetries,
		CreatedAt:  p.clock.Now(),
	}
	if err := p.publish(ctx, job); err != nil {
		return "", err
	}
	p.logger.Info("queued sweep job",
		zap.String("job_id", jobID),
		zap.String("source_id", sourceID),
		zap.String("sweep_kind", string(kind)),
	)
	return jobID, nil
}

// EnqueueItem publishes an item job and returns the job id. runID ties
// the item back to the sweep run whose counters it should bump; it may
// be empty for ad-hoc enqueues.
func (p *Producer) EnqueueItem(ctx context.Context, sourceID, runID, itemURL string, priority uint8) (string, error) {
	jobID, err := p.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("item job id: %w", err)
	}
	job := Job{
		JobID:      jobID,
		Kind:       JobKindItem,
		SourceID:   sourceID,
		RunID:      runID,
		ItemURL:    itemURL,
		Priority:   priority,
		MaxRetries: ItemMaxRetries,
		CreatedAt:  p.clock.Now(),
	}
	if err := p.publish(ctx, job); err != nil {
		return "", err
	}
	p.logger.Debug("queued item job",
		zap.String("job_id", jobID),
		zap.String("item_url", itemURL),
	)
	return jobID, nil
}

func (p *Producer) publish(ctx context.Context, job Job) error {
	body, err := job.Encode()
	if err != nil {
		return err
	}
	if err := p.broker.Publish(ctx, job.Route(), body, job.Priority); err != nil {
		return fmt.Errorf("enqueue %s job %s: %w", job.Kind, job.JobID, err)
	}
	return nil
}
