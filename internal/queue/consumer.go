package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/moodgrid/blockwell/internal/ingest"
	"github.com/moodgrid/blockwell/internal/metrics"
)

// HandlerFunc processes one decoded job. A nil return acks the delivery;
// an error routes it through the retry policy.
type HandlerFunc func(ctx context.Context, job Job) error

// Consumer runs a pool of workers against one queue. Failed jobs are
// republished with an incremented retry count so the count survives the
// broker round trip; exhausted jobs go to the queue's dead letter route.
type Consumer struct {
	broker   Broker
	queue    string
	handler  HandlerFunc
	clock    ingest.Clock
	logger   *zap.Logger
	workers  int
	prefetch int
	backoff  func(int) time.Duration
}

// ConsumerOption adjusts Consumer behavior.
type ConsumerOption func(*Consumer)

// WithBackoff overrides the retry backoff schedule.
func WithBackoff(fn func(retryCount int) time.Duration) ConsumerOption {
	return func(c *Consumer) { c.backoff = fn }
}

// NewConsumer constructs a Consumer for the named queue. workers must be
// at least 1.
func NewConsumer(broker Broker, queue string, handler HandlerFunc, clock ingest.Clock, logger *zap.Logger, workers int, opts ...ConsumerOption) *Consumer {
	if workers < 1 {
		workers = 1
	}
	c := &Consumer{
		broker:   broker,
		queue:    queue,
		handler:  handler,
		clock:    clock,
		logger:   logger.With(zap.String("queue", queue)),
		workers:  workers,
		prefetch: workers,
		backoff:  Backoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes until ctx is cancelled or the delivery stream closes.
// It blocks; run it in its own goroutine.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.broker.Consume(ctx, c.queue, c.prefetch)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				c.process(ctx, d)
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (c *Consumer) process(ctx context.Context, d Delivery) {
	job, err := DecodeJob(d.Body())
	if err != nil {
		// Undecodable bodies can never succeed, drop them straight to
		// the dead letter queue.
		c.logger.Error("discarding undecodable job", zap.Error(err))
		if perr := c.broker.Publish(ctx, RouteFor(c.queue)+DLQSuffix, d.Body(), 0); perr != nil {
			c.logger.Error("dead letter publish failed", zap.Error(perr))
			_ = d.Nack(true)
			return
		}
		metrics.ObserveDeadLetter(c.queue)
		_ = d.Ack()
		return
	}

	metrics.IncActiveConsumers()
	err = c.handler(ctx, job)
	metrics.DecActiveConsumers()
	if err == nil {
		if aerr := d.Ack(); aerr != nil {
			c.logger.Warn("ack failed", zap.String("job_id", job.JobID), zap.Error(aerr))
		}
		return
	}

	if !ingest.IsRetryable(err) {
		c.settle(d, job.JobID, c.deadLetter(ctx, job, err))
		return
	}

	updated, disp := Decide(job, err, c.clock.Now())
	switch disp {
	case DispositionRetry:
		c.settle(d, updated.JobID, c.retry(ctx, job, updated))
	case DispositionDeadLetter:
		c.settle(d, updated.JobID, c.deadLetter(ctx, updated, err))
	}
}

// settle acks the original delivery only once its replacement body is on
// the broker. An interrupted backoff or a failed republish nacks instead
// so the broker redelivers the original; that attempt's retry increment is
// lost, the job is not.
func (c *Consumer) settle(d Delivery, jobID string, err error) {
	if err != nil {
		c.logger.Warn("returning job to broker", zap.String("job_id", jobID), zap.Error(err))
		if nerr := d.Nack(true); nerr != nil {
			c.logger.Error("nack failed", zap.String("job_id", jobID), zap.Error(nerr))
		}
		return
	}
	if aerr := d.Ack(); aerr != nil {
		c.logger.Warn("ack failed", zap.String("job_id", jobID), zap.Error(aerr))
	}
}

func (c *Consumer) retry(ctx context.Context, original, updated Job) error {
	wait := c.backoff(original.RetryCount)
	c.logger.Warn("job failed, retrying",
		zap.String("job_id", updated.JobID),
		zap.Int("retry_count", updated.RetryCount),
		zap.Int("max_retries", updated.MaxRetries),
		zap.Duration("backoff", wait),
		zap.String("last_error", updated.LastError),
	)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
	}
	body, err := updated.Encode()
	if err != nil {
		c.logger.Error("encode retry job", zap.String("job_id", updated.JobID), zap.Error(err))
		return err
	}
	if err := c.broker.Publish(ctx, updated.Route(), body, updated.Priority); err != nil {
		c.logger.Error("republish retry job", zap.String("job_id", updated.JobID), zap.Error(err))
		return err
	}
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, job Job, cause error) error {
	exhausted := &ingest.ExhaustedRetriesError{
		JobID:   job.JobID,
		Retries: job.RetryCount,
		LastErr: cause.Error(),
	}
	c.logger.Error("job dead lettered",
		zap.String("job_id", job.JobID),
		zap.Int("retry_count", job.RetryCount),
		zap.Error(exhausted),
	)
	body, err := job.Encode()
	if err != nil {
		c.logger.Error("encode dead letter job", zap.String("job_id", job.JobID), zap.Error(err))
		return err
	}
	if err := c.broker.Publish(ctx, job.Route()+DLQSuffix, body, job.Priority); err != nil {
		c.logger.Error("dead letter publish failed", zap.String("job_id", job.JobID), zap.Error(err))
		return err
	}
	metrics.ObserveDeadLetter(job.Route() + DLQSuffix)
	return nil
}

// RouteFor maps a queue name back to its routing key. Queues and routing
// keys share names in this topology.
func RouteFor(queue string) string { return queue }
