// Package queue implements the durable job queue layer: sweep and item jobs,
// retry bookkeeping with exponential backoff, and dead-letter routing.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Exchange is the direct exchange all job queues bind to.
const Exchange = "scrape.direct"

// Queue names. Each has a companion dead-letter queue named "<queue>.dlq".
const (
	QueueSweepTail     = "sweep.tail"
	QueueSweepBackfill = "sweep.backfill"
	QueueItems         = "item.jobs"
)

// DLQSuffix is appended to a queue name to form its dead-letter queue.
const DLQSuffix = ".dlq"

// Message TTLs. Jobs that sit unconsumed for an hour expire; dead letters
// are retained a day for manual inspection or replay.
const (
	MainQueueTTL = time.Hour
	DLQTTL       = 24 * time.Hour
)

// Retry budgets per job kind.
const (
	SweepMaxRetries = 3
	ItemMaxRetries  = 5
)

// JobKind discriminates queue payloads.
type JobKind string

// Job kinds.
const (
	JobKindSweep JobKind = "sweep"
	JobKindItem  JobKind = "item"
)

// Job is the queue message schema shared by producers and consumers.
type Job struct {
	JobID       string     `json:"job_id"`
	Kind        JobKind    `json:"kind"`
	SourceID    string     `json:"source_id"`
	RunID       string     `json:"run_id,omitempty"`
	SweepKind   string     `json:"sweep_kind,omitempty"`
	URL         string     `json:"url,omitempty"`
	ItemURL     string     `json:"item_url,omitempty"`
	Priority    uint8      `json:"priority"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	CreatedAt   time.Time  `json:"created_at"`
	LastError   string     `json:"last_error,omitempty"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`
}

// Encode serializes the job for publishing.
func (j Job) Encode() ([]byte, error) {
	body, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("marshal job %s: %w", j.JobID, err)
	}
	return body, nil
}

// DecodeJob parses a queue message body.
func DecodeJob(body []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return j, nil
}

// Route returns the routing key a job is published under. Only the tail
// and backfill queues are bound; manual sweeps ride the tail queue with
// their kind carried in the body.
func (j Job) Route() string {
	if j.Kind == JobKindSweep {
		if j.SweepKind == "backfill" {
			return QueueSweepBackfill
		}
		return QueueSweepTail
	}
	return QueueItems
}

// Disposition says what to do with a failed job.
type Disposition int

// Failure dispositions.
const (
	DispositionRetry Disposition = iota
	DispositionDeadLetter
)

// Decide applies the retry policy to a failed job: the retry count is
// incremented and the error recorded; once the count reaches the job's
// budget the job routes to the dead-letter queue. The returned job is the
// body to republish, so the count a DLQ inspector sees equals the number of
// failures that actually occurred.
func Decide(job Job, failure error, now time.Time) (Job, Disposition) {
	job.RetryCount++
	job.LastError = failure.Error()
	t := now
	job.LastRetryAt = &t
	if job.RetryCount >= job.MaxRetries {
		return job, DispositionDeadLetter
	}
	return job, DispositionRetry
}

// Backoff returns the wait before requeueing a job that had failed
// retryCount times before this attempt: min(2^retryCount, 60) seconds.
func Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= 6 { // 2^6 already exceeds the cap
		return 60 * time.Second
	}
	return time.Duration(1<<uint(retryCount)) * time.Second
}

// Delivery is one in-flight message handed to a consumer worker.
type Delivery interface {
	Body() []byte
	// Ack marks the message processed and removes it from the queue.
	Ack() error
	// Nack returns the message; with requeue=false the broker routes it to
	// the bound dead-letter queue.
	Nack(requeue bool) error
}

// Broker abstracts the message broker: durable publish by routing key and
// per-queue consume streams with explicit ack/nack.
type Broker interface {
	Publish(ctx context.Context, routingKey string, body []byte, priority uint8) error
	Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error)
	Close() error
}
