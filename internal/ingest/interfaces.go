package ingest

import (
	"context"
	"time"
)

// Renderer drives a browser (or equivalent) against a URL and returns the
// resulting DOM snapshot. Discovery and item processing depend only on this
// capability, not on a specific automation product.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (Page, error)
	Close(ctx context.Context) error
}

// SeenSet is a per-crawl-job persisted set of already-processed item
// identifiers. It is a discovery-dedup aid only; persistence idempotency is
// guaranteed by the block upsert key.
type SeenSet interface {
	Contains(id string) bool
	Add(id string) error
	Flush() error
}

// MediaStore uploads binary assets content-addressed and idempotently.
type MediaStore interface {
	UploadImage(ctx context.Context, url, baseKey string) (string, error)
	UploadVideo(ctx context.Context, url, baseKey string) (string, error)
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// BlockStore persists raw ingestion facts.
type BlockStore interface {
	Upsert(ctx context.Context, fields BlockFields) (Block, error)
	MergedView(ctx context.Context, blockID string) (MergedBlock, error)
}

// RunStore manages run bookkeeping rows.
type RunStore interface {
	Create(ctx context.Context, sourceID string, kind RunKind) (Run, error)
	IncrementCounters(ctx context.Context, runID string, delta RunCounters) error
	Finish(ctx context.Context, runID string, status RunStatus, errMsg string, counters RunCounters) error
}

// SourceStore reads and updates configured sources.
type SourceStore interface {
	Get(ctx context.Context, id string) (Source, error)
	ListDue(ctx context.Context, now time.Time) ([]Source, error)
	SetNextRun(ctx context.Context, id string, next time.Time) error
}

// Hasher computes the truncated digests embedded in content-addressed
// object keys.
type Hasher interface {
	Short(data []byte) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
