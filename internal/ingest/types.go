// Package ingest defines the core types and interfaces shared by the
// ingestion pipeline: discovery, queue consumers, media uploads and
// persistence.
package ingest

import (
	"time"
)

// SourceKind classifies what a configured source points at.
type SourceKind string

// Source kinds understood by the scheduler and sweep consumers.
const (
	SourceKindHome     SourceKind = "home"
	SourceKindTrending SourceKind = "trending"
	SourceKindListing  SourceKind = "listing"
)

// Source is a configured origin to crawl.
type Source struct {
	ID            string
	Name          string
	Kind          SourceKind
	URL           string
	Enabled       bool
	Status        string
	SweepInterval time.Duration
	NextRunAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RunKind distinguishes sweep executions.
type RunKind string

// Run kinds persisted on run rows.
const (
	RunKindTail     RunKind = "tail"
	RunKindBackfill RunKind = "backfill"
	RunKindManual   RunKind = "manual"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run status values. A run is terminal once FinishedAt is set.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusError     RunStatus = "error"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunCounters tracks per-run progress. Counters only ever increase.
type RunCounters struct {
	ItemsFound    int `json:"items_found"`
	ItemsUploaded int `json:"items_uploaded"`
	ItemsUpserted int `json:"items_upserted"`
	Errors        int `json:"errors"`
}

// Run records one execution of a sweep or manual scrape against a source.
type Run struct {
	ID         string
	SourceID   string
	Kind       RunKind
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	Counters   RunCounters
	Error      string
}

// MediaType of a scraped item's primary asset.
type MediaType string

// Supported media types.
const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// ItemRef identifies one discovered item on a listing page.
type ItemRef struct {
	ExternalID string
	URL        string
}

// ScrapedItem is the raw extraction result for a single item page.
type ScrapedItem struct {
	ExternalID     string
	MediaType      MediaType
	MediaURL       string
	PosterURL      string
	PageURL        string
	OGTitle        string
	OGDescription  string
	OGImageURL     string
	OGURL          string
	Tags           []string
	SourceAPIURL   string
	SourceEntryURL string
	Sidebar        map[string]any
}

// BlockFields carries the raw facts upserted for one item. The upsert is
// keyed by (SourceID, ExternalID).
type BlockFields struct {
	SourceID       string
	ExternalID     string
	Title          string
	Description    string
	Tags           []string
	MediaKey       string
	MediaType      MediaType
	VideoPosterKey string
	URL            string
	SourceAPIURL   string
	OriginalURL    string
	Sidebar        map[string]any
	OGTitle        string
	OGDescription  string
	OGImageURL     string
	OGURL          string
}

// Block is a persisted raw ingestion record.
type Block struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	BlockFields
}

// MergedBlock is the read-only projection of a block with its editorial
// overlay applied field by field.
type MergedBlock struct {
	Block
	HasOverrides   bool
	OverrideStatus string
}

// Page is the rendered snapshot returned by a Renderer.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
}

// RenderRequest captures everything needed to render a page.
type RenderRequest struct {
	URL      string
	Script   string
	WaitExpr string
	Timeout  time.Duration
}

// OutcomeKind classifies the result of processing one item.
type OutcomeKind int

// Item processing outcomes. Skip counts an error and moves on; Fatal aborts
// the enclosing run.
const (
	OutcomeOK OutcomeKind = iota
	OutcomeSkip
	OutcomeFatal
)

// ItemOutcome is the typed result of item processing, consumed by the run
// loop to decide counter updates versus abort.
type ItemOutcome struct {
	Kind   OutcomeKind
	Reason string
}
