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
)

// ItemConfig tunes item processing.
type ItemConfig struct {
	RenderTimeout time.Duration
}

// ItemHandler processes item jobs: render the item page, extract its
// metadata, upload the media and upsert the block. Idempotency comes
// solely from the (source_id, external_id) upsert key; reprocessing a
// job overwrites the same row and re-derives the same object keys.
type ItemHandler struct {
	renderer ingest.Renderer
	media    ingest.MediaStore
	blocks   ingest.BlockStore
	runs     ingest.RunStore
	cfg      ItemConfig
	logger   *zap.Logger
}

// NewItemHandler constructs an ItemHandler.
func NewItemHandler(
	renderer ingest.Renderer,
	media ingest.MediaStore,
	blocks ingest.BlockStore,
	runs ingest.RunStore,
	cfg ItemConfig,
	logger *zap.Logger,
) *ItemHandler {
	return &ItemHandler{
		renderer: renderer,
		media:    media,
		blocks:   blocks,
		runs:     runs,
		cfg:      cfg,
		logger:   logger,
	}
}

// Handle processes one item job. Skips ack the job and count an error
// on the run; fatal outcomes surface the error to the retry policy.
func (h *ItemHandler) Handle(ctx context.Context, job queue.Job) error {
	outcome, err := h.process(ctx, job)
	switch outcome.Kind {
	case ingest.OutcomeOK:
		metrics.ObserveItem("ok")
		h.bump(ctx, job, ingest.RunCounters{ItemsUploaded: 1, ItemsUpserted: 1})
		return nil
	case ingest.OutcomeSkip:
		metrics.ObserveItem("skip")
		h.logger.Info("item skipped",
			zap.String("item_url", job.ItemURL),
			zap.String("reason", outcome.Reason),
		)
		h.bump(ctx, job, ingest.RunCounters{Errors: 1})
		return nil
	default:
		metrics.ObserveItem("error")
		h.bump(ctx, job, ingest.RunCounters{Errors: 1})
		return err
	}
}

func (h *ItemHandler) process(ctx context.Context, job queue.Job) (ingest.ItemOutcome, error) {
	externalID := discover.ItemIDFromURL(job.ItemURL)
	if externalID == "" {
		return ingest.ItemOutcome{Kind: ingest.OutcomeSkip, Reason: "no item id in url"}, nil
	}

	page, err := h.renderer.Render(ctx, ingest.RenderRequest{
		URL:      job.ItemURL,
		Script:   itemCollectScript,
		WaitExpr: itemWaitExpr,
		Timeout:  h.cfg.RenderTimeout,
	})
	if err != nil {
		return ingest.ItemOutcome{Kind: ingest.OutcomeFatal, Reason: "render failed"},
			fmt.Errorf("render item %s: %w", job.ItemURL, err)
	}

	item, ok := ParseItemPage(page, externalID)
	if !ok || item.MediaURL == "" {
		return ingest.ItemOutcome{Kind: ingest.OutcomeSkip, Reason: "no media found"}, nil
	}

	baseKey := fmt.Sprintf("%s/%s", job.SourceID, externalID)
	fields, err := h.storeMedia(ctx, item, baseKey)
	if err != nil {
		return ingest.ItemOutcome{Kind: ingest.OutcomeFatal, Reason: "media upload failed"}, err
	}
	fields.SourceID = job.SourceID

	if _, err := h.blocks.Upsert(ctx, fields); err != nil {
		return ingest.ItemOutcome{Kind: ingest.OutcomeFatal, Reason: "upsert failed"}, err
	}
	return ingest.ItemOutcome{Kind: ingest.OutcomeOK}, nil
}

// storeMedia uploads the item's assets and returns the block fields.
// Poster uploads degrade: a block can exist without a poster key, never
// without its primary media key.
func (h *ItemHandler) storeMedia(ctx context.Context, item ingest.ScrapedItem, baseKey string) (ingest.BlockFields, error) {
	fields := ingest.BlockFields{
		ExternalID:    item.ExternalID,
		Title:         item.OGTitle,
		Description:   item.OGDescription,
		Tags:          item.Tags,
		MediaType:     item.MediaType,
		URL:           item.PageURL,
		SourceAPIURL:  item.SourceAPIURL,
		OriginalURL:   item.MediaURL,
		Sidebar:       item.Sidebar,
		OGTitle:       item.OGTitle,
		OGDescription: item.OGDescription,
		OGImageURL:    item.OGImageURL,
		OGURL:         item.OGURL,
	}

	if item.MediaType == ingest.MediaTypeVideo {
		key, err := h.media.UploadVideo(ctx, item.MediaURL, baseKey)
		if err != nil {
			return ingest.BlockFields{}, fmt.Errorf("upload video %s: %w", item.MediaURL, err)
		}
		fields.MediaKey = key
		if item.PosterURL != "" {
			posterKey, err := h.media.UploadImage(ctx, item.PosterURL, baseKey)
			if err != nil {
				h.logger.Warn("poster upload failed",
					zap.String("poster_url", item.PosterURL),
					zap.Error(err),
				)
			} else {
				fields.VideoPosterKey = posterKey
			}
		}
		return fields, nil
	}

	key, err := h.media.UploadImage(ctx, item.MediaURL, baseKey)
	if err != nil {
		return ingest.BlockFields{}, fmt.Errorf("upload image %s: %w", item.MediaURL, err)
	}
	fields.MediaKey = key
	return fields, nil
}

// bump updates the originating run's counters, best effort. Items from
// ad-hoc enqueues carry no run id.
func (h *ItemHandler) bump(ctx context.Context, job queue.Job, delta ingest.RunCounters) {
	if job.RunID == "" {
		return
	}
	if err := h.runs.IncrementCounters(ctx, job.RunID, delta); err != nil {
		h.logger.Warn("increment run counters failed",
			zap.String("run_id", job.RunID),
			zap.Error(err),
		)
	}
}
