package discover

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/moodgrid/blockwell/internal/ingest"
)

// Job describes one discovery cycle against a listing URL.
type Job struct {
	ListingURL string
	// ItemBaseURL is the origin item pages hang off; derived from ListingURL
	// when empty.
	ItemBaseURL string
	MaxItems    int
	OldestFirst bool
	Scroll      ScrollPolicy
	Timeout     time.Duration
}

// Engine drives a renderer against listing pages and produces ordered,
// de-duplicated item refs. One engine instance serves one crawl job and owns
// that job's seen set; separate jobs get separate engines so their state
// never cross-contaminates.
type Engine struct {
	renderer   ingest.Renderer
	seen       ingest.SeenSet
	strategies []Strategy
	logger     *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(renderer ingest.Renderer, seen ingest.SeenSet, logger *zap.Logger) *Engine {
	return &Engine{
		renderer:   renderer,
		seen:       seen,
		strategies: DefaultStrategies(),
		logger:     logger,
	}
}

// Discover renders the listing page, extracts item identifiers and returns
// at most job.MaxItems refs that are not in the seen set, in first-discovery
// order. Excess discoveries are simply not emitted; the next cycle picks
// them up.
func (e *Engine) Discover(ctx context.Context, job Job) ([]ingest.ItemRef, error) {
	req := ingest.RenderRequest{
		URL:      job.ListingURL,
		WaitExpr: ListingWaitExpr,
		Timeout:  job.Timeout,
	}
	if job.Scroll.Enabled() {
		req.Script = ScrollScript(job.Scroll)
	}
	page, err := e.renderer.Render(ctx, req)
	if err != nil {
		return nil, &ingest.FetchError{URL: job.ListingURL, Err: err}
	}

	ids := ExtractIDs(page.HTML, e.strategies)
	e.logger.Debug("listing extracted",
		zap.String("url", job.ListingURL),
		zap.Int("discovered", len(ids)),
	)
	if job.OldestFirst {
		reverse(ids)
	}

	base := job.ItemBaseURL
	if base == "" {
		base, err = originOf(job.ListingURL)
		if err != nil {
			return nil, fmt.Errorf("derive item base url: %w", err)
		}
	}

	refs := make([]ingest.ItemRef, 0, len(ids))
	for _, id := range ids {
		if job.MaxItems > 0 && len(refs) >= job.MaxItems {
			break
		}
		if e.seen != nil && e.seen.Contains(id) {
			continue
		}
		refs = append(refs, ingest.ItemRef{
			ExternalID: id,
			URL:        fmt.Sprintf("%s/i/%s/", strings.TrimRight(base, "/"), id),
		})
	}
	return refs, nil
}

// MarkSeen records that an item was handed downstream. The seen set flushes
// itself periodically; CloseCycle performs the final flush.
func (e *Engine) MarkSeen(id string) error {
	if e.seen == nil {
		return nil
	}
	return e.seen.Add(id)
}

// CloseCycle flushes the seen set at the end of a discovery cycle.
func (e *Engine) CloseCycle() error {
	if e.seen == nil {
		return nil
	}
	return e.seen.Flush()
}

func originOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("listing url %q has no origin", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

func reverse(ids []string) {
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
}

var unsafeSlug = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// JobSlug derives a filesystem-safe directory name for a listing URL, used
// to isolate each job's download root and seen-set state.
func JobSlug(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "job"
	}
	path := strings.Trim(u.Path, "/")
	slug := u.Host
	if path != "" {
		slug += "-" + strings.ReplaceAll(path, "/", "-")
	}
	slug = strings.Trim(unsafeSlug.ReplaceAllString(slug, "_"), "._")
	if slug == "" {
		return "job"
	}
	return slug
}

// StatePath returns the seen-set checkpoint path for a job rooted at dir.
func StatePath(root, slug string) string {
	return filepath.Join(root, slug, "_state", "seen.json")
}
