// Package render provides the chromedp-backed page renderer. Discovery
// and item processing treat page rendering as a black box behind
// ingest.Renderer.
package render

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/moodgrid/blockwell/internal/ingest"
	"github.com/moodgrid/blockwell/internal/metrics"
)

// ErrDisabled indicates rendering has been disabled via configuration.
var ErrDisabled = errors.New("renderer disabled")

// DefaultTimeout bounds a render when the request carries none.
const DefaultTimeout = 45 * time.Second

// Config controls the renderer.
type Config struct {
	UserAgent      string
	MaxConcurrency int
	DomainQPS      float64
	Headless       bool
}

// Chromedp renders pages with a shared headless browser. Each render
// runs in its own tab; a semaphore bounds simultaneous sessions and a
// per-domain limiter spaces out requests to the same host.
type Chromedp struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	domainQPS       float64
	domainLimiters  sync.Map
	userAgent       string
}

// New creates a renderer and warms up the shared browser.
func New(cfg Config, logger *zap.Logger) (*Chromedp, error) {
	if cfg.MaxConcurrency <= 0 {
		return nil, ErrDisabled
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Chromedp{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxConcurrency),
		domainQPS:       cfg.DomainQPS,
		userAgent:       cfg.UserAgent,
	}, nil
}

// Close tears down the browser and allocator contexts.
func (r *Chromedp) Close(_ context.Context) error {
	if r == nil {
		return nil
	}
	r.browserCancel()
	r.allocatorCancel()
	return nil
}

// Render navigates to the request URL, optionally runs the request
// script and waits for the wait expression, then snapshots the DOM.
func (r *Chromedp) Render(ctx context.Context, req ingest.RenderRequest) (ingest.Page, error) {
	if r == nil {
		return ingest.Page{}, ErrDisabled
	}

	release, err := r.acquireSlot(ctx)
	if err != nil {
		return ingest.Page{}, err
	}
	defer release()

	if waitErr := r.waitDomainBudget(ctx, req.URL); waitErr != nil {
		return ingest.Page{}, &ingest.FetchError{URL: req.URL, Err: waitErr}
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	taskCtx, cancelTask := context.WithTimeout(tabCtx, timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	r.recordResponse(tabCtx, meta)

	start := time.Now()
	html, err := r.run(taskCtx, req)
	if err != nil {
		return ingest.Page{}, &ingest.FetchError{URL: req.URL, Err: err}
	}
	metrics.ObserveRender(hostOf(req.URL), time.Since(start))

	return ingest.Page{
		URL:        req.URL,
		FinalURL:   meta.finalURL(req.URL),
		StatusCode: meta.statusCode,
		HTML:       html,
	}, nil
}

func (r *Chromedp) run(ctx context.Context, req ingest.RenderRequest) (string, error) {
	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(r.userAgent),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if req.Script != "" {
		tasks = append(tasks, chromedp.Evaluate(req.Script, nil,
			func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
				return p.WithAwaitPromise(true)
			}))
	}
	if req.WaitExpr != "" {
		tasks = append(tasks, chromedp.Poll(req.WaitExpr, nil))
	}
	tasks = append(tasks, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func (r *Chromedp) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case r.sem <- struct{}{}:
		return func() { <-r.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

func (r *Chromedp) waitDomainBudget(ctx context.Context, rawURL string) error {
	if r.domainQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := r.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(r.domainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

// hostOf labels the render duration metric. Unparseable URLs share one
// bucket so label cardinality stays bounded.
func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	return strings.ToLower(parsed.Host)
}

type responseMeta struct {
	once       sync.Once
	statusCode int
	url        string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) finalURL(raw string) string {
	if m.url == "" {
		return raw
	}
	return m.url
}

func (r *Chromedp) recordResponse(tabCtx context.Context, meta *responseMeta) {
	chromedp.ListenTarget(tabCtx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		meta.once.Do(func() {
			meta.statusCode = int(resp.Response.Status)
			meta.url = resp.Response.URL
		})
	})
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
