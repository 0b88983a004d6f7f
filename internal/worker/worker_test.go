package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/moodgrid/blockwell/internal/ingest"
)

type fakeRenderer struct {
	mu       sync.Mutex
	html     string
	err      error
	requests []ingest.RenderRequest
}

func (f *fakeRenderer) Render(_ context.Context, req ingest.RenderRequest) (ingest.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return ingest.Page{}, f.err
	}
	return ingest.Page{URL: req.URL, FinalURL: req.URL, StatusCode: 200, HTML: f.html}, nil
}

func (f *fakeRenderer) Close(context.Context) error { return nil }

type fakeSources struct {
	sources map[string]ingest.Source
}

func (f *fakeSources) Get(_ context.Context, id string) (ingest.Source, error) {
	src, ok := f.sources[id]
	if !ok {
		return ingest.Source{}, errors.New("source not found")
	}
	return src, nil
}

func (f *fakeSources) ListDue(context.Context, time.Time) ([]ingest.Source, error) {
	var due []ingest.Source
	for _, src := range f.sources {
		due = append(due, src)
	}
	return due, nil
}

func (f *fakeSources) SetNextRun(context.Context, string, time.Time) error { return nil }

type fakeRuns struct {
	mu       sync.Mutex
	created  []ingest.Run
	finished map[string]ingest.RunStatus
	errs     map[string]string
	counters map[string]ingest.RunCounters
	final    map[string]ingest.RunCounters
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{
		finished: map[string]ingest.RunStatus{},
		errs:     map[string]string{},
		counters: map[string]ingest.RunCounters{},
		final:    map[string]ingest.RunCounters{},
	}
}

func (f *fakeRuns) Create(_ context.Context, sourceID string, kind ingest.RunKind) (ingest.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := ingest.Run{
		ID:       "run-" + sourceID,
		SourceID: sourceID,
		Kind:     kind,
		Status:   ingest.RunStatusRunning,
	}
	f.created = append(f.created, run)
	return run, nil
}

func (f *fakeRuns) IncrementCounters(_ context.Context, runID string, delta ingest.RunCounters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.counters[runID]
	c.ItemsFound += delta.ItemsFound
	c.ItemsUploaded += delta.ItemsUploaded
	c.ItemsUpserted += delta.ItemsUpserted
	c.Errors += delta.Errors
	f.counters[runID] = c
	return nil
}

func (f *fakeRuns) Finish(_ context.Context, runID string, status ingest.RunStatus, errMsg string, counters ingest.RunCounters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished[runID] = status
	f.errs[runID] = errMsg
	f.final[runID] = counters
	return nil
}

type fakeMedia struct {
	mu        sync.Mutex
	imageErr  error
	videoErr  error
	posterErr error
	images    []string
	videos    []string
}

func (f *fakeMedia) UploadImage(_ context.Context, url, baseKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.posterErr != nil && len(f.videos) > 0 {
		return "", f.posterErr
	}
	if f.imageErr != nil {
		return "", f.imageErr
	}
	f.images = append(f.images, url)
	return baseKey + "/original_cafe.jpg", nil
}

func (f *fakeMedia) UploadVideo(_ context.Context, url, baseKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.videoErr != nil {
		return "", f.videoErr
	}
	f.videos = append(f.videos, url)
	return baseKey + "/video_cafe.mp4", nil
}

func (f *fakeMedia) PresignedURL(context.Context, string, time.Duration) (string, error) {
	return "", nil
}

type fakeBlocks struct {
	mu       sync.Mutex
	upserted []ingest.BlockFields
	err      error
}

func (f *fakeBlocks) Upsert(_ context.Context, fields ingest.BlockFields) (ingest.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return ingest.Block{}, f.err
	}
	f.upserted = append(f.upserted, fields)
	return ingest.Block{ID: "blk-1", BlockFields: fields}, nil
}

func (f *fakeBlocks) MergedView(context.Context, string) (ingest.MergedBlock, error) {
	return ingest.MergedBlock{}, errors.New("not implemented")
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "id-" + string(rune('0'+g.n)), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
