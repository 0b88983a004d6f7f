package discover

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/moodgrid/blockwell/internal/ingest"
)

type fakeRenderer struct {
	html    string
	err     error
	lastReq ingest.RenderRequest
}

func (f *fakeRenderer) Render(_ context.Context, req ingest.RenderRequest) (ingest.Page, error) {
	f.lastReq = req
	if f.err != nil {
		return ingest.Page{}, f.err
	}
	return ingest.Page{URL: req.URL, FinalURL: req.URL, StatusCode: 200, HTML: f.html}, nil
}

func (f *fakeRenderer) Close(context.Context) error { return nil }

type fakeSeen struct {
	ids     map[string]struct{}
	flushes int
}

func newFakeSeen(ids ...string) *fakeSeen {
	s := &fakeSeen{ids: make(map[string]struct{})}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s *fakeSeen) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *fakeSeen) Add(id string) error {
	s.ids[id] = struct{}{}
	return nil
}

func (s *fakeSeen) Flush() error {
	s.flushes++
	return nil
}

func TestDiscover_EmitsRefsInFirstSeenOrder(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{html: `
		<a href="/i/aaaaa/">a</a>
		<a href="/i/bbbbb/">b</a>
		<a href="/i/aaaaa/">a again</a>
		<a href="/i/ccccc/">c</a>`}
	e := NewEngine(r, newFakeSeen(), zap.NewNop())

	refs, err := e.Discover(context.Background(), Job{ListingURL: "https://example.com/pop"})
	require.NoError(t, err)
	require.Equal(t, []ingest.ItemRef{
		{ExternalID: "aaaaa", URL: "https://example.com/i/aaaaa/"},
		{ExternalID: "bbbbb", URL: "https://example.com/i/bbbbb/"},
		{ExternalID: "ccccc", URL: "https://example.com/i/ccccc/"},
	}, refs)
}

func TestDiscover_SkipsSeenIDs(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{html: `<a href="/i/aaaaa/"></a><a href="/i/bbbbb/"></a>`}
	e := NewEngine(r, newFakeSeen("aaaaa"), zap.NewNop())

	refs, err := e.Discover(context.Background(), Job{ListingURL: "https://example.com/"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, "bbbbb", refs[0].ExternalID)
}

func TestDiscover_MaxItemsCapsEmissionNotDiscovery(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{html: `
		<a href="/i/aaaaa/"></a><a href="/i/bbbbb/"></a>
		<a href="/i/ccccc/"></a><a href="/i/ddddd/"></a>`}
	seen := newFakeSeen()
	e := NewEngine(r, seen, zap.NewNop())

	refs, err := e.Discover(context.Background(), Job{
		ListingURL: "https://example.com/",
		MaxItems:   2,
	})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.Equal(t, "aaaaa", refs[0].ExternalID)
	require.Equal(t, "bbbbb", refs[1].ExternalID)

	// Undelivered items were not marked seen; the next cycle re-finds them.
	require.False(t, seen.Contains("ccccc"))
	require.False(t, seen.Contains("ddddd"))
}

func TestDiscover_OldestFirstReversesOrder(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{html: `<a href="/i/aaaaa/"></a><a href="/i/bbbbb/"></a>`}
	e := NewEngine(r, newFakeSeen(), zap.NewNop())

	refs, err := e.Discover(context.Background(), Job{
		ListingURL:  "https://example.com/",
		OldestFirst: true,
	})
	require.NoError(t, err)
	require.Equal(t, "bbbbb", refs[0].ExternalID)
	require.Equal(t, "aaaaa", refs[1].ExternalID)
}

func TestDiscover_ScrollPolicyInjectsScript(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{html: ""}
	e := NewEngine(r, newFakeSeen(), zap.NewNop())

	_, err := e.Discover(context.Background(), Job{
		ListingURL: "https://example.com/",
		Scroll:     ScrollPolicy{Steps: 2, WaitMS: 500},
	})
	require.NoError(t, err)
	require.Contains(t, r.lastReq.Script, "window.scrollTo")
	require.Equal(t, ListingWaitExpr, r.lastReq.WaitExpr)
}

func TestDiscover_RenderFailureIsFetchError(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{err: errors.New("net down")}
	e := NewEngine(r, newFakeSeen(), zap.NewNop())

	_, err := e.Discover(context.Background(), Job{ListingURL: "https://example.com/"})
	var fe *ingest.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "https://example.com/", fe.URL)
}

func TestDiscover_ItemBaseURLOverride(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{html: `<a href="/i/aaaaa/"></a>`}
	e := NewEngine(r, newFakeSeen(), zap.NewNop())

	refs, err := e.Discover(context.Background(), Job{
		ListingURL:  "https://cdn.example.com/boards/x",
		ItemBaseURL: "https://example.com",
	})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/i/aaaaa/", refs[0].URL)
}

func TestJobSlug(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", JobSlug("https://example.com/"))
	require.Equal(t, "example.com-pop", JobSlug("https://example.com/pop"))
	require.Equal(t, "example.com-u-jane-boards", JobSlug("https://example.com/u/jane/boards"))
	require.Equal(t, "job", JobSlug("://broken"))
}

func TestMarkSeenAndCloseCycle(t *testing.T) {
	t.Parallel()

	seen := newFakeSeen()
	e := NewEngine(&fakeRenderer{}, seen, zap.NewNop())
	require.NoError(t, e.MarkSeen("aaaaa"))
	require.True(t, seen.Contains("aaaaa"))
	require.NoError(t, e.CloseCycle())
	require.Equal(t, 1, seen.flushes)
}
