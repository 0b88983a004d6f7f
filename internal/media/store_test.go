package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/moodgrid/blockwell/internal/ingest"
)

type fakeObjects struct {
	objects map[string][]byte
	puts    int
	headErr error
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}}
}

func (f *fakeObjects) Head(_ context.Context, key string) (bool, error) {
	if f.headErr != nil {
		return false, f.headErr
	}
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeObjects) Put(_ context.Context, key string, data []byte, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.puts++
	f.objects[key] = data
	return nil
}

func (f *fakeObjects) Presign(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func (f *fakeObjects) List(_ context.Context, prefix string, limit int) ([]string, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
		if limit > 0 && len(keys) >= limit {
			break
		}
	}
	return keys, nil
}

// pngBytes renders a small decodable test image.
func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func assetServer(t *testing.T, body []byte, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestUploadImageIsIdempotent(t *testing.T) {
	t.Parallel()

	img := pngBytes(t, 400, 300)
	srv := assetServer(t, img, http.StatusOK)
	objects := newFakeObjects()
	store := NewStore(objects, srv.Client(), "", zap.NewNop())

	key, err := store.UploadImage(context.Background(), srv.URL+"/asset.png", "blocks/abc12")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "blocks/abc12/original_"))
	assert.True(t, strings.HasSuffix(key, ".png"))

	// Original plus four thumbnail size classes.
	assert.Equal(t, 5, objects.puts)

	again, err := store.UploadImage(context.Background(), srv.URL+"/asset.png", "blocks/abc12")
	require.NoError(t, err)
	assert.Equal(t, key, again)
	assert.Equal(t, 5, objects.puts, "identical bytes must not be re-uploaded")
}

func TestUploadImageThumbnailFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	srv := assetServer(t, []byte("not an image"), http.StatusOK)
	objects := newFakeObjects()
	store := NewStore(objects, srv.Client(), "", zap.NewNop())

	key, err := store.UploadImage(context.Background(), srv.URL+"/asset.jpg", "blocks/abc12")
	require.NoError(t, err)
	assert.Equal(t, 1, objects.puts, "only the original should be stored")
	assert.Contains(t, objects.objects, key)
}

func TestUploadVideoUsesFallbackExtension(t *testing.T) {
	t.Parallel()

	srv := assetServer(t, []byte("video bytes"), http.StatusOK)
	objects := newFakeObjects()
	store := NewStore(objects, srv.Client(), "", zap.NewNop())

	key, err := store.UploadVideo(context.Background(), srv.URL+"/stream?id=9", "blocks/abc12")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "blocks/abc12/video_"))
	assert.True(t, strings.HasSuffix(key, ".mp4"))
	assert.Equal(t, 1, objects.puts)
}

func TestUploadSendsReferer(t *testing.T) {
	t.Parallel()

	var gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		_, _ = w.Write([]byte("video bytes"))
	}))
	t.Cleanup(srv.Close)

	store := NewStore(newFakeObjects(), srv.Client(), "https://example.com/", zap.NewNop())
	_, err := store.UploadVideo(context.Background(), srv.URL+"/a.mp4", "blocks/abc12")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", gotReferer)
}

func TestUploadFetchFailureIsFetchError(t *testing.T) {
	t.Parallel()

	srv := assetServer(t, nil, http.StatusForbidden)
	store := NewStore(newFakeObjects(), srv.Client(), "", zap.NewNop())

	_, err := store.UploadImage(context.Background(), srv.URL+"/a.jpg", "blocks/abc12")
	var fe *ingest.FetchError
	require.ErrorAs(t, err, &fe)
	assert.True(t, ingest.IsRetryable(err))
}

func TestUploadStorageFailureIsStorageError(t *testing.T) {
	t.Parallel()

	srv := assetServer(t, []byte("video bytes"), http.StatusOK)
	objects := newFakeObjects()
	objects.headErr = errors.New("connection refused")
	store := NewStore(objects, srv.Client(), "", zap.NewNop())

	_, err := store.UploadVideo(context.Background(), srv.URL+"/a.mp4", "blocks/abc12")
	var se *ingest.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "head", se.Op)
}

func TestExtFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		url      string
		fallback string
		want     string
	}{
		{url: "https://cdn.example/a.jpg", fallback: ".jpg", want: ".jpg"},
		{url: "https://cdn.example/a.JPEG", fallback: ".jpg", want: ".jpg"},
		{url: "https://cdn.example/a.png?w=100", fallback: ".jpg", want: ".png"},
		{url: "https://cdn.example/a.webp#frag", fallback: ".jpg", want: ".webp"},
		{url: "https://cdn.example/a.webm", fallback: ".mp4", want: ".webm"},
		{url: "https://cdn.example/stream", fallback: ".mp4", want: ".mp4"},
		{url: "https://cdn.example/a.tiff", fallback: ".jpg", want: ".jpg"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, extFor(tc.url, tc.fallback), tc.url)
	}
}

func TestPresignedURL(t *testing.T) {
	t.Parallel()

	store := NewStore(newFakeObjects(), nil, "", zap.NewNop())
	u, err := store.PresignedURL(context.Background(), "blocks/abc12/original_x.jpg", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/blocks/abc12/original_x.jpg", u)
}
