package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/moodgrid/blockwell/internal/hash/sha256"
	"github.com/moodgrid/blockwell/internal/ingest"
	"github.com/moodgrid/blockwell/internal/metrics"
)

// maxAssetBytes bounds how much of a remote asset we will buffer.
const maxAssetBytes = 256 << 20

// Store implements ingest.MediaStore on top of an ObjectStore.
type Store struct {
	objects ObjectStore
	client  *http.Client
	hasher  ingest.Hasher
	referer string
	logger  *zap.Logger
}

// NewStore constructs a Store. referer, when non-empty, is sent on every
// asset download; some CDNs refuse requests without it.
func NewStore(objects ObjectStore, client *http.Client, referer string, logger *zap.Logger) *Store {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Store{
		objects: objects,
		client:  client,
		hasher:  sha256.New(),
		referer: referer,
		logger:  logger,
	}
}

// UploadImage fetches an image, stores the original under a
// content-addressed key and uploads bounded thumbnails best effort. It
// returns the original's object key.
func (s *Store) UploadImage(ctx context.Context, url, baseKey string) (string, error) {
	data, err := s.fetch(ctx, url)
	if err != nil {
		return "", err
	}
	ext := extFor(url, ".jpg")
	short := s.hasher.Short(data)
	key := fmt.Sprintf("%s/original_%s%s", baseKey, short, ext)

	stored, err := s.putIfAbsent(ctx, key, data, contentTypeFor(ext))
	if err != nil {
		return "", err
	}
	if stored {
		s.uploadThumbnails(ctx, data, baseKey, short)
	}
	return key, nil
}

// UploadVideo fetches a video and stores it under a content-addressed
// key, returning that key. Poster frames are the caller's concern.
func (s *Store) UploadVideo(ctx context.Context, url, baseKey string) (string, error) {
	data, err := s.fetch(ctx, url)
	if err != nil {
		return "", err
	}
	ext := extFor(url, ".mp4")
	key := fmt.Sprintf("%s/video_%s%s", baseKey, s.hasher.Short(data), ext)
	if _, err := s.putIfAbsent(ctx, key, data, contentTypeFor(ext)); err != nil {
		return "", err
	}
	return key, nil
}

// PresignedURL returns a time-limited download URL for a stored object.
func (s *Store) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.objects.Presign(ctx, key, expiry)
	if err != nil {
		return "", &ingest.StorageError{Op: "presign", Key: key, Err: err}
	}
	return u, nil
}

// List returns up to limit object keys under prefix.
func (s *Store) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	keys, err := s.objects.List(ctx, prefix, limit)
	if err != nil {
		return nil, &ingest.StorageError{Op: "list", Key: prefix, Err: err}
	}
	return keys, nil
}

// putIfAbsent uploads data unless an object already exists under key.
// It reports whether a put happened.
func (s *Store) putIfAbsent(ctx context.Context, key string, data []byte, contentType string) (bool, error) {
	exists, err := s.objects.Head(ctx, key)
	if err != nil {
		return false, &ingest.StorageError{Op: "head", Key: key, Err: err}
	}
	if exists {
		s.logger.Debug("object already stored", zap.String("key", key))
		metrics.ObserveMediaUpload("skipped", 0)
		return false, nil
	}
	if err := s.objects.Put(ctx, key, data, contentType); err != nil {
		metrics.ObserveMediaUpload("error", 0)
		return false, &ingest.StorageError{Op: "put", Key: key, Err: err}
	}
	metrics.ObserveMediaUpload("stored", len(data))
	return true, nil
}

func (s *Store) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ingest.FetchError{URL: url, Err: err}
	}
	if s.referer != "" {
		req.Header.Set("Referer", s.referer)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &ingest.FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &ingest.FetchError{URL: url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		return nil, &ingest.FetchError{URL: url, Err: err}
	}
	return data, nil
}

// uploadThumbnails renders and uploads each thumbnail variant. Failures
// are logged and swallowed; thumbnails never fail an item.
func (s *Store) uploadThumbnails(ctx context.Context, original []byte, baseKey, short string) {
	thumbs, err := renderThumbnails(original)
	if err != nil {
		s.logger.Warn("thumbnail rendering failed", zap.String("base_key", baseKey), zap.Error(err))
		return
	}
	for _, t := range thumbs {
		key := fmt.Sprintf("%s/%s_%s.jpg", baseKey, t.Variant, short)
		if _, err := s.putIfAbsent(ctx, key, t.Data, "image/jpeg"); err != nil {
			s.logger.Warn("thumbnail upload failed", zap.String("key", key), zap.Error(err))
		}
	}
}
