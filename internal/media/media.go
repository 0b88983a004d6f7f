// Package media implements the content-addressed media store: it fetches
// remote assets, derives object keys from their bytes and uploads them
// idempotently to an S3-compatible object store.
package media

import (
	"context"
	"path"
	"strings"
	"time"
)

// ObjectStore abstracts the blob backend. This abstraction keeps the
// upload pipeline independent of a specific storage product and lets
// tests substitute a fake.
type ObjectStore interface {
	// Head reports whether an object already exists under key.
	Head(ctx context.Context, key string) (bool, error)
	// Put uploads data under key with the given content type.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Presign returns a time-limited GET URL for key.
	Presign(ctx context.Context, key string, expiry time.Duration) (string, error)
	// List returns up to limit object keys under prefix.
	List(ctx context.Context, prefix string, limit int) ([]string, error)
}

// Extensions accepted in object keys; anything else falls back to the
// media type's default.
var knownExtensions = map[string]string{
	".jpg":  ".jpg",
	".jpeg": ".jpg",
	".png":  ".png",
	".gif":  ".gif",
	".webp": ".webp",
	".mp4":  ".mp4",
	".webm": ".webm",
}

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

// extFor derives the key extension from the URL path, falling back to
// fallback when the URL carries no recognizable extension.
func extFor(rawURL, fallback string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if mapped, ok := knownExtensions[ext]; ok {
		return mapped
	}
	return fallback
}

func contentTypeFor(ext string) string {
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
