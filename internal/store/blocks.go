package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moodgrid/blockwell/internal/ingest"
)

// BlockStore implements ingest.BlockStore.
type BlockStore struct {
	db  DB
	ids ingest.IDGenerator
}

const upsertBlockSQL = `
INSERT INTO blocks (
	id, source_id, external_id, title, description, tags,
	media_key, media_type, video_poster_key, url, source_api_url,
	original_url, sidebar, og_title, og_description, og_image_url, og_url
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
)
ON CONFLICT (source_id, external_id) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	tags = EXCLUDED.tags,
	media_key = EXCLUDED.media_key,
	media_type = EXCLUDED.media_type,
	video_poster_key = EXCLUDED.video_poster_key,
	url = EXCLUDED.url,
	source_api_url = EXCLUDED.source_api_url,
	original_url = EXCLUDED.original_url,
	sidebar = EXCLUDED.sidebar,
	og_title = EXCLUDED.og_title,
	og_description = EXCLUDED.og_description,
	og_image_url = EXCLUDED.og_image_url,
	og_url = EXCLUDED.og_url,
	updated_at = now()
RETURNING id, created_at, updated_at`

// Upsert writes the raw facts for one item, keyed by (source_id,
// external_id). Re-ingesting the same item overwrites the raw columns
// and never touches block_overrides.
func (s *BlockStore) Upsert(ctx context.Context, fields ingest.BlockFields) (ingest.Block, error) {
	if fields.SourceID == "" || fields.ExternalID == "" {
		return ingest.Block{}, fmt.Errorf("upsert block: source_id and external_id are required")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return ingest.Block{}, fmt.Errorf("block id: %w", err)
	}
	sidebar, err := sidebarJSON(fields.Sidebar)
	if err != nil {
		return ingest.Block{}, err
	}

	block := ingest.Block{BlockFields: fields}
	err = s.db.QueryRow(ctx, upsertBlockSQL,
		id,
		fields.SourceID,
		fields.ExternalID,
		fields.Title,
		fields.Description,
		tagsOrEmpty(fields.Tags),
		fields.MediaKey,
		string(fields.MediaType),
		fields.VideoPosterKey,
		fields.URL,
		fields.SourceAPIURL,
		fields.OriginalURL,
		sidebar,
		fields.OGTitle,
		fields.OGDescription,
		fields.OGImageURL,
		fields.OGURL,
	).Scan(&block.ID, &block.CreatedAt, &block.UpdatedAt)
	if err != nil {
		return ingest.Block{}, fmt.Errorf("upsert block %s/%s: %w", fields.SourceID, fields.ExternalID, err)
	}
	return block, nil
}

const mergedViewSQL = `
SELECT
	b.id, b.source_id, b.external_id,
	COALESCE(o.title, b.title),
	COALESCE(o.description, b.description),
	COALESCE(o.tags, b.tags),
	b.media_key, b.media_type, b.video_poster_key,
	b.url, b.source_api_url, b.original_url, b.sidebar,
	b.og_title, b.og_description, b.og_image_url, b.og_url,
	b.created_at, b.updated_at,
	o.block_id IS NOT NULL,
	COALESCE(o.status, '')
FROM blocks b
LEFT JOIN block_overrides o ON o.block_id = b.id
WHERE b.id = $1`

// MergedView returns the block with its editorial overlay applied field
// by field. Blocks without an override row come back raw.
func (s *BlockStore) MergedView(ctx context.Context, blockID string) (ingest.MergedBlock, error) {
	var (
		m         ingest.MergedBlock
		mediaType string
		sidebar   []byte
	)
	err := s.db.QueryRow(ctx, mergedViewSQL, blockID).Scan(
		&m.ID,
		&m.SourceID,
		&m.ExternalID,
		&m.Title,
		&m.Description,
		&m.Tags,
		&m.MediaKey,
		&mediaType,
		&m.VideoPosterKey,
		&m.URL,
		&m.SourceAPIURL,
		&m.OriginalURL,
		&sidebar,
		&m.OGTitle,
		&m.OGDescription,
		&m.OGImageURL,
		&m.OGURL,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.HasOverrides,
		&m.OverrideStatus,
	)
	if err != nil {
		if isNoRows(err) {
			return ingest.MergedBlock{}, ErrNotFound
		}
		return ingest.MergedBlock{}, fmt.Errorf("merged view %s: %w", blockID, err)
	}
	m.MediaType = ingest.MediaType(mediaType)
	if len(sidebar) > 0 {
		if err := json.Unmarshal(sidebar, &m.Sidebar); err != nil {
			return ingest.MergedBlock{}, fmt.Errorf("decode sidebar for %s: %w", blockID, err)
		}
	}
	return m, nil
}

func sidebarJSON(sidebar map[string]any) ([]byte, error) {
	if sidebar == nil {
		return []byte(`{}`), nil
	}
	data, err := json.Marshal(sidebar)
	if err != nil {
		return nil, fmt.Errorf("encode sidebar: %w", err)
	}
	return data, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
