package worker

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/moodgrid/blockwell/internal/ingest"
)

// itemCollectScript runs inside a rendered item page and stashes the
// extracted metadata as a URL-encoded JSON payload on the root element,
// where the DOM snapshot carries it back to the worker.
const itemCollectScript = `
(() => {
  const meta = (sel) => {
    const el = document.querySelector(sel);
    return el ? (el.getAttribute('content') || '') : '';
  };
  const payload = {
    title: meta('meta[property="og:title"]') || document.title || '',
    description: meta('meta[property="og:description"]') || '',
    og_image: meta('meta[property="og:image:secure_url"]') ||
      meta('meta[property="og:image"]') ||
      meta('meta[name="twitter:image"]') || '',
    og_url: meta('meta[property="og:url"]') || location.href,
    media_type: '',
    media_url: '',
    poster_url: '',
    tags: [],
    sidebar: {},
    source_api_url: ''
  };
  const video = document.querySelector('video source[src], video[src]');
  if (video) {
    payload.media_type = 'video';
    payload.media_url = video.getAttribute('src') || '';
    const v = video.closest('video') || video;
    payload.poster_url = v.getAttribute('poster') || payload.og_image;
  } else {
    const img = document.querySelector('main img[src], article img[src], img[src]');
    payload.media_type = 'image';
    payload.media_url = (img && img.getAttribute('src')) || payload.og_image;
  }
  for (const el of document.querySelectorAll('[data-tag], a[href*="/tag/"]')) {
    const tag = (el.dataset.tag || el.textContent || '').trim();
    if (tag && !payload.tags.includes(tag)) payload.tags.push(tag);
  }
  for (const el of document.querySelectorAll('[data-sidebar-key]')) {
    payload.sidebar[el.dataset.sidebarKey] = (el.textContent || '').trim();
  }
  const api = document.querySelector('link[rel="alternate"][type="application/json"]');
  if (api) payload.source_api_url = api.getAttribute('href') || '';
  document.documentElement.setAttribute('data-bw-item',
    encodeURIComponent(JSON.stringify(payload)));
  return true;
})()`

// itemWaitExpr holds the render until the collect script has stashed
// its payload.
const itemWaitExpr = `document.documentElement.hasAttribute('data-bw-item')`

var itemPayloadRegexp = regexp.MustCompile(`data-bw-item=['"]([^'"]+)['"]`)

// itemPayload mirrors the JSON shape produced by itemCollectScript.
type itemPayload struct {
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	OGImage      string         `json:"og_image"`
	OGURL        string         `json:"og_url"`
	MediaType    string         `json:"media_type"`
	MediaURL     string         `json:"media_url"`
	PosterURL    string         `json:"poster_url"`
	Tags         []string       `json:"tags"`
	Sidebar      map[string]any `json:"sidebar"`
	SourceAPIURL string         `json:"source_api_url"`
}

// ParseItemPage extracts a ScrapedItem from a rendered item page. The
// collect payload wins; pages rendered without it fall back to OG meta
// tags.
func ParseItemPage(page ingest.Page, externalID string) (ingest.ScrapedItem, bool) {
	if m := itemPayloadRegexp.FindStringSubmatch(page.HTML); m != nil {
		decoded, err := url.QueryUnescape(m[1])
		if err == nil {
			var p itemPayload
			if err := json.Unmarshal([]byte(decoded), &p); err == nil {
				return itemFromPayload(p, page, externalID), true
			}
		}
	}
	return itemFromMeta(page, externalID)
}

func itemFromPayload(p itemPayload, page ingest.Page, externalID string) ingest.ScrapedItem {
	mediaType := ingest.MediaTypeImage
	if p.MediaType == "video" {
		mediaType = ingest.MediaTypeVideo
	}
	return ingest.ScrapedItem{
		ExternalID:     externalID,
		MediaType:      mediaType,
		MediaURL:       p.MediaURL,
		PosterURL:      p.PosterURL,
		PageURL:        page.URL,
		OGTitle:        p.Title,
		OGDescription:  p.Description,
		OGImageURL:     p.OGImage,
		OGURL:          p.OGURL,
		Tags:           p.Tags,
		SourceAPIURL:   p.SourceAPIURL,
		SourceEntryURL: page.FinalURL,
		Sidebar:        p.Sidebar,
	}
}

// itemFromMeta is the OG-only fallback used when the collect payload is
// missing, for instance when the page blocked script execution.
func itemFromMeta(page ingest.Page, externalID string) (ingest.ScrapedItem, bool) {
	image := metaContent(page.HTML, "og:image:secure_url")
	if image == "" {
		image = metaContent(page.HTML, "og:image")
	}
	if image == "" {
		image = metaContent(page.HTML, "twitter:image")
	}
	if image == "" {
		return ingest.ScrapedItem{}, false
	}
	return ingest.ScrapedItem{
		ExternalID:     externalID,
		MediaType:      ingest.MediaTypeImage,
		MediaURL:       image,
		PageURL:        page.URL,
		OGTitle:        metaContent(page.HTML, "og:title"),
		OGDescription:  metaContent(page.HTML, "og:description"),
		OGImageURL:     image,
		OGURL:          metaContent(page.HTML, "og:url"),
		SourceEntryURL: page.FinalURL,
	}, true
}

// metaContent pulls one meta tag's content. Both attribute orders occur
// in the wild.
func metaContent(html, property string) string {
	quoted := regexp.QuoteMeta(property)
	patterns := []string{
		`<meta[^>]+(?:property|name)=["']` + quoted + `["'][^>]+content=["']([^"']*)["']`,
		`<meta[^>]+content=["']([^"']*)["'][^>]+(?:property|name)=["']` + quoted + `["']`,
	}
	for _, pattern := range patterns {
		re := regexp.MustCompile(`(?i)` + pattern)
		if m := re.FindStringSubmatch(html); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}
