// Package discover turns a rendered listing page into an ordered,
// de-duplicated sequence of item identifiers.
package discover

import (
	"encoding/json"
	"net/url"
	"regexp"
)

// Item identifiers are short url-safe tokens. Placeholder strings that leak
// out of client-side templates are rejected outright.
var (
	validItemID    = regexp.MustCompile(`^[A-Za-z0-9_-]{5,24}$`)
	itemPathRegexp = regexp.MustCompile(`/i/([A-Za-z0-9_-]+)`)
	gridIDRegexp   = regexp.MustCompile(`id=['"]grid-item-([A-Za-z0-9_-]+)['"]`)
	anchorRegexp   = regexp.MustCompile(`href=["'](/i/[A-Za-z0-9_-]+[^"']*)["']`)
	collectedIDs   = regexp.MustCompile(`data-bw-ids=['"]([^'"]+)['"]`)
	collectedHrefs = regexp.MustCompile(`data-bw-anchors=['"]([^'"]+)['"]`)
)

var placeholderIDs = map[string]struct{}{
	"undefined": {},
	"null":      {},
	"None":      {},
	"":          {},
}

// ValidItemID reports whether candidate is an acceptable item identifier.
func ValidItemID(candidate string) bool {
	if _, bad := placeholderIDs[candidate]; bad {
		return false
	}
	return validItemID.MatchString(candidate)
}

// ItemIDFromURL extracts a valid item id from an item-path URL, or "".
func ItemIDFromURL(raw string) string {
	m := itemPathRegexp.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	if !ValidItemID(m[1]) {
		return ""
	}
	return m[1]
}

// Strategy is one pure extraction pass over rendered HTML. Strategies return
// candidates in document order; validation and dedup happen in ExtractIDs.
type Strategy func(html string) []string

// DefaultStrategies returns the extraction stages in priority order:
// collected ids from the injected script, collected anchors, grid-item DOM
// ids, anchor hrefs in markup, and finally a raw-text fallback.
func DefaultStrategies() []Strategy {
	return []Strategy{
		CollectedIDStrategy,
		CollectedAnchorStrategy,
		GridIDStrategy,
		AnchorStrategy,
		RawTextStrategy,
	}
}

// CollectedIDStrategy reads ids the scroll script stashed on the document
// element, already in DOM-appearance order.
func CollectedIDStrategy(html string) []string {
	return decodeCollectedList(collectedIDs, html, func(s string) string { return s })
}

// CollectedAnchorStrategy reads hrefs stashed by the scroll script and
// reduces them to item ids.
func CollectedAnchorStrategy(html string) []string {
	return decodeCollectedList(collectedHrefs, html, ItemIDFromURL)
}

// GridIDStrategy finds DOM element ids with the grid-item prefix.
func GridIDStrategy(html string) []string {
	var out []string
	for _, m := range gridIDRegexp.FindAllStringSubmatch(html, -1) {
		out = append(out, m[1])
	}
	return out
}

// AnchorStrategy finds anchor hrefs matching the item path pattern.
func AnchorStrategy(html string) []string {
	var out []string
	for _, m := range anchorRegexp.FindAllStringSubmatch(html, -1) {
		if id := ItemIDFromURL(m[1]); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// RawTextStrategy is the last-resort pass over raw markup text.
func RawTextStrategy(html string) []string {
	var out []string
	for _, m := range itemPathRegexp.FindAllStringSubmatch(html, -1) {
		out = append(out, m[1])
	}
	return out
}

func decodeCollectedList(re *regexp.Regexp, html string, mapFn func(string) string) []string {
	m := re.FindStringSubmatch(html)
	if m == nil {
		return nil
	}
	unescaped, err := url.QueryUnescape(m[1])
	if err != nil {
		return nil
	}
	var raw []string
	if err := json.Unmarshal([]byte(unescaped), &raw); err != nil {
		return nil
	}
	var out []string
	for _, entry := range raw {
		if id := mapFn(entry); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// ExtractIDs runs the strategies in order over html, keeping the first
// occurrence of each valid id. Later stages only fill identifiers earlier
// stages did not produce, so first-discovery order is preserved across all
// stages combined.
func ExtractIDs(html string, strategies []Strategy) []string {
	seen := make(map[string]struct{})
	var ordered []string
	for _, strat := range strategies {
		for _, candidate := range strat(html) {
			if !ValidItemID(candidate) {
				continue
			}
			if _, dup := seen[candidate]; dup {
				continue
			}
			seen[candidate] = struct{}{}
			ordered = append(ordered, candidate)
		}
	}
	return ordered
}
