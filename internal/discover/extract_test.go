package discover

import (
	"encoding/json"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func collectedAttr(name string, values []string) string {
	payload, _ := json.Marshal(values)
	return fmt.Sprintf(`<html data-bw-%s='%s'>`, name, url.QueryEscape(string(payload)))
}

func TestValidItemID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		id    string
		valid bool
	}{
		{"abc12", true},
		{"A1b2_c3-d4", true},
		{"abcd", false},           // too short
		{"undefined", false},      // placeholder
		{"null", false},           // placeholder
		{"None", false},           // placeholder
		{"", false},               // placeholder
		{"has space", false},      // illegal char
		{"waaaaaaaaaaaaaaaaaaaaaaaaytoolong", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.valid, ValidItemID(tc.id), "id %q", tc.id)
	}
}

func TestExtractIDs_DuplicateMidListYieldsFirstSeenOrder(t *testing.T) {
	t.Parallel()

	html := `
		<a href="/i/aaaaa/">x</a>
		<a href="/i/bbbbb/">y</a>
		<a href="/i/aaaaa/">dup</a>
		<a href="/i/ccccc/">z</a>`

	ids := ExtractIDs(html, DefaultStrategies())
	require.Equal(t, []string{"aaaaa", "bbbbb", "ccccc"}, ids)
}

func TestExtractIDs_StagePriorityStillPreservesFirstDiscoveryOrder(t *testing.T) {
	t.Parallel()

	// Collected ids come first in priority; anchors add only new ids after.
	html := collectedAttr("ids", []string{"first1", "second"}) +
		`<a href="/i/second/">dup via anchor</a>` +
		`<a href="/i/third3/">new via anchor</a>` +
		`<div id="grid-item-fourth"></div>` +
		`plain text /i/fifth5 fallback`

	ids := ExtractIDs(html, DefaultStrategies())
	require.Equal(t, []string{"first1", "second", "third3", "fourth", "fifth5"}, ids)
}

func TestExtractIDs_InvalidCandidatesDiscarded(t *testing.T) {
	t.Parallel()

	html := collectedAttr("ids", []string{"undefined", "null", "ok-id1"}) +
		`<a href="/i/undefined/">bad</a>` +
		`<div id="grid-item-x"></div>`

	ids := ExtractIDs(html, DefaultStrategies())
	require.Equal(t, []string{"ok-id1"}, ids)
}

func TestCollectedAnchorStrategy(t *testing.T) {
	t.Parallel()

	html := collectedAttr("anchors", []string{
		"https://example.com/i/alpha1/",
		"https://example.com/about",
		"https://example.com/i/beta22?ref=grid",
	})

	ids := CollectedAnchorStrategy(html)
	require.Equal(t, []string{"alpha1", "beta22"}, ids)
}

func TestCollectedStrategies_MalformedPayloadIgnored(t *testing.T) {
	t.Parallel()

	html := `<html data-bw-ids='%%%notpercent' data-bw-anchors='bm90anNvbg'>`
	require.Nil(t, CollectedIDStrategy(html))
	require.Nil(t, CollectedAnchorStrategy(html))
}

func TestGridIDStrategy_SingleAndDoubleQuotes(t *testing.T) {
	t.Parallel()

	html := `<div id="grid-item-dq111"></div><div id='grid-item-sq222'></div>`
	require.Equal(t, []string{"dq111", "sq222"}, GridIDStrategy(html))
}

func TestItemIDFromURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc12", ItemIDFromURL("https://example.com/i/abc12/"))
	require.Equal(t, "abc12", ItemIDFromURL("/i/abc12?ref=x"))
	require.Empty(t, ItemIDFromURL("https://example.com/about"))
	require.Empty(t, ItemIDFromURL("/i/none")) // 4 chars, too short
}

func TestScrollScript_SubstitutesPolicy(t *testing.T) {
	t.Parallel()

	js := ScrollScript(ScrollPolicy{Steps: 3, WaitMS: 800, UntilIdle: true, IdleRounds: 5})
	require.Contains(t, js, "let maxLoops = 3;")
	require.Contains(t, js, "let wait = 800;")
	require.Contains(t, js, "let untilIdle = 1;")
	require.Contains(t, js, "let idleTarget = 5;")
}

func TestScrollScript_ClampsNegativesAndIdleFloor(t *testing.T) {
	t.Parallel()

	js := ScrollScript(ScrollPolicy{Steps: -1, WaitMS: -100, IdleRounds: 0})
	require.Contains(t, js, "let maxLoops = 0;")
	require.Contains(t, js, "let wait = 0;")
	require.Contains(t, js, "let idleTarget = 1;")
}
