package discover

import (
	"strconv"
	"strings"
)

// ScrollPolicy controls how the listing page is lazy-loaded before
// extraction. Steps > 0 scrolls a fixed number of times; UntilIdle keeps
// scrolling until the grid stops growing for IdleRounds consecutive rounds.
// Both may be combined; whichever limit is hit first stops the loop.
type ScrollPolicy struct {
	Steps      int
	WaitMS     int
	UntilIdle  bool
	IdleRounds int
}

// Enabled reports whether any scrolling is requested at all.
func (p ScrollPolicy) Enabled() bool {
	return p.Steps > 0 || p.UntilIdle
}

const scrollTemplate = `
(function() {
  let maxLoops = __STEPS__;
  let wait = __WAIT__;
  let untilIdle = __UNTIL_IDLE__;
  let idleTarget = __IDLE_ROUNDS__;
  let loops = 0;
  let prevCount = 0;
  let stagnant = 0;
  function collect() {
    try {
      const anchors = Array.from(document.querySelectorAll('a'))
        .map(a => a.href)
        .filter(href => typeof href === 'string' && href.includes('/i/'));
      const ids = Array.from(document.querySelectorAll('[id]'))
        .map(el => el.id)
        .filter(id => typeof id === 'string' && id.startsWith('grid-item-'))
        .map(id => id.replace('grid-item-', ''));
      document.documentElement.setAttribute('data-bw-anchors', encodeURIComponent(JSON.stringify(anchors)));
      document.documentElement.setAttribute('data-bw-ids', encodeURIComponent(JSON.stringify(ids)));
    } catch (e) {}
  }
  function step() {
    window.scrollTo(0, document.body.scrollHeight);
    loops++;
    const count = document.querySelectorAll('[id^=grid-item-]').length;
    if (count <= prevCount) stagnant++; else stagnant = 0;
    prevCount = count;
    const reachedMax = (maxLoops > 0 && loops >= maxLoops);
    const reachedIdle = (untilIdle && stagnant >= idleTarget);
    if (reachedMax || reachedIdle) {
      collect(); window.__bw_scrolled = true; return;
    }
    setTimeout(step, wait);
  }
  step();
})();
`

// ScrollScript renders the lazy-load script for the policy.
func ScrollScript(p ScrollPolicy) string {
	steps := max(0, p.Steps)
	wait := max(0, p.WaitMS)
	idle := max(1, p.IdleRounds)
	untilIdle := "0"
	if p.UntilIdle {
		untilIdle = "1"
	}
	r := strings.NewReplacer(
		"__STEPS__", strconv.Itoa(steps),
		"__WAIT__", strconv.Itoa(wait),
		"__UNTIL_IDLE__", untilIdle,
		"__IDLE_ROUNDS__", strconv.Itoa(idle),
	)
	return r.Replace(scrollTemplate)
}

// ListingWaitExpr is the render wait condition for listing pages: either the
// scroll loop signalled completion or item markup is already present.
const ListingWaitExpr = `window.__bw_scrolled === true ` +
	`|| document.querySelector('[id^=grid-item-]') != null ` +
	`|| Array.from(document.querySelectorAll('a')).some(a => (a.href||'').includes('/i/'))`
