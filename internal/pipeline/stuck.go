package pipeline

import "strings"

// StuckDetector signals forced termination when the reviewer repeats itself
// verbatim. Normalization is trim-only: detection is exact-text repetition,
// so cosmetic rewording counts as progress.
type StuckDetector struct {
	prev string
	seen bool
}

// Observe records one reviewer text and reports whether it equals the
// immediately preceding round's text.
func (d *StuckDetector) Observe(text string) bool {
	norm := strings.TrimSpace(text)
	stuck := d.seen && norm == d.prev
	d.prev = norm
	d.seen = true
	return stuck
}

// Reset clears the window. Called at the start of each run.
func (d *StuckDetector) Reset() {
	d.prev = ""
	d.seen = false
}
