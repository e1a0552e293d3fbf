// Package transcript merges incremental recognition results into a stable
// final transcript and a volatile interim hypothesis.
package transcript

import (
	"strings"

	"voice-invoice-service/internal/service/stt"
)

// Aggregator accumulates result events. It is not safe for concurrent use;
// the owning capture session serializes access.
type Aggregator struct {
	final   strings.Builder
	interim string
}

// New returns an empty aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// Apply processes one result batch in order. A final segment is appended
// with a trailing space and clears the interim text; an interim segment
// replaces the interim text wholesale.
func (a *Aggregator) Apply(ev stt.ResultEvent) (finals, interims int) {
	for _, seg := range ev.Segments {
		if seg.Final {
			a.final.WriteString(seg.Text)
			a.final.WriteByte(' ')
			a.interim = ""
			finals++
			continue
		}
		a.interim = seg.Text
		interims++
	}
	return finals, interims
}

// FinalText returns the accumulated final text, trailing space included.
func (a *Aggregator) FinalText() string {
	return a.final.String()
}

// InterimText returns the latest interim hypothesis.
func (a *Aggregator) InterimText() string {
	return a.interim
}

// Transcript returns the final text without surrounding whitespace, suitable
// for extraction.
func (a *Aggregator) Transcript() string {
	return strings.TrimSpace(a.final.String())
}

// ClearInterim drops the interim hypothesis.
func (a *Aggregator) ClearInterim() {
	a.interim = ""
}

// Reset clears all text.
func (a *Aggregator) Reset() {
	a.final.Reset()
	a.interim = ""
}
