// Package extraction converts a dictated transcript into a structured
// invoice draft by calling an external extraction capability.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"voice-invoice-service/internal/models"
)

// Errors returned by extractors.
var (
	ErrEmptyTranscript    = errors.New("extraction: transcript is empty")
	ErrExtractionInFlight = errors.New("extraction: a request is already in flight")
)

// Extractor turns a transcript into a draft. Candidate lists on the draft
// are produced by the extractor; callers perform no matching.
type Extractor interface {
	Extract(ctx context.Context, transcript string) (*models.InvoiceDraft, error)
}

// ExtractionFailedError carries the failure message reported by the
// extraction capability.
type ExtractionFailedError struct {
	Message    string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *ExtractionFailedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("extraction failed (status %d): %s", e.StatusCode, e.Message)
	}
	return "extraction failed: " + e.Message
}

func (e *ExtractionFailedError) Unwrap() error {
	return e.Err
}

// Matcher proposes catalog candidates for dictated names.
type Matcher interface {
	MatchClients(name string) []models.ClientCandidate
	MatchProducts(name string) []models.ProductCandidate
}

// AttachCandidates fills the client and product candidate lists of draft
// from m. Lists already present are replaced.
func AttachCandidates(draft *models.InvoiceDraft, m Matcher) {
	if m == nil {
		return
	}
	if strings.TrimSpace(draft.ClientName) != "" {
		draft.ClientCandidates = m.MatchClients(draft.ClientName)
	}
	for i := range draft.Items {
		draft.Items[i].ProductCandidates = m.MatchProducts(draft.Items[i].Name)
	}
}

// CheckTranscript trims transcript and rejects it when blank. Extractors call
// it before any network work.
func CheckTranscript(transcript string) (string, error) {
	t := strings.TrimSpace(transcript)
	if t == "" {
		return "", ErrEmptyTranscript
	}
	return t, nil
}

// Gate allows at most one outstanding Extract call. A second caller gets
// ErrExtractionInFlight instead of queueing.
type Gate struct {
	next Extractor
	busy atomic.Bool
}

// NewGate wraps next.
func NewGate(next Extractor) *Gate {
	return &Gate{next: next}
}

// Extract implements Extractor.
func (g *Gate) Extract(ctx context.Context, transcript string) (*models.InvoiceDraft, error) {
	if !g.busy.CompareAndSwap(false, true) {
		return nil, ErrExtractionInFlight
	}
	defer g.busy.Store(false)
	return g.next.Extract(ctx, transcript)
}

// InFlight reports whether a call is outstanding.
func (g *Gate) InFlight() bool {
	return g.busy.Load()
}
