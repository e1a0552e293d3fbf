// Package pipeline drives a dictated transcript through extraction,
// resolution and computation, and keeps the resulting drafts until they are
// finalized.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voice-invoice-service/internal/models"
	"voice-invoice-service/internal/observability/logging"
	"voice-invoice-service/internal/observability/metrics"
	"voice-invoice-service/internal/service/catalog"
	"voice-invoice-service/internal/service/dictation"
	"voice-invoice-service/internal/service/extraction"
	"voice-invoice-service/internal/service/resolution"
	"voice-invoice-service/internal/service/totals"
)

// Errors returned by the Service.
var (
	ErrDraftNotFound     = errors.New("pipeline: draft not found")
	ErrDraftFinalized    = errors.New("pipeline: draft is already finalized")
	ErrCandidateNotFound = errors.New("pipeline: candidate not found")
)

// Publisher receives pipeline events. *events.Publisher implements it.
type Publisher interface {
	PublishTranscriptFinal(ctx context.Context, ev models.TranscriptFinal) error
	PublishDraftResolved(ctx context.Context, ev models.DraftResolved) error
	PublishInvoiceFinalized(ctx context.Context, ev models.InvoiceFinalized) error
}

// Catalog gives access to the loaded catalog snapshot. *catalog.Store
// implements it.
type Catalog interface {
	Current() (*catalog.Snapshot, error)
}

// Record is a stored draft with its computed figures. Records are values:
// every change stores a new one.
type Record struct {
	ID           string                  `json:"id"`
	Principal    string                  `json:"principal"`
	Transcript   string                  `json:"transcript"`
	Version      int                     `json:"version"`
	Draft        *resolution.Draft       `json:"draft"`
	Totals       totals.Result           `json:"totals"`
	Display      totals.Presentation     `json:"display"`
	Issues       []resolution.Issue      `json:"issues"`
	Pending      bool                    `json:"pending"`
	Finalizable  bool                    `json:"finalizable"`
	Invoice      *models.ResolvedInvoice `json:"invoice,omitempty"`
	CreatedAt    time.Time               `json:"createdAt"`
	UpdatedAt    time.Time               `json:"updatedAt"`
	lineStatuses []string
}

// Finalized reports whether the draft has been turned into an invoice.
func (r *Record) Finalized() bool {
	return r.Invoice != nil
}

// Option configures a Service.
type Option func(*Service)

// WithCatalog lets selections name catalog entries that were not proposed
// as candidates.
func WithCatalog(c Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithPublisher publishes draft and invoice events.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithPrincipal stamps records and events with principal.
func WithPrincipal(principal string) Option {
	return func(s *Service) { s.principal = principal }
}

// WithEngine overrides the default resolution engine.
func WithEngine(e *resolution.Engine) Option {
	return func(s *Service) { s.engine = e }
}

// WithMetrics overrides metrics.DefaultMetrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func withClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service owns the in-memory draft registry. It is safe for concurrent use.
type Service struct {
	extractor extraction.Extractor
	engine    *resolution.Engine
	catalog   Catalog
	publisher Publisher
	principal string
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	drafts map[string]*Record
}

// New creates a service that extracts drafts with ex.
func New(ex extraction.Extractor, opts ...Option) *Service {
	s := &Service{
		extractor: ex,
		engine:    resolution.New(),
		principal: "voice-invoice-service",
		metrics:   metrics.DefaultMetrics,
		logger:    logging.WithComponent("pipeline"),
		now:       time.Now,
		drafts:    make(map[string]*Record),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Process extracts, resolves and computes a new draft from transcript.
func (s *Service) Process(ctx context.Context, transcript string) (*Record, error) {
	return s.ProcessWith(ctx, s.extractor, transcript)
}

// ProcessWith is Process using ex for extraction, so a caller can route its
// requests through its own extraction.Gate.
func (s *Service) ProcessWith(ctx context.Context, ex extraction.Extractor, transcript string) (*Record, error) {
	src, text, err := s.extract(ctx, ex, transcript)
	if err != nil {
		return nil, err
	}

	d := s.engine.Resolve(*src)
	now := s.now()
	rec := s.build(&Record{
		ID:         uuid.NewString(),
		Principal:  s.principal,
		Transcript: text,
		CreatedAt:  now,
	}, d, now)

	s.mu.Lock()
	s.drafts[rec.ID] = rec
	s.mu.Unlock()

	s.recordResolution(d)
	draftLog := logging.WithDraft(rec.ID, s.principal)
	draftLog.Info().
		Str("client", string(d.Client.Status)).
		Int("lines", len(d.Lines)).
		Bool("finalizable", rec.Finalizable).
		Msg("Draft resolved")
	s.publishResolved(ctx, rec)
	return copyRecord(rec), nil
}

// Resubmit extracts transcript again for an existing draft. References
// that were auto-matched and are dictated unchanged keep their match.
func (s *Service) Resubmit(ctx context.Context, id, transcript string) (*Record, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	src, text, err := s.extract(ctx, s.extractor, transcript)
	if err != nil {
		return nil, err
	}
	rec, err := s.update(ctx, id, func(r *Record) (*resolution.Draft, error) {
		r.Transcript = text
		return s.engine.Merge(r.Draft, *src), nil
	})
	if err != nil {
		return nil, err
	}
	s.recordResolution(rec.Draft)
	return rec, nil
}

// HandleSettlement publishes a settled dictation take and processes its
// transcript with ex, or the service extractor when ex is nil. Failed or
// empty takes produce no draft and a nil record.
func (s *Service) HandleSettlement(ctx context.Context, ex extraction.Extractor, st dictation.Settlement) (*Record, error) {
	if st.Failed() || st.Transcript == "" {
		s.logger.Debug().
			Str("sessionId", st.SessionID).
			Str("takeId", st.TakeID).
			Str("error", string(st.Err)).
			Msg("Take not sent to extraction")
		return nil, nil
	}
	if s.publisher != nil {
		ev := models.TranscriptFinal{
			EventType: models.EventTranscriptFinal,
			SessionID: st.SessionID,
			Principal: s.principal,
			Timestamp: s.now().UnixMilli(),
			Text:      st.Transcript,
			Restarts:  st.Restarts,
		}
		if err := s.publisher.PublishTranscriptFinal(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("sessionId", st.SessionID).Msg("Transcript event not published")
		}
	}
	if ex == nil {
		ex = s.extractor
	}
	return s.ProcessWith(ctx, ex, st.Transcript)
}

// Get returns the stored draft.
func (s *Service) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.drafts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDraftNotFound, id)
	}
	return copyRecord(rec), nil
}

// SelectClient confirms clientID as the draft's client. The id is looked up
// among the pending candidates first, then in the catalog.
func (s *Service) SelectClient(ctx context.Context, id, clientID string) (*Record, error) {
	return s.update(ctx, id, func(r *Record) (*resolution.Draft, error) {
		c, ok := s.findClient(r.Draft, clientID)
		if !ok {
			return nil, fmt.Errorf("%w: client %s", ErrCandidateNotFound, clientID)
		}
		s.metrics.RecordResolution("client", "user_selected")
		return r.Draft.SelectClient(c), nil
	})
}

// SelectProduct confirms productID for the line at index line.
func (s *Service) SelectProduct(ctx context.Context, id string, line int, productID string) (*Record, error) {
	return s.update(ctx, id, func(r *Record) (*resolution.Draft, error) {
		if line < 0 || line >= len(r.Draft.Lines) {
			return nil, fmt.Errorf("%w: %d", resolution.ErrLineOutOfRange, line)
		}
		p, ok := s.findProduct(r.Draft.Lines[line], productID)
		if !ok {
			return nil, fmt.Errorf("%w: product %s", ErrCandidateNotFound, productID)
		}
		s.metrics.RecordResolution("product", "user_selected")
		return r.Draft.SelectProduct(line, p)
	})
}

// DismissClient marks the client reference unmatched.
func (s *Service) DismissClient(ctx context.Context, id string) (*Record, error) {
	return s.update(ctx, id, func(r *Record) (*resolution.Draft, error) {
		return r.Draft.DismissClient(), nil
	})
}

// DismissProduct marks the line at index line unmatched.
func (s *Service) DismissProduct(ctx context.Context, id string, line int) (*Record, error) {
	return s.update(ctx, id, func(r *Record) (*resolution.Draft, error) {
		return r.Draft.DismissProduct(line)
	})
}

// UpdateDiscount sets the invoice discount percent.
func (s *Service) UpdateDiscount(ctx context.Context, id string, percent float64) (*Record, error) {
	return s.update(ctx, id, func(r *Record) (*resolution.Draft, error) {
		return r.Draft.WithDiscount(percent), nil
	})
}

// Finalize turns the draft into an invoice and publishes it. A draft that
// is already finalized returns its invoice again without publishing.
func (s *Service) Finalize(ctx context.Context, id string) (*models.ResolvedInvoice, error) {
	s.mu.Lock()
	rec, ok := s.drafts[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDraftNotFound, id)
	}
	if rec.Finalized() {
		inv := *rec.Invoice
		s.mu.Unlock()
		return &inv, nil
	}

	inv, err := resolution.Finalize(rec.Draft)
	if err != nil {
		s.mu.Unlock()
		var fe *resolution.FinalizationError
		if errors.As(err, &fe) {
			for _, is := range fe.Issues {
				s.metrics.RecordBlocked(string(is.Kind))
			}
		}
		draftLog := logging.WithDraft(id, s.principal)
		draftLog.Info().Err(err).Msg("Finalization blocked")
		return nil, err
	}

	next := *rec
	next.Invoice = inv
	next.Version++
	next.UpdatedAt = s.now()
	s.drafts[id] = &next
	s.mu.Unlock()

	s.metrics.RecordFinalized()
	draftLog := logging.WithDraft(id, s.principal)
	draftLog.Info().
		Str("clientId", inv.ClientID).
		Float64("total", inv.TotalAmount).
		Msg("Invoice finalized")

	if s.publisher != nil {
		ev := models.InvoiceFinalized{
			EventType: models.EventInvoiceFinalized,
			DraftID:   id,
			Principal: s.principal,
			Timestamp: next.UpdatedAt.UnixMilli(),
			Invoice:   *inv,
		}
		if err := s.publisher.PublishInvoiceFinalized(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("draftId", id).Msg("Invoice event not published")
		}
	}
	out := *inv
	return &out, nil
}

// Len returns the number of stored drafts.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.drafts)
}

func (s *Service) extract(ctx context.Context, ex extraction.Extractor, transcript string) (*models.InvoiceDraft, string, error) {
	text, err := extraction.CheckTranscript(transcript)
	if err != nil {
		return nil, "", err
	}
	// Candidates come from the catalog; without one every reference would
	// resolve as unmatched.
	if s.catalog != nil {
		if _, err := s.catalog.Current(); err != nil {
			return nil, "", err
		}
	}
	src, err := ex.Extract(ctx, text)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Extraction failed")
		return nil, "", err
	}
	return src, text, nil
}

func (s *Service) update(ctx context.Context, id string, fn func(*Record) (*resolution.Draft, error)) (*Record, error) {
	s.mu.Lock()
	rec, ok := s.drafts[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDraftNotFound, id)
	}
	if rec.Finalized() {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDraftFinalized, id)
	}
	work := *rec
	d, err := fn(&work)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	work.Version++
	next := s.build(&work, d, s.now())
	s.drafts[id] = next
	s.mu.Unlock()

	s.publishResolved(ctx, next)
	return copyRecord(next), nil
}

// build fills the derived fields of r from d.
func (s *Service) build(r *Record, d *resolution.Draft, now time.Time) *Record {
	r.Draft = d
	r.Totals = d.Totals()
	r.Display = totals.Present(r.Totals)
	r.Issues = d.Issues()
	r.Pending = d.Pending()
	r.Finalizable = len(r.Issues) == 0
	r.UpdatedAt = now
	r.lineStatuses = make([]string, len(d.Lines))
	for i, l := range d.Lines {
		r.lineStatuses[i] = string(l.Status)
	}
	return r
}

func (s *Service) findClient(d *resolution.Draft, clientID string) (models.ClientCandidate, bool) {
	for _, c := range d.Client.Candidates {
		if c.ID == clientID {
			return c, true
		}
	}
	if d.Client.Selected != nil && d.Client.Selected.ID == clientID {
		return *d.Client.Selected, true
	}
	if snap := s.snapshot(); snap != nil {
		return snap.Client(clientID)
	}
	return models.ClientCandidate{}, false
}

func (s *Service) findProduct(l resolution.LineResolution, productID string) (models.ProductCandidate, bool) {
	for _, p := range l.Candidates {
		if p.ID == productID {
			return p, true
		}
	}
	if l.Selected != nil && l.Selected.ID == productID {
		return *l.Selected, true
	}
	if snap := s.snapshot(); snap != nil {
		return snap.Product(productID)
	}
	return models.ProductCandidate{}, false
}

func (s *Service) snapshot() *catalog.Snapshot {
	if s.catalog == nil {
		return nil
	}
	snap, err := s.catalog.Current()
	if err != nil {
		return nil
	}
	return snap
}

func (s *Service) recordResolution(d *resolution.Draft) {
	s.metrics.RecordResolution("client", string(d.Client.Status))
	for _, l := range d.Lines {
		s.metrics.RecordResolution("product", string(l.Status))
	}
}

func (s *Service) publishResolved(ctx context.Context, r *Record) {
	if s.publisher == nil {
		return
	}
	ev := models.DraftResolved{
		EventType:    models.EventDraftResolved,
		DraftID:      r.ID,
		Principal:    r.Principal,
		Timestamp:    r.UpdatedAt.UnixMilli(),
		Transcript:   r.Transcript,
		ClientStatus: string(r.Draft.Client.Status),
		LineStatuses: r.lineStatuses,
		Subtotal:     r.Totals.Subtotal,
		TotalAmount:  r.Totals.Total,
		Finalizable:  r.Finalizable,
	}
	if err := s.publisher.PublishDraftResolved(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("draftId", r.ID).Msg("Draft event not published")
	}
}

func copyRecord(r *Record) *Record {
	out := *r
	if r.Invoice != nil {
		inv := *r.Invoice
		out.Invoice = &inv
	}
	out.Issues = append([]resolution.Issue(nil), r.Issues...)
	return &out
}
