// Package resolution reduces every free-text reference in an invoice draft
// to a definite catalog selection or an explicit pending state. It never
// picks silently among several candidates.
package resolution

import (
	"strings"

	"voice-invoice-service/internal/models"
)

// AutoAdoptThreshold is the candidate count at which a reference is adopted
// without asking the user. Zero disables auto-adoption.
const AutoAdoptThreshold = 1

// Status is the resolution state of one reference.
type Status string

const (
	StatusUnmatched        Status = "unmatched"
	StatusAutoMatched      Status = "auto_matched"
	StatusAmbiguousPending Status = "ambiguous_pending"
)

// ClientResolution is the resolved client reference.
type ClientResolution struct {
	Status     Status                   `json:"status"`
	Query      string                   `json:"query"`
	Selected   *models.ClientCandidate  `json:"selected,omitempty"`
	Candidates []models.ClientCandidate `json:"candidates,omitempty"`
	Confirmed  bool                     `json:"confirmed"`
}

// LineResolution is one resolved line item. Line is populated only when the
// status is AutoMatched.
type LineResolution struct {
	Status        Status                      `json:"status"`
	Query         string                      `json:"query"`
	Quantity      float64                     `json:"quantity"`
	DictatedPrice *float64                    `json:"dictatedPrice,omitempty"`
	Selected      *models.ProductCandidate    `json:"selected,omitempty"`
	Candidates    []models.ProductCandidate   `json:"candidates,omitempty"`
	Confirmed     bool                        `json:"confirmed"`
	Line          *models.ResolvedInvoiceLine `json:"line,omitempty"`
}

// Draft is a resolved copy of an extraction result. Operations return new
// drafts and leave the receiver unchanged.
type Draft struct {
	Source          models.InvoiceDraft `json:"source"`
	Client          ClientResolution    `json:"client"`
	Lines           []LineResolution    `json:"lines"`
	DiscountPercent float64             `json:"discountPercent"`
	TaxPercent      *float64            `json:"taxPercent,omitempty"`
	Notes           string              `json:"notes,omitempty"`
	IssuedDate      string              `json:"issuedDate,omitempty"`
	DueDate         string              `json:"dueDate,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithAutoAdoptThreshold overrides AutoAdoptThreshold. Zero disables
// auto-adoption; negative values are ignored.
func WithAutoAdoptThreshold(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.threshold = n
		}
	}
}

// Engine resolves drafts. It holds no state besides its policy and is safe
// for concurrent use.
type Engine struct {
	threshold int
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{threshold: AutoAdoptThreshold}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Resolve derives a resolved draft from an extraction result. The input is
// not modified. Resolving the same input twice yields equal drafts.
func (e *Engine) Resolve(src models.InvoiceDraft) *Draft {
	src = src.Normalize()
	d := &Draft{
		Source:          src,
		Client:          e.resolveClient(src.ClientName, src.ClientCandidates),
		Lines:           make([]LineResolution, len(src.Items)),
		DiscountPercent: src.Discount,
		TaxPercent:      copyFloat(src.TaxPercent),
		Notes:           src.Notes,
		IssuedDate:      src.IssuedDate,
		DueDate:         src.DueDate,
	}
	for i, item := range src.Items {
		d.Lines[i] = e.resolveLine(item)
	}
	return d
}

// Merge resolves next and carries over every AutoMatched reference of prev
// whose dictated text is unchanged, so re-submitting a draft never regresses
// a matched field. prev may be nil.
func (e *Engine) Merge(prev *Draft, next models.InvoiceDraft) *Draft {
	d := e.Resolve(next)
	if prev == nil {
		return d
	}
	if prev.Client.Status == StatusAutoMatched && sameRef(prev.Client.Query, d.Client.Query) {
		d.Client = prev.Client.clone()
	}
	for i := range d.Lines {
		if i >= len(prev.Lines) {
			break
		}
		p := prev.Lines[i]
		if p.Status == StatusAutoMatched && sameRef(p.Query, d.Lines[i].Query) {
			d.Lines[i] = p.clone()
		}
	}
	return d
}

func (e *Engine) resolveClient(name string, candidates []models.ClientCandidate) ClientResolution {
	r := ClientResolution{Query: name}
	switch {
	case len(candidates) == 0:
		r.Status = StatusUnmatched
	case e.threshold > 0 && len(candidates) == e.threshold:
		c := candidates[0]
		r.Status = StatusAutoMatched
		r.Selected = &c
	default:
		r.Status = StatusAmbiguousPending
		r.Candidates = append([]models.ClientCandidate(nil), candidates...)
	}
	return r
}

func (e *Engine) resolveLine(item models.LineItemDraft) LineResolution {
	r := LineResolution{
		Query:         item.Name,
		Quantity:      item.Quantity,
		DictatedPrice: copyFloat(item.UnitPrice),
	}
	switch {
	case len(item.ProductCandidates) == 0:
		r.Status = StatusUnmatched
	case e.threshold > 0 && len(item.ProductCandidates) == e.threshold:
		r.adopt(item.ProductCandidates[0])
	default:
		r.Status = StatusAmbiguousPending
		r.Candidates = append([]models.ProductCandidate(nil), item.ProductCandidates...)
	}
	return r
}

// adopt matches the line to c. Name, tax rate, HSN code and category always
// come from c; a dictated positive unit price wins over the catalog price.
func (r *LineResolution) adopt(c models.ProductCandidate) {
	price := c.Price
	if r.DictatedPrice != nil && *r.DictatedPrice > 0 {
		price = *r.DictatedPrice
	}
	line := models.ResolvedInvoiceLine{
		ProductID: c.ID,
		Name:      c.Name,
		Quantity:  r.Quantity,
		UnitPrice: price,
		HSNCode:   c.HSNCode,
		Category:  c.Category,
	}
	if c.TaxRate != nil {
		line.TaxRatePercent = *c.TaxRate
		line.HasTaxRate = true
	}
	c.TaxRate = copyFloat(c.TaxRate)
	r.Status = StatusAutoMatched
	r.Selected = &c
	r.Candidates = nil
	r.Line = &line
}

// Clone returns a deep copy of d.
func (d *Draft) Clone() *Draft {
	out := *d
	out.Source = d.Source.Normalize()
	out.Client = d.Client.clone()
	out.Lines = make([]LineResolution, len(d.Lines))
	for i, l := range d.Lines {
		out.Lines[i] = l.clone()
	}
	out.TaxPercent = copyFloat(d.TaxPercent)
	return &out
}

// MatchedLines returns the resolved lines of AutoMatched items in order,
// with their indexes in d.Lines.
func (d *Draft) MatchedLines() ([]models.ResolvedInvoiceLine, []int) {
	var lines []models.ResolvedInvoiceLine
	var idx []int
	for i, l := range d.Lines {
		if l.Status == StatusAutoMatched && l.Line != nil {
			lines = append(lines, *l.Line)
			idx = append(idx, i)
		}
	}
	return lines, idx
}

// Pending reports whether any reference still needs a user decision.
func (d *Draft) Pending() bool {
	if d.Client.Status != StatusAutoMatched {
		return true
	}
	for _, l := range d.Lines {
		if l.Status != StatusAutoMatched {
			return true
		}
	}
	return false
}

func (c ClientResolution) clone() ClientResolution {
	if c.Selected != nil {
		s := *c.Selected
		c.Selected = &s
	}
	c.Candidates = append([]models.ClientCandidate(nil), c.Candidates...)
	return c
}

func (l LineResolution) clone() LineResolution {
	l.DictatedPrice = copyFloat(l.DictatedPrice)
	if l.Selected != nil {
		s := *l.Selected
		s.TaxRate = copyFloat(s.TaxRate)
		l.Selected = &s
	}
	l.Candidates = append([]models.ProductCandidate(nil), l.Candidates...)
	if l.Line != nil {
		line := *l.Line
		l.Line = &line
	}
	return l
}

func sameRef(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " "))
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
