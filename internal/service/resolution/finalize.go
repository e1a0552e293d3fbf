package resolution

import (
	"fmt"
	"strings"

	"voice-invoice-service/internal/models"
	"voice-invoice-service/internal/service/totals"
)

// IssueKind classifies what blocks finalization.
type IssueKind string

const (
	IssueUnresolvedClient  IssueKind = "unresolved_client"
	IssueUnresolvedProduct IssueKind = "unresolved_product"
	IssueInvalidLine       IssueKind = "invalid_line"
	IssueInvalidDiscount   IssueKind = "invalid_discount"
	IssueNoLines           IssueKind = "no_lines"
)

// Issue is one reason a draft cannot be finalized. Line is -1 for
// invoice-level issues.
type Issue struct {
	Kind    IssueKind        `json:"kind"`
	Line    int              `json:"line"`
	Status  Status           `json:"status,omitempty"`
	Detail  totals.LineIssue `json:"detail,omitempty"`
	Message string           `json:"message"`
}

// FinalizationError lists every issue found in a draft.
type FinalizationError struct {
	Issues []Issue
}

func (e *FinalizationError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		msgs[i] = is.Message
	}
	return "draft cannot be finalized: " + strings.Join(msgs, "; ")
}

// Totals computes the amounts of the draft's matched lines.
func (d *Draft) Totals() totals.Result {
	lines, idx := d.MatchedLines()
	r := totals.Compute(lines, d.DiscountPercent)
	for i := range r.Lines {
		r.Lines[i].Index = idx[i]
	}
	return r
}

// Issues returns everything that blocks finalization, in draft order. An
// empty result means Finalize will succeed.
func (d *Draft) Issues() []Issue {
	var issues []Issue
	if d.Client.Status != StatusAutoMatched || d.Client.Selected == nil {
		issues = append(issues, Issue{
			Kind:    IssueUnresolvedClient,
			Line:    -1,
			Status:  d.Client.Status,
			Message: clientMessage(d.Client),
		})
	}
	if len(d.Lines) == 0 {
		issues = append(issues, Issue{Kind: IssueNoLines, Line: -1, Message: "invoice has no line items"})
	}
	for i, l := range d.Lines {
		if l.Status != StatusAutoMatched || l.Line == nil {
			issues = append(issues, Issue{
				Kind:    IssueUnresolvedProduct,
				Line:    i,
				Status:  l.Status,
				Message: productMessage(i, l),
			})
			continue
		}
		if li := totals.CheckLine(*l.Line); li != totals.IssueNone {
			issues = append(issues, Issue{
				Kind:    IssueInvalidLine,
				Line:    i,
				Status:  l.Status,
				Detail:  li,
				Message: fmt.Sprintf("line %d (%s): %s", i+1, l.Line.Name, strings.ReplaceAll(string(li), "_", " ")),
			})
		}
	}
	if d.DiscountPercent < 0 || d.DiscountPercent > 100 {
		issues = append(issues, Issue{
			Kind:    IssueInvalidDiscount,
			Line:    -1,
			Message: fmt.Sprintf("discount %g%% is outside 0-100", d.DiscountPercent),
		})
	}
	return issues
}

// Finalize produces the resolved invoice, or a *FinalizationError listing
// every blocking issue.
func Finalize(d *Draft) (*models.ResolvedInvoice, error) {
	if issues := d.Issues(); len(issues) > 0 {
		return nil, &FinalizationError{Issues: issues}
	}
	lines, _ := d.MatchedLines()
	res := totals.Compute(lines, d.DiscountPercent)
	for i := range lines {
		lines[i].AmountInclusiveOfTax = res.Lines[i].Amount
	}
	return &models.ResolvedInvoice{
		ClientID:        d.Client.Selected.ID,
		Lines:           lines,
		DiscountPercent: res.DiscountPercent,
		Subtotal:        res.Subtotal,
		DiscountAmount:  res.DiscountAmount,
		TotalAmount:     res.Total,
		Notes:           d.Notes,
		IssuedDate:      d.IssuedDate,
		DueDate:         d.DueDate,
	}, nil
}

func clientMessage(c ClientResolution) string {
	switch c.Status {
	case StatusAmbiguousPending:
		return fmt.Sprintf("client %q matches %d catalog clients; select one", c.Query, len(c.Candidates))
	case StatusUnmatched:
		if c.Query == "" {
			return "no client was dictated"
		}
		return fmt.Sprintf("client %q is not in the catalog", c.Query)
	default:
		return "client is not resolved"
	}
}

func productMessage(i int, l LineResolution) string {
	if l.Status == StatusAmbiguousPending {
		return fmt.Sprintf("line %d: %q matches %d catalog products; select one", i+1, l.Query, len(l.Candidates))
	}
	return fmt.Sprintf("line %d: %q is not in the catalog", i+1, l.Query)
}
