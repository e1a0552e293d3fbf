// Package totals computes tax-inclusive invoice amounts. All functions are
// pure; amounts carry full float64 precision and are rounded only by
// Present.
package totals

import (
	"voice-invoice-service/internal/models"
)

// LineIssue explains why a line cannot be finalized.
type LineIssue string

const (
	IssueNone             LineIssue = ""
	IssueNonPositivePrice LineIssue = "non_positive_price"
	IssueNonPositiveQty   LineIssue = "non_positive_quantity"
	IssueMissingTaxRate   LineIssue = "missing_tax_rate"
)

// LineResult is the computed amount for one line. Index is the line's
// position in the caller's list; Compute sets it to the position in lines.
type LineResult struct {
	Index  int       `json:"index"`
	Amount float64   `json:"amount"`
	Issue  LineIssue `json:"issue,omitempty"`
}

// Valid reports whether the line may be finalized.
func (l LineResult) Valid() bool {
	return l.Issue == IssueNone
}

// Result is the computed invoice.
type Result struct {
	Lines           []LineResult `json:"lines"`
	Subtotal        float64      `json:"subtotal"`
	DiscountPercent float64      `json:"discountPercent"`
	DiscountAmount  float64      `json:"discountAmount"`
	Total           float64      `json:"total"`
}

// Valid reports whether every line is valid.
func (r Result) Valid() bool {
	for _, l := range r.Lines {
		if !l.Valid() {
			return false
		}
	}
	return true
}

// LineAmount returns quantity × unitPrice × (1 + taxRatePercent/100).
func LineAmount(quantity, unitPrice, taxRatePercent float64) float64 {
	return quantity * unitPrice * (1 + taxRatePercent/100)
}

// CheckLine returns the first reason line cannot be finalized.
func CheckLine(line models.ResolvedInvoiceLine) LineIssue {
	switch {
	case line.UnitPrice <= 0:
		return IssueNonPositivePrice
	case !line.HasTaxRate:
		return IssueMissingTaxRate
	case line.Quantity <= 0:
		return IssueNonPositiveQty
	default:
		return IssueNone
	}
}

// ClampDiscount limits a discount percent to [0, 100].
func ClampDiscount(percent float64) float64 {
	switch {
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	default:
		return percent
	}
}

// Compute derives line amounts, subtotal, discount and total. A line with a
// non-positive price or no tax rate is computed with price and tax 0 and
// flagged. The discount is clamped to [0, 100]. Compute never fails.
func Compute(lines []models.ResolvedInvoiceLine, discountPercent float64) Result {
	r := Result{
		Lines:           make([]LineResult, len(lines)),
		DiscountPercent: ClampDiscount(discountPercent),
	}
	for i, line := range lines {
		issue := CheckLine(line)
		amount := 0.0
		if issue == IssueNone {
			amount = LineAmount(line.Quantity, line.UnitPrice, line.TaxRatePercent)
		}
		r.Lines[i] = LineResult{Index: i, Amount: amount, Issue: issue}
		r.Subtotal += amount
	}
	r.DiscountAmount = r.Subtotal * r.DiscountPercent / 100
	r.Total = r.Subtotal - r.DiscountAmount
	return r
}
