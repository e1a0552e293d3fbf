package totals

import (
	"github.com/shopspring/decimal"
)

// Places is the number of decimal places shown for currency amounts.
const Places = 2

// Presentation is a Result rounded for display.
type Presentation struct {
	Lines          []PresentedLine `json:"lines"`
	Subtotal       string          `json:"subtotal"`
	DiscountAmount string          `json:"discountAmount"`
	Total          string          `json:"total"`
}

// PresentedLine is a rounded line amount with the index of its line.
type PresentedLine struct {
	Index  int    `json:"index"`
	Amount string `json:"amount"`
}

// Round rounds v half away from zero to Places decimals.
func Round(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(Places)
}

// Present formats r with Places decimals. Each figure is rounded
// independently from its full-precision value.
func Present(r Result) Presentation {
	p := Presentation{
		Lines:          make([]PresentedLine, len(r.Lines)),
		Subtotal:       Round(r.Subtotal).StringFixed(Places),
		DiscountAmount: Round(r.DiscountAmount).StringFixed(Places),
		Total:          Round(r.Total).StringFixed(Places),
	}
	for i, l := range r.Lines {
		p.Lines[i] = PresentedLine{Index: l.Index, Amount: Round(l.Amount).StringFixed(Places)}
	}
	return p
}
