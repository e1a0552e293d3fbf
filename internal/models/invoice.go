package models

// ClientCandidate is a read-only projection of a catalog client proposed as a
// match for a dictated client reference.
type ClientCandidate struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
	Phone string `json:"phone,omitempty" yaml:"phone,omitempty"`
}

// ProductCandidate is a read-only projection of a catalog product.
// TaxRate is nil when the catalog carries no rate for the product.
type ProductCandidate struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Price    float64  `json:"price" yaml:"price"`
	TaxRate  *float64 `json:"taxRate,omitempty" yaml:"taxRate,omitempty"`
	HSNCode  string   `json:"hsnCode,omitempty" yaml:"hsnCode,omitempty"`
	Category string   `json:"category,omitempty" yaml:"category,omitempty"`
}

// LineItemDraft is one dictated line before resolution.
type LineItemDraft struct {
	Name              string             `json:"name"`
	Quantity          float64            `json:"quantity"`
	UnitPrice         *float64           `json:"unitPrice,omitempty"`
	ProductCandidates []ProductCandidate `json:"productCandidates"`
}

// InvoiceDraft is the structured extraction result. It is never mutated once
// received; resolution derives a new value from it.
type InvoiceDraft struct {
	ClientName       string            `json:"clientName"`
	ClientCandidates []ClientCandidate `json:"clientCandidates"`
	Items            []LineItemDraft   `json:"items"`
	Discount         float64           `json:"discount"`
	TaxPercent       *float64          `json:"taxPercent,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	IssuedDate       string            `json:"issuedDate,omitempty"`
	DueDate          string            `json:"dueDate,omitempty"`
}

// Normalize applies extraction defaults: a missing or zero quantity becomes 1.
// It returns a copy and leaves d untouched.
func (d InvoiceDraft) Normalize() InvoiceDraft {
	out := d
	out.ClientCandidates = append([]ClientCandidate(nil), d.ClientCandidates...)
	out.Items = make([]LineItemDraft, len(d.Items))
	for i, it := range d.Items {
		it.ProductCandidates = append([]ProductCandidate(nil), it.ProductCandidates...)
		if it.Quantity == 0 {
			it.Quantity = 1
		}
		out.Items[i] = it
	}
	return out
}

// ResolvedInvoiceLine is a line whose product has been matched. UnitPrice and
// TaxRatePercent are always set before the line is computed.
type ResolvedInvoiceLine struct {
	ProductID            string  `json:"productId"`
	Name                 string  `json:"name"`
	Quantity             float64 `json:"quantity"`
	UnitPrice            float64 `json:"unitPrice"`
	TaxRatePercent       float64 `json:"taxRatePercent"`
	HasTaxRate           bool    `json:"hasTaxRate"`
	HSNCode              string  `json:"hsnCode,omitempty"`
	Category             string  `json:"category,omitempty"`
	AmountInclusiveOfTax float64 `json:"amountInclusiveOfTax"`
}

// ResolvedInvoice is the finalized aggregate handed downstream. The draft's
// invoice-level tax percent is not carried: every line has its own rate.
type ResolvedInvoice struct {
	ClientID        string                `json:"clientId"`
	Lines           []ResolvedInvoiceLine `json:"lines"`
	DiscountPercent float64               `json:"discountPercent"`
	Subtotal        float64               `json:"subtotal"`
	DiscountAmount  float64               `json:"discountAmount"`
	TotalAmount     float64               `json:"totalAmount"`
	Notes           string                `json:"notes,omitempty"`
	IssuedDate      string                `json:"issuedDate,omitempty"`
	DueDate         string                `json:"dueDate,omitempty"`
}
