package resolution

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"voice-invoice-service/internal/models"
)

func ptr(v float64) *float64 { return &v }

var (
	abcOne = models.ClientCandidate{ID: "c-1", Name: "ABC Technologies", Email: "one@abc.test"}
	abcTwo = models.ClientCandidate{ID: "c-2", Name: "ABC Technologies", Email: "two@abc.test"}

	webDesign = models.ProductCandidate{ID: "p-1", Name: "Web Design", Price: 1200, TaxRate: ptr(18), HSNCode: "998314", Category: "services"}
	hosting   = models.ProductCandidate{ID: "p-2", Name: "Web Hosting", Price: 300, TaxRate: ptr(18)}
	hostingXL = models.ProductCandidate{ID: "p-3", Name: "Web Hosting XL", Price: 500, TaxRate: ptr(18)}
)

func sampleDraft() models.InvoiceDraft {
	return models.InvoiceDraft{
		ClientName:       "ABC Technologies",
		ClientCandidates: []models.ClientCandidate{abcOne, abcTwo},
		Items: []models.LineItemDraft{
			{Name: "Web Design", Quantity: 2, UnitPrice: ptr(1000), ProductCandidates: []models.ProductCandidate{webDesign}},
		},
		Discount: 10,
	}
}

func TestResolve_CandidateCounts(t *testing.T) {
	tests := []struct {
		name       string
		candidates []models.ProductCandidate
		want       Status
	}{
		{"none", nil, StatusUnmatched},
		{"one", []models.ProductCandidate{webDesign}, StatusAutoMatched},
		{"two", []models.ProductCandidate{hosting, hostingXL}, StatusAmbiguousPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New().Resolve(models.InvoiceDraft{
				Items: []models.LineItemDraft{{Name: "x", Quantity: 1, ProductCandidates: tt.candidates}},
			})
			l := d.Lines[0]
			if l.Status != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, l.Status)
			}
			switch tt.want {
			case StatusAutoMatched:
				if l.Line == nil || l.Selected == nil {
					t.Fatal("expected adopted line")
				}
			case StatusAmbiguousPending:
				if l.Line != nil || l.Selected != nil {
					t.Error("ambiguous line must not adopt anything")
				}
				if len(l.Candidates) != len(tt.candidates) {
					t.Errorf("expected %d pending candidates, got %d", len(tt.candidates), len(l.Candidates))
				}
			case StatusUnmatched:
				if l.Line != nil || len(l.Candidates) != 0 {
					t.Error("unmatched line must be empty")
				}
			}
		})
	}
}

func TestResolve_ClientCandidateCounts(t *testing.T) {
	e := New()

	if got := e.Resolve(models.InvoiceDraft{ClientName: "Nobody"}).Client.Status; got != StatusUnmatched {
		t.Errorf("expected unmatched, got %s", got)
	}

	one := e.Resolve(models.InvoiceDraft{ClientName: "ABC", ClientCandidates: []models.ClientCandidate{abcOne}})
	if one.Client.Status != StatusAutoMatched || one.Client.Selected.ID != "c-1" {
		t.Errorf("expected auto match to c-1, got %+v", one.Client)
	}
	if one.Client.Confirmed {
		t.Error("auto match must not be marked confirmed")
	}

	two := e.Resolve(sampleDraft())
	if two.Client.Status != StatusAmbiguousPending || two.Client.Selected != nil {
		t.Errorf("expected pending with no selection, got %+v", two.Client)
	}
}

func TestResolve_AdoptsCatalogFieldsKeepsDictatedPrice(t *testing.T) {
	d := New().Resolve(sampleDraft())
	line := d.Lines[0].Line

	if line.ProductID != "p-1" || line.Name != "Web Design" || line.HSNCode != "998314" || line.Category != "services" {
		t.Errorf("catalog fields not adopted: %+v", line)
	}
	if line.UnitPrice != 1000 {
		t.Errorf("dictated price must win, got %v", line.UnitPrice)
	}
	if !line.HasTaxRate || line.TaxRatePercent != 18 {
		t.Errorf("tax rate must come from the catalog, got %+v", line)
	}
	if line.Quantity != 2 {
		t.Errorf("quantity must be preserved, got %v", line.Quantity)
	}
}

func TestResolve_CatalogPriceWhenNotDictated(t *testing.T) {
	for _, price := range []*float64{nil, ptr(0)} {
		d := New().Resolve(models.InvoiceDraft{
			Items: []models.LineItemDraft{{Name: "web design", Quantity: 1, UnitPrice: price, ProductCandidates: []models.ProductCandidate{webDesign}}},
		})
		if got := d.Lines[0].Line.UnitPrice; got != 1200 {
			t.Errorf("expected catalog price 1200, got %v", got)
		}
	}
}

func TestResolve_ZeroQuantityDefaultsToOne(t *testing.T) {
	d := New().Resolve(models.InvoiceDraft{
		Items: []models.LineItemDraft{{Name: "Web Design", ProductCandidates: []models.ProductCandidate{webDesign}}},
	})
	if d.Lines[0].Quantity != 1 || d.Lines[0].Line.Quantity != 1 {
		t.Errorf("expected quantity 1, got %+v", d.Lines[0])
	}
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	src := sampleDraft()
	before := sampleDraft()

	d := New().Resolve(src)
	d.Lines[0].Line.UnitPrice = 1
	*d.Lines[0].Selected.TaxRate = 5

	if !reflect.DeepEqual(src, before) {
		t.Error("Resolve mutated its input")
	}
}

func TestResolve_Idempotent(t *testing.T) {
	e := New()
	src := sampleDraft()

	a := e.Resolve(src)
	b := e.Resolve(src)
	if !reflect.DeepEqual(a, b) {
		t.Error("resolving the same input twice gave different drafts")
	}

	r := e.Merge(a, a.Source)
	if !reflect.DeepEqual(a, r) {
		t.Error("merging a resolved draft with its own source changed it")
	}
}

func TestResolve_ZeroThresholdDisablesAutoAdopt(t *testing.T) {
	d := New(WithAutoAdoptThreshold(0)).Resolve(models.InvoiceDraft{
		ClientCandidates: []models.ClientCandidate{abcOne},
		Items:            []models.LineItemDraft{{Name: "Web Design", Quantity: 1, ProductCandidates: []models.ProductCandidate{webDesign}}},
	})
	if d.Client.Status != StatusAmbiguousPending || d.Lines[0].Status != StatusAmbiguousPending {
		t.Errorf("expected everything pending, got client=%s line=%s", d.Client.Status, d.Lines[0].Status)
	}
}

func TestMerge_NeverRegressesAutoMatched(t *testing.T) {
	e := New()
	prev := e.Resolve(models.InvoiceDraft{
		ClientName:       "ABC Technologies",
		ClientCandidates: []models.ClientCandidate{abcOne},
		Items:            []models.LineItemDraft{{Name: "Web Design", Quantity: 2, ProductCandidates: []models.ProductCandidate{webDesign}}},
	})

	// The re-submitted draft lost its candidates but dictates the same text.
	next := models.InvoiceDraft{
		ClientName: "abc  technologies",
		Items:      []models.LineItemDraft{{Name: "Web Design", Quantity: 2}},
	}
	d := e.Merge(prev, next)

	if d.Client.Status != StatusAutoMatched || d.Client.Selected.ID != "c-1" {
		t.Errorf("client regressed: %+v", d.Client)
	}
	if d.Lines[0].Status != StatusAutoMatched {
		t.Errorf("line regressed: %+v", d.Lines[0])
	}

	changed := e.Merge(prev, models.InvoiceDraft{ClientName: "XYZ Corp"})
	if changed.Client.Status != StatusUnmatched {
		t.Errorf("a changed reference must be re-resolved, got %s", changed.Client.Status)
	}
}

func TestSelectClient_ResolvesAmbiguity(t *testing.T) {
	d := New().Resolve(sampleDraft())

	sel := d.SelectClient(abcTwo)
	if sel.Client.Status != StatusAutoMatched || !sel.Client.Confirmed || sel.Client.Selected.ID != "c-2" {
		t.Errorf("unexpected client %+v", sel.Client)
	}
	if len(sel.Client.Candidates) != 0 {
		t.Error("pending list must be cleared")
	}
	if d.Client.Status != StatusAmbiguousPending {
		t.Error("SelectClient mutated the receiver")
	}
}

func TestSelectProduct(t *testing.T) {
	d := New().Resolve(models.InvoiceDraft{
		Items: []models.LineItemDraft{{Name: "hosting", Quantity: 3, ProductCandidates: []models.ProductCandidate{hosting, hostingXL}}},
	})

	sel, err := d.SelectProduct(0, hostingXL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l := sel.Lines[0]
	if l.Status != StatusAutoMatched || !l.Confirmed || l.Line.ProductID != "p-3" || l.Line.Quantity != 3 || l.Line.UnitPrice != 500 {
		t.Errorf("unexpected line %+v / %+v", l, l.Line)
	}
	if len(l.Candidates) != 0 {
		t.Error("pending list must be cleared")
	}

	if _, err := d.SelectProduct(1, hosting); !errors.Is(err, ErrLineOutOfRange) {
		t.Errorf("expected ErrLineOutOfRange, got %v", err)
	}
	if _, err := d.DismissProduct(-1); !errors.Is(err, ErrLineOutOfRange) {
		t.Errorf("expected ErrLineOutOfRange, got %v", err)
	}
}

func TestDismiss(t *testing.T) {
	d := New().Resolve(sampleDraft())

	dc := d.DismissClient()
	if dc.Client.Status != StatusUnmatched || len(dc.Client.Candidates) != 0 {
		t.Errorf("unexpected client %+v", dc.Client)
	}

	dp, err := d.DismissProduct(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dp.Lines[0].Status != StatusUnmatched || dp.Lines[0].Line != nil {
		t.Errorf("unexpected line %+v", dp.Lines[0])
	}
	if d.Lines[0].Status != StatusAutoMatched {
		t.Error("DismissProduct mutated the receiver")
	}
}

func TestFinalize_WebDesignExample(t *testing.T) {
	d := New().Resolve(models.InvoiceDraft{
		ClientName:       "ABC Technologies",
		ClientCandidates: []models.ClientCandidate{abcOne},
		Items: []models.LineItemDraft{
			{Name: "Web Design", Quantity: 2, UnitPrice: ptr(1000), ProductCandidates: []models.ProductCandidate{webDesign}},
		},
	})

	inv, err := Finalize(d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.ClientID != "c-1" || len(inv.Lines) != 1 {
		t.Fatalf("unexpected invoice %+v", inv)
	}
	if math.Abs(inv.Lines[0].AmountInclusiveOfTax-2360) > 1e-9 || math.Abs(inv.TotalAmount-2360) > 1e-9 {
		t.Errorf("expected 2360, got line=%v total=%v", inv.Lines[0].AmountInclusiveOfTax, inv.TotalAmount)
	}
}

func TestFinalize_DuplicateClientBlocksUntilSelected(t *testing.T) {
	d := New().Resolve(sampleDraft())

	_, err := Finalize(d)
	var fe *FinalizationError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FinalizationError, got %v", err)
	}
	if len(fe.Issues) != 1 || fe.Issues[0].Kind != IssueUnresolvedClient || fe.Issues[0].Status != StatusAmbiguousPending {
		t.Fatalf("unexpected issues %+v", fe.Issues)
	}

	// The product line resolved independently of the pending client.
	if d.Lines[0].Status != StatusAutoMatched {
		t.Errorf("line must resolve despite pending client, got %s", d.Lines[0].Status)
	}

	inv, err := Finalize(d.SelectClient(abcTwo))
	if err != nil {
		t.Fatalf("unexpected error after selection: %v", err)
	}
	if inv.ClientID != "c-2" {
		t.Errorf("expected c-2, got %s", inv.ClientID)
	}
	if math.Abs(inv.Subtotal-2360) > 1e-9 || math.Abs(inv.DiscountAmount-236) > 1e-9 || math.Abs(inv.TotalAmount-2124) > 1e-9 {
		t.Errorf("unexpected totals %+v", inv)
	}
}

func TestIssues(t *testing.T) {
	noTax := models.ProductCandidate{ID: "p-9", Name: "Consulting", Price: 500}

	tests := []struct {
		name  string
		draft models.InvoiceDraft
		disc  float64
		want  []IssueKind
	}{
		{
			name: "no lines",
			draft: models.InvoiceDraft{
				ClientCandidates: []models.ClientCandidate{abcOne},
			},
			want: []IssueKind{IssueNoLines},
		},
		{
			name: "unmatched product",
			draft: models.InvoiceDraft{
				ClientCandidates: []models.ClientCandidate{abcOne},
				Items:            []models.LineItemDraft{{Name: "Teleportation", Quantity: 1}},
			},
			want: []IssueKind{IssueUnresolvedProduct},
		},
		{
			name: "missing tax rate",
			draft: models.InvoiceDraft{
				ClientCandidates: []models.ClientCandidate{abcOne},
				Items:            []models.LineItemDraft{{Name: "Consulting", Quantity: 1, ProductCandidates: []models.ProductCandidate{noTax}}},
			},
			want: []IssueKind{IssueInvalidLine},
		},
		{
			name: "bad discount and no client",
			draft: models.InvoiceDraft{
				Items: []models.LineItemDraft{{Name: "Web Design", Quantity: 1, ProductCandidates: []models.ProductCandidate{webDesign}}},
			},
			disc: 120,
			want: []IssueKind{IssueUnresolvedClient, IssueInvalidDiscount},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New().Resolve(tt.draft)
			if tt.disc != 0 {
				d = d.WithDiscount(tt.disc)
			}
			issues := d.Issues()
			var got []IssueKind
			for _, is := range issues {
				got = append(got, is.Kind)
				if is.Message == "" {
					t.Errorf("issue %s has no message", is.Kind)
				}
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTotals_OnlyMatchedLines(t *testing.T) {
	d := New().Resolve(models.InvoiceDraft{
		Items: []models.LineItemDraft{
			{Name: "Web Design", Quantity: 2, UnitPrice: ptr(1000), ProductCandidates: []models.ProductCandidate{webDesign}},
			{Name: "hosting", Quantity: 1, ProductCandidates: []models.ProductCandidate{hosting, hostingXL}},
		},
	})

	res := d.Totals()
	if len(res.Lines) != 1 || math.Abs(res.Subtotal-2360) > 1e-9 {
		t.Errorf("expected only the matched line to be computed, got %+v", res)
	}
}

func TestTotals_CarriesDraftLineIndex(t *testing.T) {
	d := New().Resolve(models.InvoiceDraft{
		Items: []models.LineItemDraft{
			{Name: "hosting", Quantity: 1, ProductCandidates: []models.ProductCandidate{hosting, hostingXL}},
			{Name: "Web Design", Quantity: 2, UnitPrice: ptr(1000), ProductCandidates: []models.ProductCandidate{webDesign}},
		},
	})

	res := d.Totals()
	if len(res.Lines) != 1 {
		t.Fatalf("expected one computed line, got %+v", res.Lines)
	}
	if res.Lines[0].Index != 1 {
		t.Errorf("expected the computed line to point at draft line 1, got %d", res.Lines[0].Index)
	}
}
