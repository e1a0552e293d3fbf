package extraction

import (
	"context"
	"errors"
	"testing"

	"voice-invoice-service/internal/models"
)

// testMatcher proposes candidates from fixed tables.
type testMatcher struct {
	clients  map[string][]models.ClientCandidate
	products map[string][]models.ProductCandidate
}

func (m testMatcher) MatchClients(name string) []models.ClientCandidate {
	return m.clients[name]
}

func (m testMatcher) MatchProducts(name string) []models.ProductCandidate {
	return m.products[name]
}

func TestRules_Extract(t *testing.T) {
	m := testMatcher{
		clients: map[string][]models.ClientCandidate{
			"ABC Technologies": {{ID: "c1", Name: "ABC Technologies"}, {ID: "c2", Name: "ABC Technologies"}},
		},
		products: map[string][]models.ProductCandidate{
			"Web Design": {{ID: "p1", Name: "Web Design", Price: 1200}},
		},
	}
	r := NewRules(m)

	transcript := "Create invoice for ABC Technologies Add Web Design quantity 2 at rate 1,000 with 18% GST " +
		"Add Logo Design Apply 10 percent discount"
	draft, err := r.Extract(context.Background(), transcript)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if draft.ClientName != "ABC Technologies" {
		t.Errorf("unexpected client %q", draft.ClientName)
	}
	if len(draft.ClientCandidates) != 2 {
		t.Errorf("expected 2 client candidates, got %d", len(draft.ClientCandidates))
	}
	if len(draft.Items) != 2 {
		t.Fatalf("expected 2 items, got %+v", draft.Items)
	}

	web := draft.Items[0]
	if web.Name != "Web Design" || web.Quantity != 2 {
		t.Errorf("unexpected first item %+v", web)
	}
	if web.UnitPrice == nil || *web.UnitPrice != 1000 {
		t.Errorf("expected unit price 1000, got %v", web.UnitPrice)
	}
	if len(web.ProductCandidates) != 1 {
		t.Errorf("expected candidate for Web Design")
	}

	logo := draft.Items[1]
	if logo.Name != "Logo Design" || logo.Quantity != 1 || logo.UnitPrice != nil {
		t.Errorf("unexpected second item %+v", logo)
	}
	if len(logo.ProductCandidates) != 0 {
		t.Errorf("expected no candidates for Logo Design")
	}

	if draft.Discount != 10 {
		t.Errorf("expected discount 10, got %v", draft.Discount)
	}
	if draft.TaxPercent == nil || *draft.TaxPercent != 18 {
		t.Errorf("expected stated GST 18, got %v", draft.TaxPercent)
	}
}

func TestRules_EmptyTranscript(t *testing.T) {
	if _, err := NewRules(nil).Extract(context.Background(), "  "); !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("expected ErrEmptyTranscript, got %v", err)
	}
}

func TestRules_Unrecognized(t *testing.T) {
	_, err := NewRules(nil).Extract(context.Background(), "the weather is nice today")

	var fe *ExtractionFailedError
	if !errors.As(err, &fe) {
		t.Errorf("expected ExtractionFailedError, got %v", err)
	}
}
