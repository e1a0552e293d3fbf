package extraction

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"voice-invoice-service/internal/models"
)

var (
	clauseRe   = regexp.MustCompile(`(?i)\b(create|add|apply)\b`)
	clientRe   = regexp.MustCompile(`(?i)\binvoice\s+(?:for|to)\s+(.+)`)
	qtyRe      = regexp.MustCompile(`(?i)\b(?:quantity|qty)\s+(\d[\d,]*(?:\.\d+)?)`)
	rateRe     = regexp.MustCompile(`(?i)\b(?:rate|price)\s+(?:of\s+)?(\d[\d,]*(?:\.\d+)?)`)
	percentRe  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:%|percent)(?:\s+(gst|tax|discount))?`)
	nameStopRe = regexp.MustCompile(`(?i)\s+(?:quantity|qty|at|rate|price|with|for)\b`)
)

// Rules is an offline Extractor that understands the dictation phrasing
//
//	create invoice for <client>
//	add <product> quantity <n> at rate <price> with <t>% GST
//	apply <d> percent discount
//
// and attaches candidates from a Matcher. It stands in for the extraction
// service in local runs.
type Rules struct {
	matcher Matcher
}

// NewRules creates a rule-based extractor.
func NewRules(m Matcher) *Rules {
	return &Rules{matcher: m}
}

// Extract implements Extractor.
func (r *Rules) Extract(ctx context.Context, transcript string) (*models.InvoiceDraft, error) {
	t, err := CheckTranscript(transcript)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var draft models.InvoiceDraft
	for _, c := range splitClauses(t) {
		switch c.verb {
		case "create":
			if m := clientRe.FindStringSubmatch(c.body); m != nil {
				draft.ClientName = trimName(m[1])
			}
		case "add":
			if item, ok := parseItem(c.body); ok {
				draft.Items = append(draft.Items, item)
			}
		case "apply":
			for _, m := range percentRe.FindAllStringSubmatch(c.body, -1) {
				if strings.EqualFold(m[2], "gst") || strings.EqualFold(m[2], "tax") {
					continue
				}
				draft.Discount = parseNumber(m[1])
				break
			}
		}
		if tax, ok := statedTax(c.body); ok {
			draft.TaxPercent = &tax
		}
	}

	if draft.ClientName == "" && len(draft.Items) == 0 {
		return nil, &ExtractionFailedError{Message: "no client or line items recognized"}
	}

	out := draft.Normalize()
	AttachCandidates(&out, r.matcher)
	return &out, nil
}

type clause struct {
	verb string
	body string
}

func splitClauses(t string) []clause {
	locs := clauseRe.FindAllStringSubmatchIndex(t, -1)
	out := make([]clause, 0, len(locs))
	for i, loc := range locs {
		end := len(t)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out = append(out, clause{
			verb: strings.ToLower(t[loc[2]:loc[3]]),
			body: strings.TrimSpace(t[loc[1]:end]),
		})
	}
	return out
}

func parseItem(body string) (models.LineItemDraft, bool) {
	name := body
	if loc := nameStopRe.FindStringIndex(body); loc != nil {
		name = body[:loc[0]]
	}
	name = trimName(name)
	if name == "" {
		return models.LineItemDraft{}, false
	}

	item := models.LineItemDraft{Name: name}
	if m := qtyRe.FindStringSubmatch(body); m != nil {
		item.Quantity = parseNumber(m[1])
	}
	if m := rateRe.FindStringSubmatch(body); m != nil {
		p := parseNumber(m[1])
		item.UnitPrice = &p
	}
	return item, true
}

func statedTax(body string) (float64, bool) {
	for _, m := range percentRe.FindAllStringSubmatch(body, -1) {
		if strings.EqualFold(m[2], "gst") || strings.EqualFold(m[2], "tax") {
			return parseNumber(m[1]), true
		}
	}
	return 0, false
}

func parseNumber(s string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}

func trimName(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), ".,;:"))
}
