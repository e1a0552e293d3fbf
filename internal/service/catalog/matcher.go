package catalog

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.85
	defaultFuzzyThreshold    = 0.90
	defaultMargin            = 0.02
)

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for names that
// share a Double Metaphone code with the query. Default: 0.85.
func WithPhoneticThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for names without a
// phonetic overlap. Default: 0.90.
func WithFuzzyThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// WithMargin sets how far below the best score a name may rank and still be
// returned as a candidate. Default: 0.02.
func WithMargin(margin float64) MatcherOption {
	return func(m *Matcher) { m.margin = margin }
}

// Matcher ranks catalog names against a dictated reference. It is read-only
// after construction and safe for concurrent use.
//
// Exact matches (case and whitespace insensitive) win outright, so two
// catalog entries sharing a name are both returned. Otherwise names are
// scored with Jaro-Winkler on the full and space-stripped strings; a Double
// Metaphone overlap lowers the acceptance threshold. Every accepted name
// within the margin of the best score is a candidate.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	margin            float64
}

// NewMatcher returns a Matcher with the supplied options.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		margin:            defaultMargin,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

type scored struct {
	index int
	score float64
}

// Rank returns the indexes of names matching query, best first. Ties keep
// catalog order.
func (m *Matcher) Rank(query string, names []string) []int {
	q := normalize(query)
	if q == "" || len(names) == 0 {
		return nil
	}

	var exact []int
	for i, n := range names {
		if normalize(n) == q {
			exact = append(exact, i)
		}
	}
	if len(exact) > 0 {
		return exact
	}

	qTokens := strings.Fields(q)
	qCodes := codesForTokens(qTokens)

	var accepted []scored
	best := 0.0
	for i, n := range names {
		nn := normalize(n)
		if nn == "" {
			continue
		}
		nTokens := strings.Fields(nn)
		score := jwScore(qTokens, nTokens, q, nn)

		threshold := m.fuzzyThreshold
		if codesOverlap(qCodes, codesForTokens(nTokens)) {
			threshold = m.phoneticThreshold
		}
		if score < threshold {
			continue
		}
		accepted = append(accepted, scored{index: i, score: score})
		if score > best {
			best = score
		}
	}

	sort.SliceStable(accepted, func(a, b int) bool {
		return accepted[a].score > accepted[b].score
	})

	out := make([]int, 0, len(accepted))
	for _, c := range accepted {
		if c.score+m.margin < best {
			break
		}
		out = append(out, c.index)
	}
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// codesForTokens returns the union of Double Metaphone codes for tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// jwScore compares full strings and space-stripped strings. Pairwise token
// scores are not used: a shared word such as "web" would otherwise make
// every "Web ..." product a candidate.
func jwScore(qTokens, nTokens []string, q, n string) float64 {
	score := matchr.JaroWinkler(q, n, false)
	if len(qTokens) > 1 || len(nTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(qTokens, ""), strings.Join(nTokens, ""), false); s > score {
			score = s
		}
	}
	return score
}
