package resolution

import (
	"errors"
	"fmt"

	"voice-invoice-service/internal/models"
)

// ErrLineOutOfRange is returned when a line index does not exist in the draft.
var ErrLineOutOfRange = errors.New("line index out of range")

// SelectClient returns a copy of d with c as the confirmed client. Any
// pending candidate list is cleared.
func (d *Draft) SelectClient(c models.ClientCandidate) *Draft {
	out := d.Clone()
	out.Client.Status = StatusAutoMatched
	out.Client.Selected = &c
	out.Client.Candidates = nil
	out.Client.Confirmed = true
	return out
}

// DismissClient returns a copy of d whose client is explicitly unmatched.
func (d *Draft) DismissClient() *Draft {
	out := d.Clone()
	out.Client.Status = StatusUnmatched
	out.Client.Selected = nil
	out.Client.Candidates = nil
	out.Client.Confirmed = false
	return out
}

// SelectProduct returns a copy of d with line i matched to c. The dictated
// quantity and unit price are kept under the same rules as auto-adoption.
func (d *Draft) SelectProduct(i int, c models.ProductCandidate) (*Draft, error) {
	if err := d.checkLine(i); err != nil {
		return nil, err
	}
	out := d.Clone()
	l := &out.Lines[i]
	l.adopt(c)
	l.Confirmed = true
	return out, nil
}

// DismissProduct returns a copy of d with line i explicitly unmatched.
func (d *Draft) DismissProduct(i int) (*Draft, error) {
	if err := d.checkLine(i); err != nil {
		return nil, err
	}
	out := d.Clone()
	l := &out.Lines[i]
	l.Status = StatusUnmatched
	l.Selected = nil
	l.Candidates = nil
	l.Confirmed = false
	l.Line = nil
	return out, nil
}

// WithDiscount returns a copy of d with a new discount percent. Range checks
// happen at finalization.
func (d *Draft) WithDiscount(percent float64) *Draft {
	out := d.Clone()
	out.DiscountPercent = percent
	return out
}

func (d *Draft) checkLine(i int) error {
	if i < 0 || i >= len(d.Lines) {
		return fmt.Errorf("%w: %d of %d", ErrLineOutOfRange, i, len(d.Lines))
	}
	return nil
}
