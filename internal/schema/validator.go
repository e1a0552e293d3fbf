// Package schema validates outbound events before they are published.
package schema

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator checks event structs against their `validate` tags.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate returns an error describing the first failing fields of event.
func (v *Validator) Validate(event any) error {
	if err := v.v.Struct(event); err != nil {
		return fmt.Errorf("schema: invalid event %T: %w", event, err)
	}
	return nil
}
