// Package validation checks records before stores persist them.
package validation

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/grosser/soft-deletion/pkg/softdelete"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validator is implemented by records with checks struct tags cannot express.
type Validator interface {
	Validate() error
}

// Check runs the `validate` tags of rec and its Validate method, if any.
// Failures are returned as *softdelete.ValidationError.
func Check(rec softdelete.Record) error {
	var (
		messages []string
		cause    error
	)

	if err := validate.Struct(rec); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate %s: %w", rec.TableName(), err)
		}
		for _, fe := range fieldErrs {
			messages = append(messages, message(fe))
		}
		cause = err
	}

	if v, ok := rec.(Validator); ok {
		if err := v.Validate(); err != nil {
			messages = append(messages, err.Error())
			if cause == nil {
				cause = err
			}
		}
	}

	if len(messages) == 0 {
		return nil
	}
	return &softdelete.ValidationError{
		Table:    rec.TableName(),
		ID:       rec.GetID(),
		Messages: messages,
		Err:      cause,
	}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
