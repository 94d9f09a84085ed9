package validator

import (
	"sync"

	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate
	once     sync.Once
)

// GetValidator returns the shared validator instance
func GetValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ValidateStruct checks the validate tags of v. Field failures are attached
// as reportable details and the error is marked ErrValidation.
func ValidateStruct(v interface{}) error {
	if err := GetValidator().Struct(v); err != nil {
		details := make(map[string]any)
		var validateErrs validator.ValidationErrors
		if ierr.As(err, &validateErrs) {
			for _, fieldErr := range validateErrs {
				details[fieldErr.Namespace()] = fieldErr.Tag()
			}
		}
		return ierr.WithError(err).
			WithHint("Validation failed").
			WithReportableDetails(details).
			Mark(ierr.ErrValidation)
	}
	return nil
}
