package session

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict is returned when an operation requires a session state the
	// session is not in, e.g. an intervention on a session that is not
	// waiting for human input.
	ErrConflict = errors.New("session state conflict")
)

// ValidationError wraps field-specific validation errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
