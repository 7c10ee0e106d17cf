package generation

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrQuotaExceeded       = errors.New("free trial limit reached")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrTaskNotFound        = errors.New("task not found")
	ErrNotOwner            = errors.New("task belongs to another identity")
	ErrPollTimeout         = errors.New("timed out waiting for task")
)

// ValidationError describes a rejected request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ProviderError is a provider-side failure. Permanent errors (bad key,
// malformed request) must not be retried.
type ProviderError struct {
	StatusCode int
	Message    string
	Permanent  bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
	}
	return "provider error: " + e.Message
}
