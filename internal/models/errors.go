package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation error")
	ErrConfiguration     = errors.New("configuration error")
	ErrAccessDenied      = errors.New("access denied")
	ErrNoPlaceholders    = errors.New("no placeholders found")
	ErrExternalService   = errors.New("external service error")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStaleRequest      = errors.New("stale request")
)

// FieldError describes a problem with a single input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects field errors. Kind is ErrValidation or
// ErrConfiguration and is what errors.Is matches against.
type ValidationError struct {
	Kind   error
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	prefix := "validation"
	if e.Kind == ErrConfiguration {
		prefix = "configuration"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("%s: %s: %s", prefix, e.Errors[0].Field, e.Errors[0].Message)
	}
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return fmt.Sprintf("%s: %s", prefix, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	if e.Kind == nil {
		return ErrValidation
	}
	return e.Kind
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Kind: ErrValidation, Errors: []FieldError{{Field: field, Message: message}}}
}

func NewConfigurationError(errs ...FieldError) *ValidationError {
	return &ValidationError{Kind: ErrConfiguration, Errors: errs}
}

// ExternalServiceError is a non-2xx or malformed response from Airtable,
// Google or Gotenberg. Message keeps the upstream text when there is one.
type ExternalServiceError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

func (e *ExternalServiceError) Unwrap() error { return ErrExternalService }
