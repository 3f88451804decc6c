package errorwrapper

import (
	"errors"
	"fmt"
)

// Common error types used across the application
var (
	// ErrInvalidInput indicates invalid user input
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
	// ErrScanUnavailable indicates the remote scan service did not answer the liveness probe
	ErrScanUnavailable = errors.New("scan service unavailable")
	// ErrAuthRequired indicates a missing, expired or rejected credential
	ErrAuthRequired = errors.New("authentication required")
	// ErrScanTimeout indicates the scan did not produce a verdict within the deadline
	ErrScanTimeout = errors.New("scan timed out")
	// ErrPromptFailed indicates the host refused to create a user prompt
	ErrPromptFailed = errors.New("prompt creation failed")
	// ErrReinitiationFailed indicates the host rejected a re-issued download request
	ErrReinitiationFailed = errors.New("download reinitiation failed")
	// ErrTokenConsumed indicates an approval token was already used
	ErrTokenConsumed = errors.New("approval token already consumed")
	// ErrInvalidTransition indicates a pending download state change that violates monotonic ordering
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidConfiguration indicates configuration issues
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// WrapError wraps an error with additional context information
func WrapError(err error, message string) error {
	if err == nil {
		return fmt.Errorf("%s: <nil>", message)
	}
	return fmt.Errorf("%s: %w", message, err)
}

// NewError creates a new error with a formatted message
func NewError(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// ValidationError represents validation errors with field-specific information
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field '%s' with value '%v': %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// HTTPError represents HTTP-related errors
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *HTTPError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("HTTP %d error for URL '%s': %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("HTTP %d error: %s", e.StatusCode, e.Message)
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, message string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Message: message}
}

// NewHTTPErrorWithURL creates a new HTTP error with URL context
func NewHTTPErrorWithURL(statusCode int, message, url string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
		URL:        url,
	}
}
