package inference

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoEndpoint is returned when the client has no generate URL configured.
var ErrNoEndpoint = errors.New("inference endpoint not configured")

// UpstreamError is a non-2xx answer from the backend.
type UpstreamError struct {
	// StatusCode is the HTTP status returned by the backend.
	StatusCode int

	// Message is the backend's error text, taken from {"error":"..."} when
	// present and the raw body otherwise.
	Message string

	// Cause is the underlying transport error, if any.
	Cause error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("inference backend error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("inference backend error: %s", e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// ModelNotFoundError is returned when the backend does not know the model.
type ModelNotFoundError struct {
	Model string
}

// Error implements the error interface.
func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %q not found on inference backend", e.Model)
}

// TimeoutError is returned when a call exceeds the configured timeout.
type TimeoutError struct {
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("inference request timeout after %s", e.Timeout)
}

// ParseError is a backend response that could not be decoded.
type ParseError struct {
	// RawResponse is the body (or line) that failed to decode.
	RawResponse string

	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("inference response parse error: %v", e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// StreamError terminates a stream that broke after it was opened.
type StreamError struct {
	// Fragments is how many fragments were decoded before the failure.
	Fragments int

	Cause error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	return fmt.Sprintf("inference stream failed after %d fragments: %v", e.Fragments, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *StreamError) Unwrap() error {
	return e.Cause
}

// ConfigError is an invalid client configuration.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("inference config error for %q: %s", e.Field, e.Message)
}
