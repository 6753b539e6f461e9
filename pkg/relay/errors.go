package relay

import "fmt"

// ValidationError is returned for a request missing required fields.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}

// BlockedError is returned when the prompt contains a blocked keyword.
type BlockedError struct {
	Keyword string
}

// Error implements the error interface.
func (e *BlockedError) Error() string {
	return "Your message contains blocked content"
}

// SinkError is returned when the HTTP caller can no longer be written to.
type SinkError struct {
	Cause error
}

// Error implements the error interface.
func (e *SinkError) Error() string {
	return fmt.Sprintf("failed to write to client: %v", e.Cause)
}

// Unwrap returns the underlying write error.
func (e *SinkError) Unwrap() error {
	return e.Cause
}
