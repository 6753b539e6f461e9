package types

import "net/http"

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	// Error is a human-readable message.
	Error string `json:"error"`

	// Keyword names the blocked keyword that refused a prompt.
	Keyword string `json:"keyword,omitempty"`

	status int
}

// NewErrorResponse creates an error body answered with status.
func NewErrorResponse(status int, message string) *ErrorResponse {
	return &ErrorResponse{Error: message, status: status}
}

// HTTPStatusCode returns the status to answer with (500 when unset).
func (e *ErrorResponse) HTTPStatusCode() int {
	if e.status == 0 {
		return http.StatusInternalServerError
	}
	return e.status
}

// NewBadRequestError creates a 400 answer.
func NewBadRequestError(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusBadRequest, message)
}

// NewUnauthorizedError creates a 401 answer.
func NewUnauthorizedError(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusUnauthorized, message)
}

// NewForbiddenError creates a 403 answer.
func NewForbiddenError(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusForbidden, message)
}

// NewBlockedError creates the 403 answer for a refused prompt.
func NewBlockedError(message, keyword string) *ErrorResponse {
	resp := NewErrorResponse(http.StatusForbidden, message)
	resp.Keyword = keyword
	return resp
}

// NewNotFoundError creates a 404 answer.
func NewNotFoundError(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusNotFound, message)
}

// NewConflictError creates a 409 answer.
func NewConflictError(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusConflict, message)
}

// NewTooManyRequestsError creates a 429 answer.
func NewTooManyRequestsError(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusTooManyRequests, message)
}

// NewServerError creates a 500 answer.
func NewServerError(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusInternalServerError, message)
}
