package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"llamachat-hq/relay/pkg/telemetry/logging"
)

// RequestIDHeader is the HTTP header for request ID.
const RequestIDHeader = "X-Request-ID"

// validRequestID bounds what a client may supply; anything else is
// replaced so it cannot pollute logs or WebSocket envelopes.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// RequestID takes the client's X-Request-ID when it is well-formed and
// mints a UUID otherwise. The id is stored in the context (see
// GetRequestID) and echoed in the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if !validRequestID.MatchString(requestID) {
			requestID = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := logging.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return logging.GetRequestID(ctx)
}

// ValidRequestID reports whether id is acceptable as a correlation id.
func ValidRequestID(id string) bool {
	return validRequestID.MatchString(id)
}
