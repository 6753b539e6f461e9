package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"llamachat-hq/relay/pkg/proxy/types"
)

const (
	// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
	DefaultMaxBodyBytes = 1 << 20

	// RequestIDHeader is the HTTP header for request ID propagation.
	RequestIDHeader = "X-Request-ID"
)

// RequestError is a request that could not be decoded or validated.
type RequestError struct {
	Message string
	Param   string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("invalid request (%s): %s", e.Param, e.Message)
	}
	return e.Message
}

// ToErrorResponse converts the error to a 400 body.
func (e *RequestError) ToErrorResponse() *types.ErrorResponse {
	return types.NewBadRequestError(e.Message)
}

// validator is implemented by request bodies with required fields.
type validator interface {
	Validate() error
}

// DecodeJSON reads a JSON body of at most maxBytes into v and validates it
// when v has a Validate method. Errors are *RequestError.
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	body := http.MaxBytesReader(w, r.Body, maxBytes)

	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return &RequestError{
				Message: fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit),
				Param:   "body",
			}
		case errors.Is(err, io.EOF):
			return &RequestError{Message: "Request body is required", Param: "body"}
		default:
			return &RequestError{Message: "Invalid JSON", Param: "body"}
		}
	}

	if val, ok := v.(validator); ok {
		if err := val.Validate(); err != nil {
			return &RequestError{Message: err.Error()}
		}
	}
	return nil
}

// PathID parses the {name} path value as a positive integer.
func PathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ClientIP returns the caller's address without the port. The relay is
// expected to run behind at most one trusted reverse proxy, so only the
// last X-Forwarded-For hop is honoured.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(hops[len(hops)-1]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
