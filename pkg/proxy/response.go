package proxy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"llamachat-hq/relay/pkg/proxy/types"
)

// WriteJSONResponse writes data as JSON with statusCode.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON response: %w", err)
	}
	return nil
}

// WriteErrorResponse writes errResp with its status code.
func WriteErrorResponse(w http.ResponseWriter, errResp *types.ErrorResponse) error {
	return WriteJSONResponse(w, errResp.HTTPStatusCode(), errResp)
}

// WriteError maps err with HandleError and writes the result. Server
// errors are logged with the request's context.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	errResp := HandleError(err)
	if errResp.HTTPStatusCode() >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	_ = WriteErrorResponse(w, errResp)
}

// WriteNoContent answers 204.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
