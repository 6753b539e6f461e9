package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"llamachat-hq/relay/pkg/proxy"
	"llamachat-hq/relay/pkg/proxy/middleware"
	"llamachat-hq/relay/pkg/proxy/types"
	"llamachat-hq/relay/pkg/relay"
	"llamachat-hq/relay/pkg/security/auth"
)

// Relayer runs one generation request. Implemented by *relay.Service.
type Relayer interface {
	Relay(ctx context.Context, req *relay.Request, userID int64, sink relay.Sink) (*relay.Result, error)
}

// GenerateHandler serves POST /api/llama/generate.
type GenerateHandler struct {
	relay        Relayer
	maxBodyBytes int64
}

// NewGenerateHandler creates a generate handler.
func NewGenerateHandler(r Relayer, maxBodyBytes int64) *GenerateHandler {
	return &GenerateHandler{relay: r, maxBodyBytes: maxBodyBytes}
}

// ServeHTTP decodes the request, hands it to the relay and writes either
// the raw NDJSON stream or the single upstream object.
func (h *GenerateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		_ = proxy.WriteErrorResponse(w, types.NewUnauthorizedError("Not authenticated"))
		return
	}

	var body types.GenerateRequest
	if err := proxy.DecodeJSON(w, r, h.maxBodyBytes, &body); err != nil {
		proxy.WriteError(w, r, err)
		return
	}

	requestID := middleware.GetRequestID(ctx)
	if body.MessageID != "" && middleware.ValidRequestID(body.MessageID) {
		requestID = body.MessageID
	}
	w.Header().Set(middleware.RequestIDHeader, requestID)

	req := &relay.Request{
		Model:       body.Model,
		Prompt:      body.Prompt,
		Stream:      body.Stream,
		Temperature: body.Temperature,
		TopP:        body.TopP,
		TopK:        body.TopK,
		MaxTokens:   body.MaxTokens,
		RequestID:   requestID,
	}

	sink := newHTTPSink(w)
	result, err := h.relay.Relay(ctx, req, user.ID, sink)
	if err != nil {
		if sink.begun {
			// Headers are out; the body simply ends here.
			var sinkErr *relay.SinkError
			if !errors.As(err, &sinkErr) {
				slog.WarnContext(ctx, "generation stream ended early",
					"request_id", requestID,
					"error", err,
				)
			}
			return
		}
		proxy.WriteError(w, r, err)
		return
	}

	if !req.Stream {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(result.Body); err != nil {
			slog.DebugContext(ctx, "failed to write generation result", "request_id", requestID, "error", err)
		}
	}
}

// httpSink writes backend lines straight to the response.
type httpSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	begun   bool
}

func newHTTPSink(w http.ResponseWriter) *httpSink {
	flusher, _ := w.(http.Flusher)
	return &httpSink{w: w, flusher: flusher}
}

// Begin commits a 200 with the streaming headers.
func (s *httpSink) Begin() error {
	if s.begun {
		return nil
	}
	h := s.w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	s.w.WriteHeader(http.StatusOK)
	s.begun = true
	s.flush()
	return nil
}

// WriteFragment writes raw unchanged and flushes it.
func (s *httpSink) WriteFragment(raw []byte) error {
	if _, err := s.w.Write(raw); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *httpSink) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// Canceller asks the backend to stop generating.
type Canceller interface {
	Cancel(ctx context.Context) error
}

// CancelHandler serves POST /api/llama/cancel.
type CancelHandler struct {
	backend Canceller
}

// NewCancelHandler creates a cancel handler.
func NewCancelHandler(backend Canceller) *CancelHandler {
	return &CancelHandler{backend: backend}
}

// ServeHTTP forwards the cancel. The backend offers no per-request cancel,
// so this stops whatever it is currently generating.
func (h *CancelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.Cancel(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "cancel failed", "error", err)
		_ = proxy.WriteErrorResponse(w, types.NewServerError("Failed to cancel generation"))
		return
	}
	_ = proxy.WriteJSONResponse(w, http.StatusOK, types.SuccessResponse{Success: true})
}
