package handlers

import (
	"context"
	"net/http"

	"llamachat-hq/relay/pkg/inference"
	"llamachat-hq/relay/pkg/proxy"
)

// BackendHealth reports the inference backend's observed health.
// Implemented by *inference.Client.
type BackendHealth interface {
	HealthCheck(ctx context.Context) error
	Health() inference.Health
}

// Pinger is anything that can prove it is reachable, such as the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BackendCheck returns a health check that probes the inference backend.
func BackendCheck(backend BackendHealth) func(ctx context.Context) error {
	return backend.HealthCheck
}

// StoreCheck returns a health check that pings the store.
func StoreCheck(p Pinger) func(ctx context.Context) error {
	return p.Ping
}

// BackendStatusHandler serves GET /api/admin/backend with the backend
// health counters kept by the inference client.
type BackendStatusHandler struct {
	backend BackendHealth
}

// NewBackendStatusHandler creates the handler.
func NewBackendStatusHandler(backend BackendHealth) *BackendStatusHandler {
	return &BackendStatusHandler{backend: backend}
}

// ServeHTTP implements http.Handler.
func (h *BackendStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = proxy.WriteJSONResponse(w, http.StatusOK, h.backend.Health())
}
