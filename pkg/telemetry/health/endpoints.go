package health

import (
	"encoding/json"
	"net/http"
)

// HealthHandler serves GET /health. It always answers 200 while the
// process is up; the body carries the per-component detail.
func (c *Checker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := c.Run(r.Context())
		if status.Status == StatusReady {
			status.Status = StatusOK
		}
		writeStatus(w, r, http.StatusOK, status)
	}
}

// ReadyHandler serves GET /ready: 200 when every check passes, 503 otherwise.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := c.Run(r.Context())
		code := http.StatusOK
		if status.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, r, code, status)
	}
}

func writeStatus(w http.ResponseWriter, r *http.Request, code int, status Status) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(status)
	}
}
