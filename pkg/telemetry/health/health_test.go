package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func TestChecker_Run(t *testing.T) {
	c := New(time.Second, "1.2.3")
	c.RegisterCheck("store", func(ctx context.Context) error { return nil })
	c.RegisterCheck("backend", func(ctx context.Context) error { return errors.New("connection refused") })

	status := c.Run(context.Background())
	if status.Status != StatusDegraded {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["store"].Status != StatusOK {
		t.Errorf("store = %+v", status.Checks["store"])
	}
	if got := status.Checks["backend"]; got.Status != StatusUnhealthy || got.Message != "connection refused" {
		t.Errorf("backend = %+v", got)
	}
	if status.Version != "1.2.3" {
		t.Errorf("version = %q", status.Version)
	}

	c.UnregisterCheck("backend")
	if got := c.Run(context.Background()).Status; got != StatusReady {
		t.Errorf("after unregister status = %q, want ready", got)
	}
	if !reflect.DeepEqual(c.ListChecks(), []string{"store"}) {
		t.Errorf("ListChecks() = %v", c.ListChecks())
	}
}

func TestChecker_Timeout(t *testing.T) {
	c := New(20*time.Millisecond, "")
	block := make(chan struct{})
	defer close(block)
	c.RegisterCheck("slow", func(ctx context.Context) error {
		<-block
		return nil
	})

	status := c.Run(context.Background())
	if got := status.Checks["slow"]; got.Status != StatusUnhealthy || got.Message != "health check timeout" {
		t.Errorf("slow = %+v", got)
	}
}

func TestHandlers(t *testing.T) {
	c := New(time.Second, "dev")
	healthy := true
	c.RegisterCheck("backend", func(ctx context.Context) error {
		if !healthy {
			return errors.New("down")
		}
		return nil
	})

	tests := []struct {
		name       string
		healthy    bool
		handler    http.HandlerFunc
		wantCode   int
		wantStatus string
	}{
		{"health ok", true, c.HealthHandler(), http.StatusOK, StatusOK},
		{"health degraded still 200", false, c.HealthHandler(), http.StatusOK, StatusDegraded},
		{"ready ok", true, c.ReadyHandler(), http.StatusOK, StatusReady},
		{"ready degraded", false, c.ReadyHandler(), http.StatusServiceUnavailable, StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			healthy = tt.healthy
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var body Status
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
		})
	}
}

func TestHandlers_Head(t *testing.T) {
	c := New(time.Second, "")
	rec := httptest.NewRecorder()
	c.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Errorf("HEAD got code %d body %q", rec.Code, rec.Body.String())
	}
}
