package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"llamachat-hq/relay/pkg/config"
	"llamachat-hq/relay/pkg/limits"
	"llamachat-hq/relay/pkg/registry"
	"llamachat-hq/relay/pkg/relay"
)

// Compile-time checks that the collector plugs into every observer hook.
var (
	_ relay.Observer       = (*Collector)(nil)
	_ registry.Observer    = (*Collector)(nil)
	_ limits.QuotaObserver = (*Collector)(nil)
)

func testCollector(enabled bool) *Collector {
	return NewCollector(&config.MetricsConfig{Enabled: enabled, Namespace: "test"}, prometheus.NewRegistry())
}

func TestCollector_RelayMetrics(t *testing.T) {
	c := testCollector(true)

	c.LineRelayed(false)
	c.LineRelayed(false)
	c.LineRelayed(true)
	c.FirstFragment(120 * time.Millisecond)
	c.RelayFinished(relay.OutcomeCompleted, 2*time.Second)
	c.RelayFinished(relay.OutcomeError, time.Second)
	c.RelayFinished(relay.OutcomeCompleted, time.Second)

	if got := testutil.ToFloat64(c.relay.lines.WithLabelValues("fragment")); got != 2 {
		t.Errorf("fragment lines = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.relay.lines.WithLabelValues("malformed")); got != 1 {
		t.Errorf("malformed lines = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.relay.requests.WithLabelValues(relay.OutcomeCompleted)); got != 2 {
		t.Errorf("completed relays = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(c.relay.firstFragment); got != 1 {
		t.Errorf("first fragment series = %d, want 1", got)
	}
}

func TestCollector_ConnectionMetrics(t *testing.T) {
	c := testCollector(true)

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.Delivered(3)
	c.Delivered(0)
	c.DeliveryFailed()

	if got := testutil.ToFloat64(c.connections.active); got != 1 {
		t.Errorf("active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.connections.total); got != 2 {
		t.Errorf("total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.connections.deliveries); got != 3 {
		t.Errorf("deliveries = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.connections.failures); got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}
}

func TestCollector_QuotaAndBackend(t *testing.T) {
	c := testCollector(true)

	c.QuotaCharged()
	c.QuotaCharged()
	c.QuotaRejected()
	c.SetBackendHealthy(true)

	if got := testutil.ToFloat64(c.quotaCharges); got != 2 {
		t.Errorf("charges = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.quotaRejections); got != 1 {
		t.Errorf("rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.backendUp); got != 1 {
		t.Errorf("backend up = %v, want 1", got)
	}

	c.SetBackendHealthy(false)
	if got := testutil.ToFloat64(c.backendUp); got != 0 {
		t.Errorf("backend up = %v, want 0", got)
	}
}

func TestCollector_Disabled(t *testing.T) {
	c := testCollector(false)

	c.LineRelayed(false)
	c.ConnectionOpened()
	c.QuotaCharged()
	c.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)

	if got := testutil.ToFloat64(c.connections.active); got != 0 {
		t.Errorf("disabled collector recorded active = %v", got)
	}
	if got := testutil.ToFloat64(c.quotaCharges); got != 0 {
		t.Errorf("disabled collector recorded charges = %v", got)
	}
	if c.Enabled() {
		t.Error("Enabled() = true")
	}
}

func TestCollector_Middleware(t *testing.T) {
	c := testCollector(true)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := c.Middleware(mux)

	for _, path := range []string{"/api/things/1", "/api/things/2", "/nowhere"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(c.http.requests.WithLabelValues("GET", "GET /api/things/{id}", "418")); got != 2 {
		t.Errorf("route requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.http.requests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("unmatched requests = %v, want 1", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := testCollector(true)
	c.QuotaRejected()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "test_quota_rejections_total 1") {
		t.Errorf("scrape missing quota metric:\n%s", rec.Body.String())
	}
}

func TestNewCollector_DefaultRegistry(t *testing.T) {
	c := NewCollector(&config.MetricsConfig{Enabled: true}, nil)
	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sawGo bool
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "go_") {
			sawGo = true
		}
	}
	if !sawGo {
		t.Error("expected runtime collector metrics")
	}
}

func TestCardinalityLimiter(t *testing.T) {
	cl := NewCardinalityLimiter(2)
	if !cl.Allow("a") || !cl.Allow("b") || !cl.Allow("a") {
		t.Fatal("expected first two label sets to be allowed")
	}
	if cl.Allow("c") {
		t.Error("third label set should be refused")
	}
	if cl.Count() != 2 {
		t.Errorf("Count() = %d, want 2", cl.Count())
	}
}
