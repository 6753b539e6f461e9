package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"llamachat-hq/relay/pkg/config"
)

func TestNew_Disabled(t *testing.T) {
	tr, err := New(&config.TracingConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tr.Enabled() {
		t.Error("expected disabled tracer")
	}

	ctx, span := tr.Start(context.Background(), "noop")
	span.End()
	if TraceID(ctx) != "" {
		t.Error("noop span should not carry a trace id")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(nil, "test"); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestNewWithExporter_RecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	cfg := &config.TracingConfig{Enabled: true, Sampler: SamplerAlways}

	tr, err := NewWithExporter(cfg, "test", exporter)
	if err != nil {
		t.Fatalf("NewWithExporter: %v", err)
	}
	defer tr.Shutdown(context.Background())

	ctx, span := tr.Start(context.Background(), "relay.generate")
	if TraceID(ctx) == "" || SpanID(ctx) == "" {
		t.Error("expected valid trace and span ids")
	}
	SetError(span, errors.New("backend down"))
	SetError(span, nil)
	span.End()

	if err := tr.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	if spans[0].Name != "relay.generate" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if len(spans[0].Events) != 1 {
		t.Errorf("expected one recorded error event, got %d", len(spans[0].Events))
	}
}

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		strategy string
		ratio    float64
		wantErr  bool
	}{
		{SamplerAlways, 0, false},
		{SamplerNever, 0, false},
		{SamplerRatio, 0.5, false},
		{"", 0.1, false},
		{SamplerRatio, 1.5, true},
		{"sometimes", 0, true},
	}
	for _, tt := range tests {
		_, err := createSampler(tt.strategy, tt.ratio)
		if (err != nil) != tt.wantErr {
			t.Errorf("createSampler(%q, %v) err = %v, wantErr %v", tt.strategy, tt.ratio, err, tt.wantErr)
		}
	}
}

func TestHTTPMiddleware_ContinuesTrace(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tr, err := NewWithExporter(&config.TracingConfig{Enabled: true, Sampler: SamplerAlways}, "test", exporter)
	if err != nil {
		t.Fatalf("NewWithExporter: %v", err)
	}
	defer tr.Shutdown(context.Background())

	var seen string
	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
	}))

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != traceID {
		t.Errorf("handler trace id = %q, want %q", seen, traceID)
	}
	if rec.Header().Get("X-Trace-ID") != traceID {
		t.Errorf("X-Trace-ID = %q", rec.Header().Get("X-Trace-ID"))
	}

	_ = tr.ForceFlush(context.Background())
	var server bool
	for _, s := range exporter.GetSpans() {
		if s.SpanKind.String() == "server" {
			server = true
		}
	}
	if !server {
		t.Error("expected a server span")
	}
}

func TestInject(t *testing.T) {
	tr, err := NewWithExporter(&config.TracingConfig{Enabled: true, Sampler: SamplerAlways}, "test", tracetest.NewInMemoryExporter())
	if err != nil {
		t.Fatalf("NewWithExporter: %v", err)
	}
	defer tr.Shutdown(context.Background())

	ctx, span := tr.Start(context.Background(), "outbound")
	defer span.End()

	headers := http.Header{}
	Inject(ctx, headers)
	if headers.Get("traceparent") == "" {
		t.Error("expected traceparent header")
	}
}

var _ sdktrace.SpanExporter = (*tracetest.InMemoryExporter)(nil)
