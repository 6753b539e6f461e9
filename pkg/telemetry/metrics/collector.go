package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"llamachat-hq/relay/pkg/config"
)

// Collector owns every metric the relay exports.
type Collector struct {
	enabled  bool
	registry *prometheus.Registry

	relay       *RelayMetrics
	connections *ConnectionMetrics
	http        *HTTPMetrics

	quotaCharges    prometheus.Counter
	quotaRejections prometheus.Counter
	backendUp       prometheus.Gauge

	// Route labels come from registered mux patterns, but unmatched
	// requests could still blow up the series count.
	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector. If registry is nil a fresh one is
// created with the Go runtime and process collectors attached.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = config.DefaultMetricsNamespace
	}

	c := &Collector{
		enabled:            cfg.Enabled,
		registry:           registry,
		cardinalityLimiter: NewCardinalityLimiter(500),
	}

	c.relay = NewRelayMetrics(namespace, registry)
	c.connections = NewConnectionMetrics(namespace, registry)
	c.http = NewHTTPMetrics(namespace, registry)

	c.quotaCharges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "quota",
		Name:      "charges_total",
		Help:      "Requests charged against a user quota",
	})
	c.quotaRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "quota",
		Name:      "rejections_total",
		Help:      "Requests rejected because the quota was exhausted",
	})
	c.backendUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "backend",
		Name:      "up",
		Help:      "Whether the inference backend passed its last health check (1) or not (0)",
	})
	registry.MustRegister(c.quotaCharges, c.quotaRejections, c.backendUp)

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Enabled reports whether recording is on.
func (c *Collector) Enabled() bool {
	return c.enabled
}

// LineRelayed implements relay.Observer.
func (c *Collector) LineRelayed(malformed bool) {
	if !c.enabled {
		return
	}
	c.relay.RecordLine(malformed)
}

// FirstFragment implements relay.Observer.
func (c *Collector) FirstFragment(latency time.Duration) {
	if !c.enabled {
		return
	}
	c.relay.firstFragment.Observe(latency.Seconds())
}

// RelayFinished implements relay.Observer.
func (c *Collector) RelayFinished(outcome string, duration time.Duration) {
	if !c.enabled {
		return
	}
	c.relay.RecordFinished(outcome, duration)
}

// ConnectionOpened implements registry.Observer.
func (c *Collector) ConnectionOpened() {
	if !c.enabled {
		return
	}
	c.connections.active.Inc()
	c.connections.total.Inc()
}

// ConnectionClosed implements registry.Observer.
func (c *Collector) ConnectionClosed() {
	if !c.enabled {
		return
	}
	c.connections.active.Dec()
}

// Delivered implements registry.Observer.
func (c *Collector) Delivered(n int) {
	if !c.enabled || n <= 0 {
		return
	}
	c.connections.deliveries.Add(float64(n))
}

// DeliveryFailed implements registry.Observer.
func (c *Collector) DeliveryFailed() {
	if !c.enabled {
		return
	}
	c.connections.failures.Inc()
}

// QuotaCharged implements limits.QuotaObserver.
func (c *Collector) QuotaCharged() {
	if !c.enabled {
		return
	}
	c.quotaCharges.Inc()
}

// QuotaRejected implements limits.QuotaObserver.
func (c *Collector) QuotaRejected() {
	if !c.enabled {
		return
	}
	c.quotaRejections.Inc()
}

// SetBackendHealthy records the latest backend health probe.
func (c *Collector) SetBackendHealthy(healthy bool) {
	if !c.enabled {
		return
	}
	if healthy {
		c.backendUp.Set(1)
	} else {
		c.backendUp.Set(0)
	}
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, route string, code int, duration time.Duration) {
	if !c.enabled {
		return
	}
	if !c.cardinalityLimiter.Allow(method + " " + route) {
		route = "other"
	}
	c.http.Record(method, route, code, duration)
}

// CardinalityLimiter caps the number of distinct label sets.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter allowing maxCardinality label sets.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether labelSet is already known or still fits.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the number of label sets seen.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
