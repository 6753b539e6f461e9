package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RelayMetrics tracks generation relays.
type RelayMetrics struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	firstFragment prometheus.Histogram
	lines         *prometheus.CounterVec
}

// NewRelayMetrics creates and registers relay metrics.
func NewRelayMetrics(namespace string, registry *prometheus.Registry) *RelayMetrics {
	rm := &RelayMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "requests_total",
				Help:      "Generation relays by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "duration_seconds",
				Help:      "Duration of generation relays in seconds",
				// Local models are slow; streams commonly run for minutes.
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		firstFragment: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "first_fragment_seconds",
				Help:      "Time from admission to the first streamed fragment",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		lines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "lines_total",
				Help:      "Stream lines forwarded to callers",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(rm.requests, rm.duration, rm.firstFragment, rm.lines)
	return rm
}

// RecordLine counts a forwarded line.
func (rm *RelayMetrics) RecordLine(malformed bool) {
	kind := "fragment"
	if malformed {
		kind = "malformed"
	}
	rm.lines.WithLabelValues(kind).Inc()
}

// RecordFinished records a completed relay.
func (rm *RelayMetrics) RecordFinished(outcome string, duration time.Duration) {
	rm.requests.WithLabelValues(outcome).Inc()
	rm.duration.WithLabelValues(outcome).Observe(duration.Seconds())
}
