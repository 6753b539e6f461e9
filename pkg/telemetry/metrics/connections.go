package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConnectionMetrics tracks WebSocket connections and fan-out.
type ConnectionMetrics struct {
	active     prometheus.Gauge
	total      prometheus.Counter
	deliveries prometheus.Counter
	failures   prometheus.Counter
}

// NewConnectionMetrics creates and registers connection metrics.
func NewConnectionMetrics(namespace string, registry *prometheus.Registry) *ConnectionMetrics {
	cm := &ConnectionMetrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections_active",
			Help:      "Live WebSocket connections",
		}),
		total: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "WebSocket connections accepted",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "deliveries_total",
			Help:      "Messages handed to a connection's send buffer",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "delivery_failures_total",
			Help:      "Sends that failed and marked the connection dead",
		}),
	}

	registry.MustRegister(cm.active, cm.total, cm.deliveries, cm.failures)
	return cm
}
