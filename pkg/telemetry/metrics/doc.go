// Package metrics exposes Prometheus metrics for the relay.
//
// A single Collector owns a private registry and implements the observer
// hooks of the relay service, the connection registry and the quota gate,
// so those packages never import Prometheus directly. HTTP traffic is
// recorded by the Middleware wrapper.
//
// Metric families (namespace defaults to "llamachat"):
//
//	relay_requests_total{outcome}            relays by final outcome
//	relay_duration_seconds{outcome}          time from admission to end
//	relay_first_fragment_seconds             time to the first fragment
//	relay_lines_total{kind}                  lines forwarded (fragment|malformed)
//	ws_connections_active                    live WebSocket connections
//	ws_connections_total                     connections ever registered
//	ws_deliveries_total                      successful per-connection sends
//	ws_delivery_failures_total               failed sends
//	quota_charges_total                      accepted quota charges
//	quota_rejections_total                   rejected quota charges
//	backend_up                               1 when the inference backend is healthy
//	http_requests_total{method,route,code}   HTTP requests
//	http_request_duration_seconds{method,route}
//
// When metrics are disabled every recording method is a no-op.
package metrics
