// Package telemetry groups the relay's observability packages:
//
//   - logging: slog setup with secret redaction and request-scoped fields
//   - metrics: Prometheus collector wired into the relay's observer hooks
//   - tracing: OpenTelemetry provider and W3C context propagation
//   - health: /health and /ready
package telemetry
