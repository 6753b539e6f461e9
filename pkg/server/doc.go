// Package server builds the relay from configuration and runs it.
//
// New opens the store, loads the TLS key pair when server.tls is enabled,
// resolves a ${secret:name} session secret, creates the inference client,
// session manager, connection registry, metrics collector and tracer, and
// registers every
// route on a Go 1.22 pattern mux. Start then restores persisted state (the
// blocked keyword list and the backend URL saved by the setup wizard),
// starts the background workers and serves until its context ends.
//
// # Routes
//
//   - /api/register, /api/login, /api/logout, /api/user[/profile]
//   - /api/setup/status, /api/setup, /api/app-info, /api/settings/llm
//   - /api/conversations[/{id}[/messages]]
//   - /api/admin/{blocked-keywords,users,models,backend}
//   - POST /api/llama/generate, POST /api/llama/cancel
//   - GET /ws (configurable)
//   - GET /health, GET /ready, GET /metrics
//
// # Middleware Chain
//
// Outermost first: Recovery, RequestID, tracing, Logging, metrics, CORS.
// Register, login and setup are additionally throttled per client IP.
//
// # Background Workers
//
// The backend health checker, the backend_up gauge, the quota reset cron
// job, the certificate reloader when TLS is on and, when a config path was
// given, the config file watcher.
//
// # Graceful Shutdown
//
// When the Start context ends the listener closes and in-flight requests
// get server.shutdown_timeout to finish. Every WebSocket connection is then
// closed, pending spans are flushed and the store is closed.
package server
