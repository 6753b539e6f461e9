// Package middleware provides HTTP middleware for cross-cutting concerns.
//
// # Middleware Chain
//
// The server composes the chain with Chain, outermost first:
//
//	Chain(mux, Recovery, RequestID, Logging, CORS(cfg))
//
//  1. Recovery: turn panics into a 500 {"error": ...}
//  2. RequestID: accept or mint X-Request-ID and put it in the context
//  3. Logging: one line per request with status and latency
//  4. CORS: only when enabled in config; same-origin deployments skip it
//
// LoginRateLimit is applied to the login and register routes only.
//
// # Streaming
//
// The response writer wrapper used by Logging forwards Flush and Hijack,
// so NDJSON streaming and WebSocket upgrades work through the chain.
// There is deliberately no per-request timeout middleware: generation
// streams can legitimately run for minutes and are bounded by the
// client's connection instead.
package middleware
