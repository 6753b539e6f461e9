// Package handlers implements the HTTP and WebSocket endpoints of the relay.
//
// Handlers are plain structs holding their collaborators. Single-endpoint
// handlers implement http.Handler; the rest expose one method per route,
// which the server mounts on an http.ServeMux with method patterns:
//
//	auth := handlers.NewAuthHandler(store, sessions, maxBody)
//	mux.HandleFunc("POST /api/login", auth.Login)
//	mux.Handle("POST /api/llama/generate", authn.RequireUser(handlers.NewGenerateHandler(relaySvc, maxBody)))
//
// # Generation
//
// GenerateHandler adapts the HTTP response to relay.Sink. Nothing is written
// until the backend has accepted the request, so validation, keyword, quota
// and connection failures still produce a JSON error with the proper status.
// Once streaming has begun the body carries the backend's NDJSON lines
// verbatim and a failure just ends it; the WebSocket channel carries the
// streamError.
//
// The X-Request-ID response header holds the correlation id used in every
// WebSocket envelope of the request. A valid client messageId wins over the
// middleware's id.
//
// # WebSocket
//
// Every socket gets a welcome envelope, then must send
//
//	{"type":"auth","payload":{"userId":42}}
//
// before it receives the user's broadcasts. When the upgrade request
// carries a session cookie the claimed user must match it. Outbound frames
// go through a bounded per-connection queue drained by one writer; a
// connection whose queue fills up is closed.
//
// # Errors
//
// Errors are written through proxy.WriteError, which maps typed errors to a
// status and a {"error": "..."} body.
package handlers
