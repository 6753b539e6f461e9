// Package proxy is the HTTP edge of the relay.
//
// The package itself holds the pieces every handler shares: JSON body
// decoding with size limits, the mapping from typed errors to API error
// bodies, and response writers. Subpackages hold the rest:
//
//   - handlers: one type per API area (generate, auth, conversations, ...)
//   - middleware: request ID, logging, recovery, CORS, login rate limiting
//   - types: JSON request and response bodies
//
// Errors are answered as {"error": "..."}; see HandleError for the status
// each error type maps to:
//
//	relay.ValidationError, RequestError     400
//	auth.ErrNoSession, ErrInvalidCredentials 401
//	relay.BlockedError                      403 (+ "keyword")
//	storage.ErrNotFound                     404
//	storage.ErrConflict, default/last model 409
//	limits.QuotaExceededError               429
//	inference errors, anything else         500
package proxy
