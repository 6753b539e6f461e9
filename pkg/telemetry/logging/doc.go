// Package logging builds the process logger on top of log/slog.
//
// # Overview
//
//   - JSON or text output
//   - A slog.LevelVar so the level can change when the config file is reloaded
//   - Redaction of secrets (passwords, session tokens, cookies, bearer tokens)
//   - request_id and user_id taken from the context on *Context calls
//
// # Usage
//
//	logger, level, err := logging.New(logging.Config{
//	    Level:     "info",
//	    Format:    "json",
//	    RedactPII: true,
//	})
//	slog.SetDefault(logger)
//
//	// later, on config reload
//	_ = logging.SetLevel(level, "debug")
//
// Request-scoped fields are attached by middleware and picked up
// automatically:
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	slog.InfoContext(ctx, "relay started") // includes request_id=req-123
package logging
