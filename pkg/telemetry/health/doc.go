// Package health serves the liveness and readiness endpoints.
//
// Components register a named CheckFunc (the relay registers "store",
// which pings the database, and "backend", which reports the inference
// backend's last probe). /health always answers 200 and reports each
// check; /ready answers 503 while any check fails.
package health
