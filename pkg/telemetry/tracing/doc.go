// Package tracing configures OpenTelemetry for the relay.
//
// When tracing is disabled New installs nothing and returns a Tracer backed
// by the no-op provider, so instrumented code (the relay service opens a
// "relay.generate" span per request) costs close to nothing. When enabled,
// spans are batched to an OTLP gRPC collector and W3C trace context is
// accepted on incoming requests by HTTPMiddleware.
//
//	tracer, err := tracing.New(&cfg.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
package tracing
