// Package observability wires OpenTelemetry tracing and metrics plus the
// structured logger for actsafe.
//
// # Tracing and metrics
//
// Initialize the provider at startup. With no OTLP endpoint the provider
// falls back to the global no-op tracer and meter, so every Record call stays
// safe:
//
//	p, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "actsafe",
//		OTLPEndpoint: "otel-collector:4317",
//	})
//	defer p.Shutdown(ctx)
//
// Wrap a ledger operation:
//
//	ctx, done := p.TrackOperation(ctx, "executor.Commit", observability.ActionAttrs(id, kind)...)
//	defer func() { done(err) }()
//
// # Logging
//
//	logger := observability.NewLogger(os.Stderr, cfg.LogLevel)
package observability
