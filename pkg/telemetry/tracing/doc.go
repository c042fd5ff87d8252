// Package tracing wraps the OpenTelemetry SDK for the lifecycle daemon.
//
// A Tracer is built from the telemetry.tracing configuration section. When
// tracing is disabled every span is a no-op, so callers start spans
// unconditionally:
//
//	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing, version)
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "lifecycle.cycle")
//	defer span.End()
//
// Incoming API requests carry W3C trace context (traceparent, tracestate),
// which Middleware extracts so that the ingestion pipeline's trace continues
// into the daemon. One cycle produces a lifecycle.cycle span with a child
// span per action and per archive upload.
package tracing
