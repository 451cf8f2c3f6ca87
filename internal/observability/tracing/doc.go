// Package tracing provides OpenTelemetry tracing integration.
//
// Spans are created through the global otel TracerProvider, so they are
// no-ops until the process installs a real provider.
//
// Example usage:
//
//	ctx, span := tracing.StartSpan(ctx, "analysis.cycle")
//	defer span.End()
package tracing
