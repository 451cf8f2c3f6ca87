// Package observability provides the daemon's observability infrastructure:
// structured logging, Prometheus metrics and OpenTelemetry tracing.
//
// Subpackages:
//   - logging: slog logger construction and component fields
//   - metrics: Prometheus collectors and recorders for ingestion, analysis and enforcement
//   - tracing: OpenTelemetry tracer used around analysis cycles and provisioning
//
// Example usage:
//
//	import (
//	    "trafficwarden/internal/observability/logging"
//	    "trafficwarden/internal/observability/metrics"
//	)
//
//	func main() {
//	    logger := logging.NewLogger()
//	    logger.Info("warden started")
//
//	    metrics.RecordActionDispatched("LOG")
//	}
package observability
