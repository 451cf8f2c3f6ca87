// Package logging provides structured logging utilities.
//
// This package wraps the standard library's log/slog package with helper functions
// for common logging patterns used throughout the daemon.
//
// Key features:
//   - JSON and text output formats
//   - Component-scoped loggers
//   - Configurable log levels
//
// Example usage:
//
//	import "trafficwarden/internal/observability/logging"
//
//	func main() {
//	    logger := logging.NewLogger()
//	    logger.Info("warden started", slog.String("interface", "eth0"))
//	}
package logging
