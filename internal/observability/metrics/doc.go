// Package metrics provides Prometheus metrics for the traffic warden.
//
// Collectors are registered with the default registry through promauto
// and exposed by the metrics server on /metrics.
//
// Metric families:
//   - Ingestion: records ingested, skipped capture records, fast tier size, compactions
//   - Analysis: cycle duration and status, dispatched actions, exemptions
//   - Legitimacy: cache hits and misses, DNS verdicts, lookup latency
//   - Enforcement and store: provisioned classes, store errors
//
// Example usage:
//
//	metrics.RecordAnalysisCycle(time.Since(start), err == nil)
//	metrics.RecordActionDispatched(rule.Action.String())
package metrics
