// Package metrics provides centralized Prometheus metrics for the daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion metrics track the capture stream and the fast tier
var (
	// RecordsIngestedTotal counts usage events appended to the fast tier
	RecordsIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_records_ingested_total",
			Help: "Total number of usage events recorded",
		},
	)

	// RecordedBytesTotal sums the payload bytes of recorded events
	RecordedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_recorded_bytes_total",
			Help: "Total number of bytes attributed to clients",
		},
	)

	// CaptureLinesSkippedTotal counts capture records that did not parse
	CaptureLinesSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_capture_records_skipped_total",
			Help: "Total number of capture records skipped as unparseable",
		},
	)

	// FastTierBytes tracks the last sampled fast tier size
	FastTierBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_fast_tier_bytes",
			Help: "Approximate size of the uncompacted fast tier in bytes",
		},
	)

	// CompactionsTotal counts compactions by trigger
	CompactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_compactions_total",
			Help: "Total number of fast tier compactions",
		},
		[]string{"trigger"}, // trigger: cycle, watchdog, shutdown
	)

	// CompactedRowsTotal counts fast tier rows folded into buckets
	CompactedRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_compacted_rows_total",
			Help: "Total number of fast tier rows folded into time buckets",
		},
	)
)

// Analysis metrics track evaluation cycles and their outcome
var (
	// AnalysisCycleDuration measures the wall time of one analysis cycle
	AnalysisCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_analysis_cycle_duration_seconds",
			Help:    "Analysis cycle duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	// AnalysisCyclesTotal counts analysis cycles by status
	AnalysisCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_analysis_cycles_total",
			Help: "Total number of analysis cycles",
		},
		[]string{"status"}, // status: success, failure
	)

	// ActionsDispatchedTotal counts actions emitted by action kind
	ActionsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_actions_dispatched_total",
			Help: "Total number of actions dispatched",
		},
		[]string{"action"},
	)

	// ExemptionsTotal counts offenders exempted as legitimate crawlers
	ExemptionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_exemptions_total",
			Help: "Total number of offenders exempted as legitimate",
		},
	)

	// ClassAssignments tracks how many clients are currently mapped to a class
	ClassAssignments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_class_assignments",
			Help: "Number of clients assigned to an enforcement class in the last cycle",
		},
	)
)

// Legitimacy metrics track classifier cache efficiency and verdicts
var (
	// LegitimacyLookupsTotal counts classifier lookups by result
	LegitimacyLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_legitimacy_lookups_total",
			Help: "Total number of legitimacy lookups",
		},
		[]string{"result"}, // result: hit, miss
	)

	// LegitimacyVerdictsTotal counts fresh verdicts produced by DNS
	LegitimacyVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_legitimacy_verdicts_total",
			Help: "Total number of verdicts produced by reverse DNS",
		},
		[]string{"verdict"}, // verdict: legitimate, untrusted
	)

	// DNSLookupDuration measures reverse and forward lookup latency
	DNSLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_dns_lookup_duration_seconds",
			Help:    "DNS lookup duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"kind"}, // kind: reverse, forward
	)

	// CircuitBreakerState reports each breaker's state: 0 closed, 1 half-open, 2 open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

// Enforcement and storage metrics
var (
	// EnforcementClasses tracks the number of provisioned shaping classes
	EnforcementClasses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_enforcement_classes",
			Help: "Number of provisioned enforcement classes",
		},
	)

	// StoreErrorsTotal counts store failures by operation
	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_store_errors_total",
			Help: "Total number of store errors",
		},
		[]string{"operation"},
	)

	// StoreOperationDuration measures store operation duration
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_store_operation_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"operation"},
	)
)

// RecordOperationDuration records the duration of a named store operation
func RecordOperationDuration(operation string, duration time.Duration) {
	StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
