package metrics

import (
	"time"
)

// RecordIngested records one usage event attributed to a client.
func RecordIngested(length int) {
	RecordsIngestedTotal.Inc()
	if length > 0 {
		RecordedBytesTotal.Add(float64(length))
	}
}

// RecordCaptureSkipped records a capture record that did not match the expected shape.
func RecordCaptureSkipped() {
	CaptureLinesSkippedTotal.Inc()
}

// RecordCompaction records a compaction pass and the number of rows it folded.
// Trigger should be one of "cycle", "watchdog" or "shutdown".
func RecordCompaction(trigger string, rows int64) {
	CompactionsTotal.WithLabelValues(trigger).Inc()
	if rows > 0 {
		CompactedRowsTotal.Add(float64(rows))
	}
}

// UpdateFastTierBytes updates the sampled fast tier size.
func UpdateFastTierBytes(size int64) {
	FastTierBytes.Set(float64(size))
}

// RecordAnalysisCycle records the duration and outcome of an analysis cycle.
func RecordAnalysisCycle(duration time.Duration, success bool) {
	AnalysisCycleDuration.Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "failure"
	}
	AnalysisCyclesTotal.WithLabelValues(status).Inc()
}

// RecordActionDispatched records one dispatched action by kind name.
func RecordActionDispatched(action string) {
	ActionsDispatchedTotal.WithLabelValues(action).Inc()
}

// RecordExemption records an offender exempted as a legitimate crawler.
func RecordExemption() {
	ExemptionsTotal.Inc()
}

// UpdateClassAssignments updates the number of clients assigned to a class.
func UpdateClassAssignments(count int) {
	ClassAssignments.Set(float64(count))
}

// RecordLegitimacyLookup records a classifier lookup as a cache hit or miss.
func RecordLegitimacyLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	LegitimacyLookupsTotal.WithLabelValues(result).Inc()
}

// RecordLegitimacyVerdict records a verdict produced by a DNS lookup.
func RecordLegitimacyVerdict(legitimate bool) {
	verdict := "untrusted"
	if legitimate {
		verdict = "legitimate"
	}
	LegitimacyVerdictsTotal.WithLabelValues(verdict).Inc()
}

// RecordDNSLookup records the latency of a reverse or forward lookup.
func RecordDNSLookup(kind string, duration time.Duration) {
	DNSLookupDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// UpdateEnforcementClasses updates the number of provisioned classes.
func UpdateEnforcementClasses(count int) {
	EnforcementClasses.Set(float64(count))
}

// RecordStoreError records a failed store operation.
func RecordStoreError(operation string) {
	StoreErrorsTotal.WithLabelValues(operation).Inc()
}

// UpdateCircuitBreakerState publishes a breaker's state
// (0 closed, 1 half-open, 2 open).
func UpdateCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
