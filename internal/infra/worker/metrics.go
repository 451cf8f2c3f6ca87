package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"trafficwarden/internal/pkg/config"
)

// WorkerMetrics provides Prometheus metrics for the daemon's scheduler.
// It embeds ConfigMetrics for settings monitoring.
//
// Embedded metrics (from ConfigMetrics):
//   - warden_config_load_timestamp
//   - warden_config_validation_errors_total
//   - warden_config_fallbacks_total
//   - warden_config_fallback_active
//
// Scheduler metrics:
//   - warden_schedule_runs_total: analysis runs by status (success/failure)
//   - warden_schedule_skipped_total: ticks skipped because a cycle was still running
//   - warden_schedule_last_success_timestamp: Unix timestamp of the last successful run
type WorkerMetrics struct {
	*config.ConfigMetrics

	RunsTotal            *prometheus.CounterVec
	SkippedTotal         prometheus.Counter
	LastSuccessTimestamp prometheus.Gauge
}

// NewWorkerMetrics creates and registers the metrics with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetrics(reg, "warden"),

		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_schedule_runs_total",
			Help: "Total number of scheduled analysis runs by status (success/failure)",
		}, []string{"status"}),

		SkippedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "warden_schedule_skipped_total",
			Help: "Total number of schedule ticks skipped because the previous cycle was still running",
		}),

		LastSuccessTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warden_schedule_last_success_timestamp",
			Help: "Unix timestamp of the last successful analysis run",
		}),
	}
}

// RecordRun counts one run with status "success" or "failure".
func (m *WorkerMetrics) RecordRun(status string) {
	m.RunsTotal.WithLabelValues(status).Inc()
}

// RecordSkip counts one skipped tick.
func (m *WorkerMetrics) RecordSkip() {
	m.SkippedTotal.Inc()
}

// RecordLastSuccess stamps the current time as the last successful run.
func (m *WorkerMetrics) RecordLastSuccess() {
	m.LastSuccessTimestamp.SetToCurrentTime()
}
