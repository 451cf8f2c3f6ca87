// Package enforce evaluates windowed usage against the rule plan and
// dispatches the resulting actions.
package enforce

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"trafficwarden/internal/domain/entity"
	"trafficwarden/internal/observability/metrics"
	"trafficwarden/internal/observability/tracing"
	"trafficwarden/internal/repository"
)

// Classifier reports whether a client is a verified search-engine crawler.
type Classifier interface {
	Classify(ctx context.Context, ip string) bool
}

// ActionLog records dispatched actions.
type ActionLog interface {
	Append(v entity.Violation) error
}

// Stats summarizes one evaluation pass.
type Stats struct {
	Windows     int
	Candidates  int
	Actions     int
	Exempt      int
	Limited     int
	QueryErrors int
}

// Engine is the threshold evaluation engine. It is not safe for concurrent
// Evaluate calls; the analysis schedule never overlaps cycles.
type Engine struct {
	plan       *entity.Plan
	classes    *entity.ClassTable
	classifier Classifier
	log        ActionLog
	logger     *slog.Logger

	assignments map[string]entity.EnforcementClass
}

// NewEngine creates an Engine. classes may be empty when the plan has no
// LIMIT rules.
func NewEngine(plan *entity.Plan, classes *entity.ClassTable, classifier Classifier, log ActionLog, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		plan:        plan,
		classes:     classes,
		classifier:  classifier,
		log:         log,
		logger:      logger,
		assignments: make(map[string]entity.EnforcementClass),
	}
}

// Evaluate runs every window group of the plan, shortest window first,
// against ledger as of now.
//
// For each client at or above the group's lowest threshold the most severe
// crossed rule is selected, verified crawlers are marked exempt, and the
// violation is appended to the action log. LIMIT violations assign the
// client to the class provisioned for the rule's cap; when a client crosses
// LIMIT rules in several windows the most restrictive class wins.
//
// Query failures are logged and the remaining windows still run.
func (e *Engine) Evaluate(ctx context.Context, ledger repository.Ledger, now time.Time) Stats {
	ctx, span := tracing.StartSpan(ctx, "enforce.evaluate",
		attribute.Int("windows", len(e.plan.Groups)))
	defer span.End()

	var stats Stats
	assignments := make(map[string]entity.EnforcementClass)

	for _, group := range e.plan.Groups {
		stats.Windows++

		usage, err := ledger.QueryWindow(ctx, group.WindowSeconds, group.LowestThreshold(), now)
		if err != nil {
			stats.QueryErrors++
			metrics.RecordStoreError("query_window")
			e.logger.Error("window query failed",
				slog.Int("window_seconds", group.WindowSeconds),
				slog.Any("error", err))
			continue
		}

		for _, u := range usage {
			rule, ok := group.Select(u.UsedBytes)
			if !ok {
				continue
			}
			stats.Candidates++

			v := entity.Violation{
				At:            now,
				ClientIP:      u.ClientIP,
				UsedBytes:     u.UsedBytes,
				WindowSeconds: group.WindowSeconds,
				Rule:          rule,
				Exempt:        e.classifier.Classify(ctx, u.ClientIP),
			}
			e.dispatch(v, assignments, &stats)
		}
	}

	e.assignments = assignments
	metrics.UpdateClassAssignments(len(assignments))
	span.SetAttributes(
		attribute.Int("actions", stats.Actions),
		attribute.Int("query_errors", stats.QueryErrors))
	return stats
}

func (e *Engine) dispatch(v entity.Violation, assignments map[string]entity.EnforcementClass, stats *Stats) {
	if err := e.log.Append(v); err != nil {
		e.logger.Error("action log write failed",
			slog.String("ip", v.ClientIP),
			slog.Any("error", err))
	}

	if v.Exempt {
		stats.Exempt++
		metrics.RecordExemption()
		e.logger.Info("search engine exempted",
			slog.String("ip", v.ClientIP),
			slog.Int64("used_bytes", v.UsedBytes),
			slog.Int("window_seconds", v.WindowSeconds),
			slog.String("action", v.Rule.Action.String()))
		return
	}

	stats.Actions++
	metrics.RecordActionDispatched(v.Rule.Action.String())
	e.logger.Info("action dispatched",
		slog.String("ip", v.ClientIP),
		slog.Int64("used_bytes", v.UsedBytes),
		slog.Int("window_seconds", v.WindowSeconds),
		slog.Int64("threshold_bytes", v.Rule.ThresholdBytes),
		slog.String("action", v.Rule.Action.String()))

	if v.Rule.Action != entity.ActionLimit {
		return
	}
	class, ok := e.classes.Lookup(v.Rule.CapBytesPerSec)
	if !ok {
		e.logger.Warn("no enforcement class for cap",
			slog.String("ip", v.ClientIP),
			slog.Int("cap_bytes_per_sec", v.Rule.CapBytesPerSec))
		return
	}
	if prev, seen := assignments[v.ClientIP]; seen && prev.CapBytesPerSec <= class.CapBytesPerSec {
		return
	}
	assignments[v.ClientIP] = class
	stats.Limited = len(assignments)
}

// Assignment returns the class the client was assigned in the last cycle.
func (e *Engine) Assignment(ip string) (entity.EnforcementClass, bool) {
	c, ok := e.assignments[ip]
	return c, ok
}

// Assignments returns a copy of the last cycle's client-to-class mapping.
func (e *Engine) Assignments() map[string]entity.EnforcementClass {
	out := make(map[string]entity.EnforcementClass, len(e.assignments))
	for ip, c := range e.assignments {
		out[ip] = c
	}
	return out
}
