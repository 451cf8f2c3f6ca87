package shaping

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"trafficwarden/internal/domain/entity"
	"trafficwarden/internal/observability/metrics"
	"trafficwarden/internal/observability/tracing"
)

// Fixed per-class shaping parameters.
const (
	classBurst = "10k"
	classMPU   = "64"
)

// Runner executes one external command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, argv []string) ([]byte, error)
}

// DeriveClasses returns the class table for a plan: one class per distinct
// LIMIT cap, sorted by cap descending, IDs 1..N in that order.
// It is a pure function of the plan.
func DeriveClasses(p *entity.Plan) *entity.ClassTable {
	caps := p.LimitCaps()
	sort.Sort(sort.Reverse(sort.IntSlice(caps)))

	unique := make([]int, 0, len(caps))
	for i, c := range caps {
		if i == 0 || c != caps[i-1] {
			unique = append(unique, c)
		}
	}
	return entity.NewClassTable(unique)
}

// Provisioner issues the shaping configuration for a plan.
type Provisioner struct {
	runner Runner
	tool   []string
	iface  string
	logger *slog.Logger
}

// NewProvisioner creates a Provisioner. tool is the shaping tool argv prefix
// (e.g. ["tc"] or ["sudo", "tc"]) and iface the managed interface.
func NewProvisioner(runner Runner, tool []string, iface string, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{runner: runner, tool: tool, iface: iface, logger: logger}
}

// Provision derives the class table and applies it to the interface.
//
// Without LIMIT rules nothing is issued and an empty table is returned.
// Otherwise it asserts that no filters exist, resets the root qdisc and adds
// one htb class per distinct cap. Any failure is returned and must stop the
// process: the shaping state would no longer match the plan.
func (p *Provisioner) Provision(ctx context.Context, plan *entity.Plan) (table *entity.ClassTable, err error) {
	ctx, span := tracing.StartSpan(ctx, "shaping.provision",
		attribute.String("interface", p.iface),
		attribute.Int("limit_rules", plan.LimitRules))
	defer func() { tracing.EndSpan(span, err) }()

	if plan.LimitRules == 0 {
		p.logger.Info("no LIMIT rules, shaping setup skipped")
		metrics.UpdateEnforcementClasses(0)
		return entity.NewClassTable(nil), nil
	}

	out, err := p.run(ctx, "filter", "show", "dev", p.iface)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(out)) != 0 {
		return nil, fmt.Errorf("%w: %s", ErrForeignFilters, p.iface)
	}

	if _, err := p.run(ctx, "qdisc", "del", "dev", p.iface, "root"); err != nil {
		return nil, err
	}
	if _, err := p.run(ctx, "qdisc", "add", "dev", p.iface, "root", "handle", "1:", "htb"); err != nil {
		return nil, err
	}

	table = DeriveClasses(plan)
	for _, c := range table.Classes {
		_, err := p.run(ctx,
			"class", "add", "dev", p.iface, "parent", "1:",
			"classid", c.ClassID(),
			"htb", "rate", strconv.FormatInt(c.RateBits(), 10),
			"burst", classBurst, "mpu", classMPU)
		if err != nil {
			return nil, err
		}
		p.logger.Debug("enforcement class added",
			slog.String("classid", c.ClassID()),
			slog.Int("cap_bytes_per_sec", c.CapBytesPerSec))
	}

	metrics.UpdateEnforcementClasses(table.Len())
	p.logger.Info("enforcement classes provisioned",
		slog.String("interface", p.iface),
		slog.Int("classes", table.Len()))
	return table, nil
}

func (p *Provisioner) run(ctx context.Context, args ...string) ([]byte, error) {
	argv := make([]string, 0, len(p.tool)+len(args))
	argv = append(argv, p.tool...)
	argv = append(argv, args...)

	out, err := p.runner.Run(ctx, argv)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}
	return out, nil
}
