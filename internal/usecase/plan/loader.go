package plan

import (
	"fmt"
	"log/slog"
	"os"

	"trafficwarden/internal/domain/entity"
)

// Load parses the rules file at path and builds the Plan.
func Load(path string, maxRules int, logger *slog.Logger) (*entity.Plan, error) {
	// #nosec G304 -- path comes from operator settings
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer func() { _ = f.Close() }()

	rules, err := Parse(f, ParseOptions{Name: path, MaxRules: maxRules, Logger: logger})
	if err != nil {
		return nil, err
	}

	p, err := Build(rules)
	if err != nil {
		return nil, err
	}

	if logger != nil {
		for _, g := range p.Groups {
			logger.Debug("plan window",
				slog.Int("window_seconds", g.WindowSeconds),
				slog.Int("rules", len(g.Rules)),
				slog.Int64("lowest_threshold", g.LowestThreshold()))
		}
		logger.Info("rule plan built",
			slog.String("file", path),
			slog.Int("rules", p.RuleCount()),
			slog.Int("windows", len(p.Groups)),
			slog.Int("limit_rules", p.LimitRules))
	}
	return p, nil
}
