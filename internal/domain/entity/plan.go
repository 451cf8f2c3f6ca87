package entity

// WindowGroup holds every rule sharing one window length.
// Rules are ordered by ThresholdBytes descending, so the first rule whose
// threshold is <= the observed usage is the most severe one crossed.
type WindowGroup struct {
	WindowSeconds int
	Rules         []RateRule
}

// LowestThreshold returns the smallest threshold of the group, used as the
// pre-filter for the window query.
func (g WindowGroup) LowestThreshold() int64 {
	if len(g.Rules) == 0 {
		return 0
	}
	return g.Rules[len(g.Rules)-1].ThresholdBytes
}

// Select returns the rule that applies to a client which used usedBytes in
// this window, or false when usage is below every threshold.
// Reaching a threshold exactly counts as exceeding it.
func (g WindowGroup) Select(usedBytes int64) (RateRule, bool) {
	for _, r := range g.Rules {
		if usedBytes >= r.ThresholdBytes {
			return r, true
		}
	}
	return RateRule{}, false
}

// Plan is the compiled, read-only decision structure.
// Groups are ordered by WindowSeconds ascending.
type Plan struct {
	Groups     []WindowGroup
	LimitRules int
}

// RuleCount returns the total number of rules in the plan.
func (p *Plan) RuleCount() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g.Rules)
	}
	return n
}

// LimitCaps returns the cap of every Limit rule, in plan order, duplicates included.
func (p *Plan) LimitCaps() []int {
	caps := make([]int, 0, p.LimitRules)
	for _, g := range p.Groups {
		for _, r := range g.Rules {
			if r.Action == ActionLimit {
				caps = append(caps, r.CapBytesPerSec)
			}
		}
	}
	return caps
}
