package plan

import (
	"fmt"
	"sort"

	"trafficwarden/internal/domain/entity"
)

// Build compiles rules into a Plan: one WindowGroup per distinct window,
// rules inside a group ordered by threshold descending, groups ordered by
// window ascending (short windows are queried first while their pages are
// still cached).
func Build(rules []entity.RateRule) (*entity.Plan, error) {
	byWindow := make(map[int][]entity.RateRule)
	limitRules := 0
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		byWindow[r.WindowSeconds] = append(byWindow[r.WindowSeconds], r)
		if r.Action == entity.ActionLimit {
			limitRules++
		}
	}

	groups := make([]entity.WindowGroup, 0, len(byWindow))
	for window, rs := range byWindow {
		sorted := make([]entity.RateRule, len(rs))
		copy(sorted, rs)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].ThresholdBytes > sorted[j].ThresholdBytes
		})
		for i := 1; i < len(sorted); i++ {
			if sorted[i].ThresholdBytes == sorted[i-1].ThresholdBytes {
				return nil, fmt.Errorf("%w: %d bytes in %d seconds", ErrDuplicateThreshold, sorted[i].ThresholdBytes, window)
			}
		}
		groups = append(groups, entity.WindowGroup{WindowSeconds: window, Rules: sorted})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].WindowSeconds < groups[j].WindowSeconds
	})

	return &entity.Plan{Groups: groups, LimitRules: limitRules}, nil
}
