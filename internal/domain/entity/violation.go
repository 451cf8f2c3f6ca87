package entity

import (
	"math"
	"time"
)

// Violation is one client crossing a rule in one window during an analysis cycle.
type Violation struct {
	At            time.Time
	ClientIP      string
	UsedBytes     int64
	WindowSeconds int
	Rule          RateRule
	// Exempt marks a verified crawler: the violation is logged but not enforced.
	Exempt bool
}

// Ratio returns how many times the threshold was used.
// A zero threshold yields +Inf.
func (v Violation) Ratio() float64 {
	if v.Rule.ThresholdBytes == 0 {
		return math.Inf(1)
	}
	return float64(v.UsedBytes) / float64(v.Rule.ThresholdBytes)
}
