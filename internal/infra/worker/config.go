package worker

import (
	"fmt"
	"time"

	"trafficwarden/internal/pkg/config"
)

// ScheduleConfig controls the analysis schedule.
//
// Example usage:
//
//	cfg := DefaultScheduleConfig()
//	cfg.Interval = 10 * time.Second
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
type ScheduleConfig struct {
	// Interval is the time between analysis cycle starts.
	// Range: 1s-24h
	// Default: 5s
	Interval time.Duration

	// CycleTimeout bounds one analysis cycle. Zero means Interval.
	// A cycle still running at the next tick causes that tick to be skipped.
	CycleTimeout time.Duration
}

// DefaultScheduleConfig returns the stock five-second cadence.
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{Interval: 5 * time.Second}
}

// Spec renders the schedule in robfig/cron descriptor form.
func (c ScheduleConfig) Spec() string {
	return "@every " + c.Interval.String()
}

// Timeout is the effective per-cycle deadline.
func (c ScheduleConfig) Timeout() time.Duration {
	if c.CycleTimeout > 0 {
		return c.CycleTimeout
	}
	return c.Interval
}

// Validate checks the interval range and that the rendered spec parses.
func (c ScheduleConfig) Validate() error {
	var errs []error

	if err := config.ValidateDuration(c.Interval, time.Second, 24*time.Hour); err != nil {
		errs = append(errs, fmt.Errorf("interval: %w", err))
	} else if err := config.ValidateSchedule(c.Spec()); err != nil {
		errs = append(errs, fmt.Errorf("schedule: %w", err))
	}
	if c.CycleTimeout < 0 {
		errs = append(errs, fmt.Errorf("cycle timeout: must not be negative, got %v", c.CycleTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}
	return nil
}
