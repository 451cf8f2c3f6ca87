package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// maxInterfaceName is IFNAMSIZ minus the terminating NUL.
const maxInterfaceName = 15

// ValidateSchedule checks a schedule with the robfig/cron standard parser.
// Both five-field expressions ("*/5 * * * *") and descriptors ("@every 5s")
// are accepted.
func ValidateSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("invalid schedule: cannot be empty")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid schedule '%s': %w", schedule, err)
	}
	return nil
}

// ValidateDuration checks min <= duration <= max.
func ValidateDuration(duration, min, max time.Duration) error {
	if min > max {
		return fmt.Errorf("invalid range: min (%v) cannot be greater than max (%v)", min, max)
	}
	if duration < min {
		return fmt.Errorf("duration %v is below minimum %v", duration, min)
	}
	if duration > max {
		return fmt.Errorf("duration %v exceeds maximum %v", duration, max)
	}
	return nil
}

// ValidateIntRange checks min <= value <= max.
func ValidateIntRange(value, min, max int) error {
	if min > max {
		return fmt.Errorf("invalid range: min (%d) cannot be greater than max (%d)", min, max)
	}
	if value < min {
		return fmt.Errorf("value %d is below minimum %d", value, min)
	}
	if value > max {
		return fmt.Errorf("value %d exceeds maximum %d", value, max)
	}
	return nil
}

// ValidatePositiveDuration rejects zero and negative durations.
func ValidatePositiveDuration(duration time.Duration) error {
	if duration <= 0 {
		return fmt.Errorf("duration must be positive, got %v", duration)
	}
	return nil
}

// ValidatePositiveInt64 rejects zero and negative values.
func ValidatePositiveInt64(value int64) error {
	if value <= 0 {
		return fmt.Errorf("value must be positive, got %d", value)
	}
	return nil
}

// ValidatePositiveFloat rejects zero, negative and NaN values.
func ValidatePositiveFloat(value float64) error {
	if !(value > 0) {
		return fmt.Errorf("value must be positive, got %v", value)
	}
	return nil
}

// ValidatePort checks a TCP port number.
func ValidatePort(port int) error {
	if err := ValidateIntRange(port, 1, 65535); err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	return nil
}

// ValidateInterfaceName checks a network interface name the way the kernel
// would: non-empty, at most 15 bytes, no slash and no whitespace.
func ValidateInterfaceName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("invalid interface name: cannot be empty")
	case len(name) > maxInterfaceName:
		return fmt.Errorf("invalid interface name '%s': longer than %d bytes", name, maxInterfaceName)
	case strings.ContainsAny(name, "/ \t\n"):
		return fmt.Errorf("invalid interface name '%s': contains '/' or whitespace", name)
	}
	return nil
}

// ValidateNonEmpty rejects blank strings.
func ValidateNonEmpty(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("value cannot be empty")
	}
	return nil
}
