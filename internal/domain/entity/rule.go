package entity

import (
	"fmt"
	"strings"
)

// ActionKind is the enforcement action attached to a rate rule.
type ActionKind int

const (
	// ActionLog only records the violation in the action log.
	ActionLog ActionKind = iota
	// ActionLimit assigns the client to a bandwidth-capped enforcement class.
	ActionLimit
	// ActionBlock drops the client's traffic.
	ActionBlock
	// ActionJail quarantines the client.
	ActionJail
)

var actionNames = [...]string{"LOG", "LIMIT", "BLOCK", "JAIL"}

// String returns the directive keyword of the action ("LOG", "LIMIT", ...).
func (a ActionKind) String() string {
	if a < ActionLog || int(a) >= len(actionNames) {
		return fmt.Sprintf("ActionKind(%d)", int(a))
	}
	return actionNames[a]
}

// ParseActionKind converts a directive keyword into an ActionKind.
func ParseActionKind(s string) (ActionKind, error) {
	for i, name := range actionNames {
		if strings.EqualFold(s, name) {
			return ActionKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// RateRule is one configured directive:
// "if a client used ThresholdBytes within WindowSeconds, apply Action".
// CapBytesPerSec is only meaningful for ActionLimit.
type RateRule struct {
	WindowSeconds  int
	ThresholdBytes int64
	Action         ActionKind
	CapBytesPerSec int
}

// Validate checks the structural invariants of a rule.
func (r RateRule) Validate() error {
	if r.WindowSeconds <= 0 {
		return &ValidationError{Field: "window_seconds", Message: "must be greater than zero"}
	}
	if r.ThresholdBytes < 0 {
		return &ValidationError{Field: "threshold_bytes", Message: "must not be negative"}
	}
	if r.Action < ActionLog || r.Action > ActionJail {
		return &ValidationError{Field: "action", Message: fmt.Sprintf("unsupported action %d", int(r.Action))}
	}
	if r.Action == ActionLimit && r.CapBytesPerSec <= 0 {
		return &ValidationError{Field: "cap_bytes_per_sec", Message: "LIMIT requires a positive rate"}
	}
	if r.Action != ActionLimit && r.CapBytesPerSec != 0 {
		return &ValidationError{Field: "cap_bytes_per_sec", Message: fmt.Sprintf("rate is only allowed for LIMIT, not %s", r.Action)}
	}
	return nil
}
