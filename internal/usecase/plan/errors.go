// Package plan turns threshold directives into the compiled, read-only Plan
// that drives evaluation and enforcement-class provisioning.
package plan

import (
	"errors"
	"fmt"
)

// Sentinel errors for plan construction. All of them are fatal at startup.
var (
	// ErrUnreadable indicates that the rules file could not be opened or read.
	ErrUnreadable = errors.New("rules file is unreadable")

	// ErrTooManyRules indicates that the directive count exceeds the configured ceiling.
	ErrTooManyRules = errors.New("too many rules")

	// ErrDuplicateThreshold indicates two rules with the same window and threshold.
	ErrDuplicateThreshold = errors.New("duplicate threshold for window")
)

// SyntaxError reports a USED directive that started matching the grammar but is broken.
type SyntaxError struct {
	File string
	Line int
	Text string
	Err  error
}

func (e *SyntaxError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s:%d: syntax error: %s: %v", e.File, e.Line, e.Text, e.Err)
	}
	return fmt.Sprintf("%s:%d: syntax error: %s", e.File, e.Line, e.Text)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}
