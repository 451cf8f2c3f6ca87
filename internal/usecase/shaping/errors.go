// Package shaping provisions the enforcement classes that back LIMIT rules
// on the external traffic-shaping tool.
package shaping

import "errors"

// Sentinel errors for provisioning. Every one of them is fatal at startup.
var (
	// ErrForeignFilters indicates that the interface already carries shaping
	// filters this process did not create.
	ErrForeignFilters = errors.New("shaping filters already present on interface")

	// ErrCommandFailed wraps any shaping tool invocation that failed.
	ErrCommandFailed = errors.New("shaping command failed")
)
