package entity

import "fmt"

// EnforcementClass maps a distinct rate cap to a shaping class identifier.
type EnforcementClass struct {
	ID             int
	CapBytesPerSec int
}

// RateBits returns the class rate in bits per second, as the shaping tool expects it.
func (c EnforcementClass) RateBits() int64 {
	return int64(c.CapBytesPerSec) * 8
}

// ClassID renders the shaping tool's "major:minor" class handle.
func (c EnforcementClass) ClassID() string {
	return fmt.Sprintf("1:%d", c.ID)
}

// ClassTable is the immutable set of enforcement classes derived at startup.
// Classes[i].ID == i+1 and caps are strictly descending.
type ClassTable struct {
	Classes []EnforcementClass
	byCap   map[int]int
}

// NewClassTable builds a table from caps already sorted descending and deduplicated.
func NewClassTable(caps []int) *ClassTable {
	t := &ClassTable{
		Classes: make([]EnforcementClass, len(caps)),
		byCap:   make(map[int]int, len(caps)),
	}
	for i, c := range caps {
		t.Classes[i] = EnforcementClass{ID: i + 1, CapBytesPerSec: c}
		t.byCap[c] = i + 1
	}
	return t
}

// Lookup returns the class provisioned for a cap.
func (t *ClassTable) Lookup(capBytesPerSec int) (EnforcementClass, bool) {
	if t == nil {
		return EnforcementClass{}, false
	}
	id, ok := t.byCap[capBytesPerSec]
	if !ok {
		return EnforcementClass{}, false
	}
	return t.Classes[id-1], true
}

// Len returns the number of classes.
func (t *ClassTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Classes)
}
