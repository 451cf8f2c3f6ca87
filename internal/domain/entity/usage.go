package entity

import "time"

// UsageEvent is one observed packet: Length bytes sent to ClientIP at Timestamp.
type UsageEvent struct {
	Timestamp time.Time
	ClientIP  string
	Length    int
}

// WindowUsage is one row of a window query: the bytes a client used inside the window.
type WindowUsage struct {
	ClientIP  string
	UsedBytes int64
}
