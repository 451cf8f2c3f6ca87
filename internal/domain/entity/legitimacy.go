package entity

import "time"

// LegitimacyEntry is a cached verdict on whether ClientIP is a verified search-engine crawler.
type LegitimacyEntry struct {
	ClientIP  string
	Verdict   bool
	UpdatedAt time.Time
}

// Expired reports whether the entry is older than ttl at now.
func (e LegitimacyEntry) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.UpdatedAt) > ttl
}
