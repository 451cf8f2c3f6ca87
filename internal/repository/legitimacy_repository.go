package repository

import (
	"context"
	"time"

	"trafficwarden/internal/domain/entity"
)

// LegitimacyRepository caches search-engine verdicts per client IP.
// Get returns nil when there is no entry younger than the TTL.
type LegitimacyRepository interface {
	Get(ctx context.Context, ip string, now time.Time) (*entity.LegitimacyEntry, error)
	Set(ctx context.Context, entry entity.LegitimacyEntry) error
	Persist(ctx context.Context, now time.Time) error
}
