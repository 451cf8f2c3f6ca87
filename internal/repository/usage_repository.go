package repository

import (
	"context"
	"errors"
	"time"

	"trafficwarden/internal/domain/entity"
)

// ErrCheckpointInFlight is returned by UsageRepository.FastTierBytes while a
// checkpoint holds the store.
var ErrCheckpointInFlight = errors.New("checkpoint in flight")

// UsageRepository is the two-tier usage ledger.
//
// Record appends to the fast tier inside the repository's always-open write
// transaction. Everything that reads or merges the ledger runs inside
// Checkpoint, which commits that transaction first and opens a fresh one
// once fn returns, so readers never see a half-written batch and at most one
// checkpoint is in flight. Record does not wait for fn: events recorded
// while it runs are queued and land in the fresh transaction.
type UsageRepository interface {
	Record(ctx context.Context, ev entity.UsageEvent) error
	FastTierBytes(ctx context.Context) (int64, error)
	Checkpoint(ctx context.Context, fn func(ctx context.Context, ledger Ledger) error) error
	Close(ctx context.Context) error
}

// Ledger is the read/compact view handed out by UsageRepository.Checkpoint.
type Ledger interface {
	// QueryWindow returns every client whose durable-tier usage with
	// now-window < bucket < now is at least minThreshold, by usage descending.
	QueryWindow(ctx context.Context, windowSeconds int, minThreshold int64, now time.Time) ([]entity.WindowUsage, error)
	// Compact folds the fast tier into 10-second durable buckets and clears
	// the fast tier, atomically.
	Compact(ctx context.Context) (int64, error)
}
