package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"trafficwarden/internal/domain/entity"
	"trafficwarden/internal/repository"
)

// BucketSeconds is the width of a durable-tier time bucket.
const BucketSeconds = 10

// ErrClosed is returned by UsageRepo operations after Close.
var ErrClosed = errors.New("usage repository is closed")

const insertEventQuery = `INSERT INTO main.usage_events (ts, client_ip, bytes) VALUES (?, ?, ?)`

// UsageRepo is the two-tier usage ledger backed by a single SQLite connection
// (see db.Open). It keeps a write transaction open at all times except inside
// Checkpoint, so Record batches into the in-memory tier without touching disk.
//
// Visibility: QueryWindow only reads the durable tier, and the analysis cycle
// compacts after evaluating. A cycle therefore sees events compacted up to the
// previous cycle (or the last watchdog compaction): evaluation lags ingestion
// by at most one analysis interval.
//
// While a checkpoint function runs the connection belongs to it. Record then
// queues events in memory and the checkpoint writes them into the next
// transaction, so ingestion waits for a commit at most, never for fn.
type UsageRepo struct {
	// checkpoint serializes Checkpoint calls
	checkpoint sync.Mutex

	mu       sync.Mutex
	db       *sql.DB
	tx       *sql.Tx
	insert   *sql.Stmt
	inFlight bool
	pending  []entity.UsageEvent
	closed   bool
}

// NewUsageRepo opens the first write transaction.
func NewUsageRepo(ctx context.Context, db *sql.DB) (*UsageRepo, error) {
	repo := &UsageRepo{db: db}
	if err := repo.beginLocked(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

var _ repository.UsageRepository = (*UsageRepo)(nil)

// Record appends one event to the fast tier.
func (repo *UsageRepo) Record(ctx context.Context, ev entity.UsageEvent) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if repo.closed {
		return ErrClosed
	}
	if repo.inFlight {
		repo.pending = append(repo.pending, ev)
		return nil
	}
	if err := repo.ensureTxLocked(ctx); err != nil {
		return fmt.Errorf("Record: %w", err)
	}
	if _, err := repo.insert.ExecContext(ctx, ev.Timestamp.Unix(), ev.ClientIP, ev.Length); err != nil {
		return fmt.Errorf("Record: ExecContext: %w", err)
	}
	return nil
}

// FastTierBytes reports the in-use size of the in-memory schema. Pages on
// the freelist are left over from compaction and are not counted.
func (repo *UsageRepo) FastTierBytes(ctx context.Context) (int64, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if repo.closed {
		return 0, ErrClosed
	}
	if repo.inFlight {
		return 0, repository.ErrCheckpointInFlight
	}
	if err := repo.ensureTxLocked(ctx); err != nil {
		return 0, fmt.Errorf("FastTierBytes: %w", err)
	}

	var pages, free, pageSize int64
	if err := repo.tx.QueryRowContext(ctx, "PRAGMA main.page_count").Scan(&pages); err != nil {
		return 0, fmt.Errorf("FastTierBytes: page_count: %w", err)
	}
	if err := repo.tx.QueryRowContext(ctx, "PRAGMA main.freelist_count").Scan(&free); err != nil {
		return 0, fmt.Errorf("FastTierBytes: freelist_count: %w", err)
	}
	if err := repo.tx.QueryRowContext(ctx, "PRAGMA main.page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("FastTierBytes: page_size: %w", err)
	}
	return (pages - free) * pageSize, nil
}

// Checkpoint commits the pending batch, runs fn against the ledger, then
// opens a fresh write transaction and writes the events recorded meanwhile.
// Errors from all steps are joined; a failed step does not skip the
// following ones.
func (repo *UsageRepo) Checkpoint(ctx context.Context, fn func(ctx context.Context, ledger repository.Ledger) error) error {
	repo.checkpoint.Lock()
	defer repo.checkpoint.Unlock()

	repo.mu.Lock()
	if repo.closed {
		repo.mu.Unlock()
		return ErrClosed
	}
	var errs []error
	if err := repo.commitLocked(); err != nil {
		errs = append(errs, err)
	}
	repo.inFlight = true
	repo.mu.Unlock()

	if err := fn(ctx, ledger{db: repo.db}); err != nil {
		errs = append(errs, err)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.inFlight = false
	if err := repo.ensureTxLocked(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close commits the pending batch. It does not compact: callers run a final
// Checkpoint first so fast-tier rows reach disk. The *sql.DB stays open.
func (repo *UsageRepo) Close(ctx context.Context) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if repo.closed {
		return nil
	}
	repo.closed = true
	var errs []error
	if len(repo.pending) > 0 {
		if err := repo.ensureTxLocked(ctx); err != nil {
			errs = append(errs, fmt.Errorf("Close: %w", err))
		}
	}
	if err := repo.commitLocked(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ensureTxLocked opens the write transaction if needed and moves queued
// events into it. Events that fail to insert stay queued.
func (repo *UsageRepo) ensureTxLocked(ctx context.Context) error {
	if repo.tx == nil {
		if err := repo.beginLocked(ctx); err != nil {
			return err
		}
	}
	for i, ev := range repo.pending {
		if _, err := repo.insert.ExecContext(context.WithoutCancel(ctx), ev.Timestamp.Unix(), ev.ClientIP, ev.Length); err != nil {
			repo.pending = repo.pending[i:]
			return fmt.Errorf("drain: ExecContext: %w", err)
		}
	}
	repo.pending = repo.pending[:0]
	return nil
}

func (repo *UsageRepo) beginLocked(ctx context.Context) error {
	// the write transaction outlives any single request context
	ctx = context.WithoutCancel(ctx)
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: BeginTx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertEventQuery)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("begin: PrepareContext: %w", err)
	}
	repo.tx = tx
	repo.insert = stmt
	return nil
}

func (repo *UsageRepo) commitLocked() error {
	if repo.tx == nil {
		return nil
	}
	tx := repo.tx
	repo.tx = nil
	repo.insert = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ledger runs directly on the connection released by Checkpoint.
type ledger struct{ db *sql.DB }

func (l ledger) QueryWindow(ctx context.Context, windowSeconds int, minThreshold int64, now time.Time) ([]entity.WindowUsage, error) {
	const query = `
SELECT client_ip, SUM(total_bytes) AS used
FROM ondisc.usage_buckets
WHERE time_bucket > ? AND time_bucket < ?
GROUP BY client_ip
HAVING SUM(total_bytes) >= ?
ORDER BY used DESC
`
	end := now.Unix()
	start := end - int64(windowSeconds)

	rows, err := l.db.QueryContext(ctx, query, start, end, minThreshold)
	if err != nil {
		return nil, fmt.Errorf("QueryWindow: QueryContext: %w", err)
	}
	defer func() { _ = rows.Close() }()

	usage := make([]entity.WindowUsage, 0, 16)
	for rows.Next() {
		var u entity.WindowUsage
		if err := rows.Scan(&u.ClientIP, &u.UsedBytes); err != nil {
			return nil, fmt.Errorf("QueryWindow: Scan: %w", err)
		}
		usage = append(usage, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("QueryWindow: rows.Err: %w", err)
	}
	return usage, nil
}

func (l ledger) Compact(ctx context.Context) (int64, error) {
	const fold = `
INSERT INTO ondisc.usage_buckets (time_bucket, client_ip, total_bytes)
SELECT (ts / 10) * 10, client_ip, SUM(bytes)
FROM main.usage_events
GROUP BY (ts / 10) * 10, client_ip
`
	const clear = `DELETE FROM main.usage_events`

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("Compact: BeginTx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fold); err != nil {
		return 0, fmt.Errorf("Compact: fold: %w", err)
	}
	res, err := tx.ExecContext(ctx, clear)
	if err != nil {
		return 0, fmt.Errorf("Compact: clear: %w", err)
	}
	folded, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("Compact: RowsAffected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("Compact: Commit: %w", err)
	}
	return folded, nil
}
