package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trafficwarden/internal/domain/entity"
	"trafficwarden/internal/repository"
)

// LegitimacyRepo keeps the verdict cache in the in-memory schema and
// mirrors it to the durable tier on Persist. It shares the UsageRepo
// connection, so it may only be used inside UsageRepo.Checkpoint.
type LegitimacyRepo struct {
	db  *sql.DB
	ttl time.Duration
}

func NewLegitimacyRepo(db *sql.DB, ttl time.Duration) repository.LegitimacyRepository {
	return &LegitimacyRepo{db: db, ttl: ttl}
}

func (repo *LegitimacyRepo) Get(ctx context.Context, ip string, now time.Time) (*entity.LegitimacyEntry, error) {
	const query = `
SELECT client_ip, verdict, updated_at
FROM main.legitimacy
WHERE client_ip = ? AND updated_at >= ?
LIMIT 1`
	var entry entity.LegitimacyEntry
	var updated int64
	err := repo.db.QueryRowContext(ctx, query, ip, repo.cutoff(now)).Scan(
		&entry.ClientIP, &entry.Verdict, &updated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: QueryRowContext: %w", err)
	}
	entry.UpdatedAt = time.Unix(updated, 0)
	return &entry, nil
}

func (repo *LegitimacyRepo) Set(ctx context.Context, entry entity.LegitimacyEntry) error {
	const query = `
INSERT OR REPLACE INTO main.legitimacy (client_ip, verdict, updated_at)
VALUES (?, ?, ?)`
	if _, err := repo.db.ExecContext(ctx, query, entry.ClientIP, entry.Verdict, entry.UpdatedAt.Unix()); err != nil {
		return fmt.Errorf("Set: ExecContext: %w", err)
	}
	return nil
}

// Persist drops expired entries and replaces the durable copy with the
// in-memory one in a single transaction, so an interrupted save leaves the
// previous durable copy intact.
func (repo *LegitimacyRepo) Persist(ctx context.Context, now time.Time) error {
	cutoff := repo.cutoff(now)

	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Persist: BeginTx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM main.legitimacy WHERE updated_at < ?`, cutoff); err != nil {
		return fmt.Errorf("Persist: purge: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ondisc.legitimacy`); err != nil {
		return fmt.Errorf("Persist: clear: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO ondisc.legitimacy (client_ip, verdict, updated_at)
SELECT client_ip, verdict, updated_at FROM main.legitimacy`); err != nil {
		return fmt.Errorf("Persist: save: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Persist: Commit: %w", err)
	}
	return nil
}

func (repo *LegitimacyRepo) cutoff(now time.Time) int64 {
	return now.Add(-repo.ttl).Unix()
}
