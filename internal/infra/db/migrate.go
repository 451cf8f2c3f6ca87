package db

import (
	"context"
	"database/sql"
	"fmt"
)

// MigrateUp creates both tiers and loads the durable legitimacy cache into memory.
func MigrateUp(ctx context.Context, db *sql.DB) error {
	statements := []string{
		// fast tier: one row per observed packet
		`CREATE TABLE IF NOT EXISTS main.usage_events (
    ts        INTEGER NOT NULL,
    client_ip TEXT    NOT NULL,
    bytes     INTEGER NOT NULL
)`,
		// durable tier: append-only 10-second buckets
		`CREATE TABLE IF NOT EXISTS ondisc.usage_buckets (
    time_bucket INTEGER NOT NULL,
    client_ip   TEXT    NOT NULL,
    total_bytes INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS ondisc.idx_usage_buckets_time ON usage_buckets(time_bucket)`,
		`CREATE TABLE IF NOT EXISTS ondisc.legitimacy (
    client_ip  TEXT PRIMARY KEY,
    verdict    BOOLEAN NOT NULL,
    updated_at INTEGER NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS main.legitimacy (
    client_ip  TEXT PRIMARY KEY,
    verdict    BOOLEAN NOT NULL,
    updated_at INTEGER NOT NULL
)`,
		`INSERT OR REPLACE INTO main.legitimacy (client_ip, verdict, updated_at)
SELECT client_ip, verdict, updated_at FROM ondisc.legitimacy`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("MigrateUp: %w", err)
		}
	}
	return nil
}
