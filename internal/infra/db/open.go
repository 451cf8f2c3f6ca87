package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DriverName is the database/sql driver registered by mattn/go-sqlite3.
const DriverName = "sqlite3"

// DurableSchema is the schema name the on-disk database is attached under.
const DurableSchema = "ondisc"

// Open creates the two-tier store connection.
//
// The fast tier lives in the connection's private in-memory "main" schema
// and the durable tier is the on-disk file attached as "ondisc". Because an
// in-memory SQLite database belongs to exactly one connection, the pool is
// pinned to a single connection that is never recycled.
func Open(ctx context.Context, durablePath string) (*sql.DB, error) {
	database, err := sql.Open(DriverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}

	database.SetMaxOpenConns(1)
	database.SetMaxIdleConns(1)
	database.SetConnMaxLifetime(0)
	database.SetConnMaxIdleTime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping in-memory database: %w", err)
	}

	if _, err := database.ExecContext(ctx, "ATTACH DATABASE ? AS "+DurableSchema, durablePath); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("attach %s: %w", durablePath, err)
	}

	if _, err := database.ExecContext(ctx, "PRAGMA "+DurableSchema+".journal_mode=WAL"); err != nil {
		slog.Warn("failed to enable WAL mode on durable tier", slog.Any("error", err))
	}

	slog.Info("usage store opened",
		slog.String("durable_path", durablePath),
		slog.String("fast_tier", "memory"))

	return database, nil
}
