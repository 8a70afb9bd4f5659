package infrastructure

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens the embedded staging database and applies its schema.
// ":memory:" is supported; the pool is pinned to one connection so every
// query sees the same database.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := MigrateSQLite(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func MigrateSQLite(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS staged_batches (
			request_id TEXT PRIMARY KEY,
			requester_service TEXT NOT NULL,
			action TEXT NOT NULL,
			questions TEXT NOT NULL DEFAULT '[]',
			hints TEXT NOT NULL DEFAULT '[]',
			test_cases TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'pending',
			updated_at_ms INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create staged_batches table: %w", err)
	}
	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS staged_batches_status_updated_idx ON staged_batches (status, updated_at_ms);`)
	if err != nil {
		return fmt.Errorf("create staged_batches index: %w", err)
	}
	return nil
}
