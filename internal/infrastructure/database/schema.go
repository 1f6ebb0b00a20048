package database

import (
	"context"
	"fmt"
)

// schemaVersions holds the DDL for each schema version, oldest first.
// Version N is schemaVersions[N-1]. Entries are append-only: never edit a
// version that has shipped.
var schemaVersions = []string{
	// 1: bus event log.
	`CREATE TABLE IF NOT EXISTS bus_events (
		id         TEXT PRIMARY KEY,
		direction  TEXT NOT NULL CHECK (direction IN ('in', 'out')),
		topic      TEXT NOT NULL,
		payload    BLOB,
		qos        INTEGER NOT NULL DEFAULT 0,
		status     TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	) STRICT;
	CREATE INDEX IF NOT EXISTS idx_bus_events_created ON bus_events (created_at);
	CREATE INDEX IF NOT EXISTS idx_bus_events_status ON bus_events (status, direction, created_at);`,
}

// SchemaVersion returns the version recorded in the database file.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// ensureSchema applies every version above the recorded user_version.
// Each version runs in its own transaction together with the version bump.
func (db *DB) ensureSchema(ctx context.Context) error {
	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > len(schemaVersions) {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, len(schemaVersions))
	}

	for i := current; i < len(schemaVersions); i++ {
		version := i + 1

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("starting schema version %d: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx, schemaVersions[i]); err != nil {
			tx.Rollback() //nolint:errcheck // Rollback after failure
			return fmt.Errorf("applying schema version %d: %w", version, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
			tx.Rollback() //nolint:errcheck // Rollback after failure
			return fmt.Errorf("recording schema version %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing schema version %d: %w", version, err)
		}
	}

	return nil
}
