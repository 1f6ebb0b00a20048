// Package database provides SQLite connectivity for the bus event log.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Versioned schema setup tracked in PRAGMA user_version
//   - Connection pooling and lifecycle management
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// Schema versions are append-only. New columns must be NULLABLE or carry a
// DEFAULT so older binaries can still read the file.
package database
