package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaVersion is stored in PRAGMA user_version. Bump on any table or
// index change; existing databases with a different non-zero version are
// rejected rather than silently migrated, because this database is the
// source of truth and not a rebuildable index.
const schemaVersion = 1

// createStatements builds the append-only revision log, the commit
// journal used for snapshot reads, and the current-head table.
var createStatements = []string{
	`CREATE TABLE revisions (
	    record_id          TEXT NOT NULL,
	    revision_id        TEXT NOT NULL,
	    parent_revision_id TEXT NOT NULL,
	    author             TEXT NOT NULL,
	    ts                 TEXT NOT NULL,
	    markdown           TEXT NOT NULL,
	    integrity          TEXT NOT NULL,
	    PRIMARY KEY (record_id, revision_id)
	) WITHOUT ROWID`,
	`CREATE TABLE head_log (
	    commit_seq  INTEGER PRIMARY KEY AUTOINCREMENT,
	    record_id   TEXT NOT NULL,
	    revision_id TEXT NOT NULL,
	    projection  TEXT NOT NULL,
	    deleted     INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX idx_head_log_record ON head_log (record_id, commit_seq)`,
	`CREATE TABLE heads (
	    record_id   TEXT PRIMARY KEY,
	    revision_id TEXT NOT NULL,
	    projection  TEXT NOT NULL,
	    deleted     INTEGER NOT NULL,
	    commit_seq  INTEGER NOT NULL
	) WITHOUT ROWID`,
}

// initSchema creates tables on a fresh database and validates the stored
// version otherwise.
func initSchema(ctx context.Context, db *sql.DB) error {
	version, err := userVersion(ctx, db)
	if err != nil {
		return err
	}

	if version == schemaVersion {
		return nil
	}

	if version != 0 {
		return fmt.Errorf("unsupported schema version %d (want %d)", version, schemaVersion)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	for _, stmt := range createStatements {
		_, err = tx.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("sqlite: create schema: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	if err != nil {
		return fmt.Errorf("sqlite: set user_version: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("sqlite: commit schema: %w", err)
	}

	return nil
}

// userVersion reads PRAGMA user_version.
func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	row := db.QueryRowContext(ctx, "PRAGMA user_version")

	var version int

	err := row.Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}

	return version, nil
}
