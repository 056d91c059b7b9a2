// Package store holds the SQLite-backed ProcessedStore, SenderStore,
// TokenStore (C1, C2, C4) and DigestRunStore plus the S3-backed BlobStore (C3).
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sql.DB connection and exposes the four SQLite-backed
// stores. BlobStore is constructed separately (store.NewBlobStore) since
// it talks to S3, not this database.
type DB struct {
	*sql.DB
	Processed *ProcessedStore
	Senders   *SenderStore
	Tokens    *TokenStore
	Runs      *DigestRunStore
}

// Open opens the SQLite database at dbPath, enables WAL mode for
// concurrent readers/writers, and runs migrations.
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite serializes writers regardless; a single pooled connection
	// avoids "database is locked" races and keeps :memory: test databases
	// from silently fanning out into multiple empty in-memory instances.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	wrapped := &DB{
		DB:        db,
		Processed: NewProcessedStore(db),
		Senders:   NewSenderStore(db),
		Tokens:    NewTokenStore(db),
		Runs:      NewDigestRunStore(db),
	}

	if err := wrapped.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return wrapped, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS processed_emails (
		email_id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		processed_at DATETIME NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		expires_at_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_processed_emails_expires ON processed_emails(expires_at_ms);

	CREATE TABLE IF NOT EXISTS senders (
		sender_email TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		classification TEXT NOT NULL,
		confidence REAL NOT NULL,
		last_classified_at_ms INTEGER NOT NULL,
		classification_count INTEGER NOT NULL DEFAULT 0,
		display_name TEXT,
		newsletter_name TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_senders_domain ON senders(domain);
	CREATE INDEX IF NOT EXISTS idx_senders_classification ON senders(classification);

	CREATE TABLE IF NOT EXISTS oauth_tokens (
		user_id TEXT PRIMARY KEY,
		refresh_token TEXT NOT NULL,
		access_token TEXT,
		expiry_ms INTEGER,
		last_used_ms INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS digest_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		correlation_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		emails_found INTEGER NOT NULL DEFAULT 0,
		emails_processed INTEGER NOT NULL DEFAULT 0,
		total_cost REAL NOT NULL DEFAULT 0,
		message TEXT,
		error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_digest_runs_finished_at ON digest_runs(finished_at);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return db.migrateExecutionIDColumn()
}

// migrateExecutionIDColumn is an idempotent ALTER TABLE migration in the
// teacher's style (pragma_table_info guard, then add columns) for the
// execution_id column that GET /execution/{id} looks records up by —
// added after digest_runs shipped without it.
func (db *DB) migrateExecutionIDColumn() error {
	var columnExists int
	err := db.QueryRow(`
		SELECT COUNT(*)
		FROM pragma_table_info('digest_runs')
		WHERE name = 'execution_id'
	`).Scan(&columnExists)
	if err != nil {
		return fmt.Errorf("failed to check execution_id column existence: %w", err)
	}

	if columnExists == 0 {
		if _, err := db.Exec("ALTER TABLE digest_runs ADD COLUMN execution_id TEXT"); err != nil {
			return fmt.Errorf("failed to add execution_id column: %w", err)
		}
		if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_digest_runs_execution_id ON digest_runs(execution_id)"); err != nil {
			return fmt.Errorf("failed to create execution_id index: %w", err)
		}
	}

	return nil
}

// IsHealthy checks if the database connection is healthy.
func (db *DB) IsHealthy() error {
	return db.Ping()
}
