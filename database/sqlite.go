// Package database provides the SQLite-backed stores for the broker:
// users, impersonation sessions, and audit records.
package database

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ArcaView/qualifyr/database/sqliteconfig"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/tailscale/squibble"

	_ "modernc.org/sqlite"
)

// Database errors.
var (
	ErrBuildConnectionURL = errors.New("failed to build SQLite connection URL")
	ErrOpenDatabase       = errors.New("failed to open database")
	ErrPingDatabase       = errors.New("failed to ping database")
	ErrApplySchema        = errors.New("failed to apply schema")
)

// Database wraps the sqlx database connection.
type Database struct {
	db *sqlx.DB
}

// New opens the database at path and applies the schema.
func New(path string) (*Database, error) {
	isNewDatabase := false
	if path != ":memory:" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			isNewDatabase = true
		}
	}

	cfg := sqliteconfig.Default(path)
	log.Debug().Str("path", path).Bool("new_database", isNewDatabase).Msg("Opening database")

	return NewWithConfig(cfg)
}

// NewMemory opens an in-memory database, used by tests.
func NewMemory() (*Database, error) {
	return NewWithConfig(sqliteconfig.Memory())
}

// NewWithConfig opens a database with custom SQLite configuration.
func NewWithConfig(cfg *sqliteconfig.Config) (*Database, error) {
	connectionURL, err := cfg.ToURL()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildConnectionURL, err)
	}

	log.Debug().
		Str("path", cfg.Path).
		Str("config", connectionURL).
		Msg("Opening SQLite database")

	db, err := sqlx.Open("sqlite", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenDatabase, err)
	}

	// SQLite concurrency settings: single connection model
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrPingDatabase, err)
	}

	s := &squibble.Schema{Current: Schema()}
	if err := s.Apply(context.Background(), db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrApplySchema, err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying *sqlx.DB for advanced operations.
func (d *Database) DB() *sqlx.DB {
	return d.db
}

// WithTx executes a function within a database transaction.
func (d *Database) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// Schema returns the authoritative database schema.
func Schema() string {
	return `
-- Users table
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT UNIQUE NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL DEFAULT '',
    provider_identifier TEXT UNIQUE,
    is_admin INTEGER NOT NULL DEFAULT 0,
    last_login DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    modified_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    deleted_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
CREATE INDEX IF NOT EXISTS idx_users_provider_identifier ON users(provider_identifier);

-- Impersonation sessions. Rows are never deleted; terminal rows remain as
-- audit anchors. Status mutations go exclusively through the
-- conditional-update path, which also bumps version.
CREATE TABLE IF NOT EXISTS impersonation_sessions (
    id TEXT PRIMARY KEY,
    admin_user_id TEXT NOT NULL,
    admin_email TEXT NOT NULL,
    target_user_id TEXT NOT NULL,
    target_email TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    reason TEXT NOT NULL DEFAULT '',
    requested_at DATETIME NOT NULL,
    approved_at DATETIME,
    expires_at DATETIME,
    ended_at DATETIME,
    version INTEGER NOT NULL DEFAULT 1,
    FOREIGN KEY (admin_user_id) REFERENCES users(id),
    FOREIGN KEY (target_user_id) REFERENCES users(id),
    CHECK (admin_user_id <> target_user_id)
);

-- At most one pending or active session per (admin, target) pair.
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open_pair
    ON impersonation_sessions(admin_user_id, target_user_id)
    WHERE status IN ('pending', 'active');

CREATE INDEX IF NOT EXISTS idx_sessions_admin ON impersonation_sessions(admin_user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_target ON impersonation_sessions(target_user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_sweep ON impersonation_sessions(status, expires_at);

-- Audit records: append-only. Session transitions and logged actions
-- reference their session; login/logout events store a NULL session_id.
CREATE TABLE IF NOT EXISTS audit_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT,
    action TEXT NOT NULL,
    actor_email TEXT NOT NULL,
    timestamp DATETIME NOT NULL,
    details TEXT,
    FOREIGN KEY (session_id) REFERENCES impersonation_sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_audit_records_session ON audit_records(session_id);
CREATE INDEX IF NOT EXISTS idx_audit_records_action ON audit_records(action);
`
}
