// Package store provides the pooled-connection layer backing stores execute
// against.
//
// DB owns the SQLite handle and its pragmas. Conn is a scoped connection:
// acquired at the start of one backing-store operation, used for one or more
// statements, and released before the operation returns - on every exit
// path, including errors. Batch accumulates repeated executions of one
// update statement within a connection scope and reports per-row update
// counts and per-row failures so callers can aggregate partial-batch
// errors.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the physical database. Safe for use by any number of backing
// stores; each operation takes its own scoped Conn.
type DB struct {
	db *sql.DB

	// trace, when set, observes every executed statement's text. The
	// harness uses it to pin generated SQL in golden files.
	trace func(sql string, params []any)
}

// Open creates or opens a SQLite database at the given path. Use ":memory:"
// for a throwaway in-memory database.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{db: db}, nil
}

// currentSchemaVersion is the schema epoch stamped into PRAGMA
// user_version. Bump it when a migration step is added below.
const currentSchemaVersion = 1

// runMigrations applies incremental schema migrations based on
// user_version. A database stamped with a newer version than this build
// supports is refused rather than silently reinterpreted.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	if version == currentSchemaVersion {
		return nil
	}

	// Version 0 covers both a fresh database and one created before
	// versions were stamped; no structural steps separate them yet.

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// SetTrace installs a statement observer. Pass nil to remove it. Not safe
// to call concurrently with statement execution.
func (d *DB) SetTrace(fn func(sql string, params []any)) {
	d.trace = fn
}

// Exec runs a statement directly on the pool, outside any scoped
// connection. Used for schema setup in tests and tooling.
func (d *DB) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("exec %q: %w", query, err)
	}
	return nil
}

// Acquire returns a scoped connection. The caller must Release it on every
// exit path; Release is idempotent to make defer safe alongside explicit
// releases.
func (d *DB) Acquire(ctx context.Context) (*Conn, error) {
	c, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &Conn{db: d, conn: c}, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}
