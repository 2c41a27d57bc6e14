package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// pragmas run on every new connection.
var pragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"foreign_keys(ON)",
}

// migrations are applied in order; PRAGMA user_version records how many ran.
var migrations = []string{
	// node store
	`CREATE TABLE IF NOT EXISTS store_nodes (
		path       TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS store_revision (
		id  INTEGER PRIMARY KEY CHECK (id = 1),
		rev INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO store_revision (id, rev) VALUES (1, 0);`,

	// command journal; occurred_at is fixed-width UTC text
	`CREATE TABLE IF NOT EXISTS command_events (
		id          TEXT PRIMARY KEY,
		occurred_at TEXT NOT NULL,
		type        TEXT NOT NULL,
		description TEXT NOT NULL,
		metadata    TEXT
	);
	CREATE INDEX IF NOT EXISTS command_events_occurred_at ON command_events (occurred_at);`,

	// operators
	`CREATE TABLE IF NOT EXISTS operators (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL
	);`,
}

// DSN builds a modernc sqlite data source name for path with the
// connection pragmas attached.
func DSN(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

// InitDB opens the database at path and brings its schema up to date.
func InitDB(path string) (*sql.DB, error) {
	conn, err := sql.Open(driverName, DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// one writer; the node store and the journal share it
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}
	if err := Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Migrate applies the migrations newer than the database's user_version.
func Migrate(ctx context.Context, conn *sql.DB) error {
	var version int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	// PRAGMA does not take bind parameters
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", len(migrations))); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
