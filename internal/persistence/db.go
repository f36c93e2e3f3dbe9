// Package persistence provides the SQLite-backed durable stores: event
// records, calendar credentials, pipeline step memoization, and the TTL
// key-value recovery cache.
package persistence

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	title             TEXT NOT NULL,
	start_at          TEXT NOT NULL,
	end_at            TEXT NOT NULL,
	start_unix        INTEGER NOT NULL,
	end_unix          INTEGER NOT NULL,
	is_all_day        INTEGER NOT NULL DEFAULT 0,
	timezone          TEXT NOT NULL DEFAULT '',
	location          TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	calendar_event_id TEXT NOT NULL DEFAULT '',
	calendar_link     TEXT NOT NULL DEFAULT '',
	image_key         TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_user_window ON events(user_id, start_unix, end_unix);

CREATE TABLE IF NOT EXISTS credentials (
	user_id       TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	expiry        DATETIME
);

CREATE TABLE IF NOT EXISTS pipeline_steps (
	run_id       TEXT NOT NULL,
	step         TEXT NOT NULL,
	result       TEXT NOT NULL DEFAULT '',
	completed_at DATETIME NOT NULL,
	PRIMARY KEY (run_id, step)
);

CREATE TABLE IF NOT EXISTS kv_cache (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
`

// DB wraps a sql.DB with store-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("persistence: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("persistence: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("persistence: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
