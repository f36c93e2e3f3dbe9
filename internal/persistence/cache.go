package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CachePut stores a value under key with a time-to-live. An existing entry
// is replaced.
func (db *DB) CachePut(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expires := time.Now().Add(ttl).Unix()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO kv_cache (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			expires_at = excluded.expires_at
	`, key, string(value), expires)
	if err != nil {
		return fmt.Errorf("persistence: cache put: %w", err)
	}
	return nil
}

// CacheGet returns the value stored under key, or ok=false when the key is
// absent or its TTL has elapsed. Expired entries are removed lazily.
func (db *DB) CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	var expires int64
	err := db.conn.QueryRowContext(ctx, `
		SELECT value, expires_at FROM kv_cache WHERE key = ?
	`, key).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("persistence: cache get: %w", err)
	}
	if time.Now().Unix() >= expires {
		_, _ = db.conn.ExecContext(ctx, `DELETE FROM kv_cache WHERE key = ?`, key)
		return nil, false, nil
	}
	return []byte(value), true, nil
}

// CacheDelete removes a cache entry. Deleting an absent key is not an error.
func (db *DB) CacheDelete(ctx context.Context, key string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM kv_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("persistence: cache delete: %w", err)
	}
	return nil
}
