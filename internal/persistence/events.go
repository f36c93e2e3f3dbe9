package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/dagaz/internal/apperr"
	"github.com/starford/dagaz/internal/models"
)

// conflictLimit caps the number of conflicts reported for one candidate
// window.
const conflictLimit = 10

// InsertEvent writes the durable event record. The record's ID must be set
// by the caller.
func (db *DB) InsertEvent(ctx context.Context, rec *models.EventRecord) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO events (
			id, user_id, title, start_at, end_at, start_unix, end_unix,
			is_all_day, timezone, location, description,
			calendar_event_id, calendar_link, image_key, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.UserID, rec.Title,
		rec.Start.Format(time.RFC3339), rec.End.Format(time.RFC3339),
		rec.Start.Unix(), rec.End.Unix(),
		rec.IsAllDay, rec.Timezone, rec.Location, rec.Description,
		rec.CalendarEventID, rec.CalendarLink, rec.ImageKey,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("persistence: insert event: %w", err)
	}
	return nil
}

// GetEvent returns a single event record by id.
func (db *DB) GetEvent(ctx context.Context, id string) (*models.EventRecord, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, title, start_at, end_at, is_all_day, timezone,
		       location, description, calendar_event_id, calendar_link,
		       image_key, created_at, updated_at
		FROM events WHERE id = ?
	`, id)
	rec, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: get event: %w", err)
	}
	return rec, nil
}

// ListEvents returns a user's event records ordered by start time ascending.
func (db *DB) ListEvents(ctx context.Context, userID string, limit, offset int) ([]models.EventRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, user_id, title, start_at, end_at, is_all_day, timezone,
		       location, description, calendar_event_id, calendar_link,
		       image_key, created_at, updated_at
		FROM events WHERE user_id = ?
		ORDER BY start_unix ASC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("persistence: list events: %w", err)
	}
	defer rows.Close()

	var out []models.EventRecord
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("persistence: scan event: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// DeleteEvent removes an event record by id.
func (db *DB) DeleteEvent(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("persistence: delete event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// FindConflicts returns stored events of the user that overlap the candidate
// window [start, end) under strict half-open comparison: a stored event
// conflicts when stored.start < end AND stored.end > start, so back-to-back
// events touching at a boundary do not conflict. Results are ordered by
// stored start ascending and capped at conflictLimit.
func (db *DB) FindConflicts(ctx context.Context, userID string, start, end time.Time) ([]models.ConflictRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT title, start_at, end_at, calendar_event_id
		FROM events
		WHERE user_id = ? AND start_unix < ? AND end_unix > ?
		ORDER BY start_unix ASC
		LIMIT ?
	`, userID, end.Unix(), start.Unix(), conflictLimit)
	if err != nil {
		return nil, fmt.Errorf("persistence: find conflicts: %w", err)
	}
	defer rows.Close()

	var out []models.ConflictRecord
	for rows.Next() {
		var c models.ConflictRecord
		var startAt, endAt string
		if err := rows.Scan(&c.Title, &startAt, &endAt, &c.CalendarEventID); err != nil {
			return nil, fmt.Errorf("persistence: scan conflict: %w", err)
		}
		if c.Start, err = time.Parse(time.RFC3339, startAt); err != nil {
			return nil, fmt.Errorf("persistence: parse conflict start: %w", err)
		}
		if c.End, err = time.Parse(time.RFC3339, endAt); err != nil {
			return nil, fmt.Errorf("persistence: parse conflict end: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.EventRecord, error) {
	var rec models.EventRecord
	var startAt, endAt string
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Title, &startAt, &endAt,
		&rec.IsAllDay, &rec.Timezone, &rec.Location, &rec.Description,
		&rec.CalendarEventID, &rec.CalendarLink, &rec.ImageKey,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if rec.Start, err = time.Parse(time.RFC3339, startAt); err != nil {
		return nil, err
	}
	if rec.End, err = time.Parse(time.RFC3339, endAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
