package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// StepResult returns the memoized result of a completed pipeline step, or
// ok=false when the step has not completed for this run.
func (db *DB) StepResult(ctx context.Context, runID, step string) ([]byte, bool, error) {
	var result string
	err := db.conn.QueryRowContext(ctx, `
		SELECT result FROM pipeline_steps WHERE run_id = ? AND step = ?
	`, runID, step).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("persistence: step result: %w", err)
	}
	return []byte(result), true, nil
}

// SaveStepResult records a step's result so a resumed run replays it instead
// of repeating the step's side effects.
func (db *DB) SaveStepResult(ctx context.Context, runID, step string, result []byte) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO pipeline_steps (run_id, step, result, completed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, step) DO UPDATE SET
			result       = excluded.result,
			completed_at = excluded.completed_at
	`, runID, step, string(result), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("persistence: save step result: %w", err)
	}
	return nil
}
