package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/dagaz/internal/apperr"
)

// runStep executes one named step with memoization and bounded retry.
//
// A previously completed (runID, name) pair replays the recorded result
// without invoking fn, so a resumed run never repeats a step's external side
// effects. Otherwise fn runs with up to maxAttempts tries; fatal errors (see
// apperr.IsFatal) and context cancellation abort immediately, anything else
// backs off linearly and retries. The result is persisted before it is
// returned.
func runStep[T any](ctx context.Context, r *Runner, runID, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if data, ok, err := r.store.StepResult(ctx, runID, name); err != nil {
		return zero, fmt.Errorf("pipeline: step %s: load memo: %w", name, err)
	} else if ok {
		var out T
		if err := json.Unmarshal(data, &out); err != nil {
			return zero, fmt.Errorf("pipeline: step %s: decode memo: %w", name, err)
		}
		r.logger.Debug("step replayed from memo",
			slog.String("run_id", runID), slog.String("step", name))
		r.notify(runID, name, StatusMemoized)
		return out, nil
	}

	r.notify(runID, name, StatusStarted)

	var out T
	var err error
	for attempt := 1; ; attempt++ {
		out, err = fn(ctx)
		if err == nil {
			break
		}
		if apperr.IsFatal(err) || ctx.Err() != nil || attempt >= r.maxAttempts {
			r.logger.Error("step failed",
				slog.String("run_id", runID),
				slog.String("step", name),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			r.notify(runID, name, StatusFailed)
			return zero, fmt.Errorf("pipeline: step %s: %w", name, err)
		}
		r.logger.Warn("step attempt failed, retrying",
			slog.String("run_id", runID),
			slog.String("step", name),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			r.notify(runID, name, StatusFailed)
			return zero, fmt.Errorf("pipeline: step %s: %w", name, ctx.Err())
		case <-time.After(r.backoff * time.Duration(attempt)):
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return zero, fmt.Errorf("pipeline: step %s: encode memo: %w", name, err)
	}
	if err := r.store.SaveStepResult(ctx, runID, name, data); err != nil {
		return zero, fmt.Errorf("pipeline: step %s: save memo: %w", name, err)
	}

	r.notify(runID, name, StatusCompleted)
	return out, nil
}
