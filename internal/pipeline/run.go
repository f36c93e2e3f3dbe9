package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/starford/dagaz/internal/apperr"
	"github.com/starford/dagaz/internal/calendar"
	"github.com/starford/dagaz/internal/models"
	"github.com/starford/dagaz/internal/normalize"
)

// Run executes the pipeline for one image. Steps run in a fixed order, each
// memoized under in.RunID, so re-invoking with the same run id resumes after
// the last completed step. An empty RunID starts a fresh run.
func (r *Runner) Run(ctx context.Context, in Input) (*Result, error) {
	if in.ImageKey == "" {
		return nil, apperr.Fatal(fmt.Errorf("pipeline: image key is required"))
	}
	if in.UserID == "" {
		return nil, apperr.Fatal(fmt.Errorf("pipeline: user id is required"))
	}
	if in.RunID == "" {
		in.RunID = uuid.NewString()
	}
	if in.CalendarID == "" {
		in.CalendarID = "primary"
	}

	logger := r.logger.With(
		slog.String("run_id", in.RunID),
		slog.String("user_id", in.UserID),
		slog.String("image_key", in.ImageKey))
	logger.Info("pipeline run starting")

	raw, err := runStep(ctx, r, in.RunID, StepExtract, func(ctx context.Context) (*models.RawExtraction, error) {
		return r.extract(ctx, in)
	})
	if err != nil {
		return nil, err
	}

	event, err := runStep(ctx, r, in.RunID, StepValidate, func(ctx context.Context) (*models.CanonicalEvent, error) {
		return r.validate(ctx, in, raw)
	})
	if err != nil {
		return nil, err
	}

	// Advisory only: a failed conflict lookup degrades to an empty list and
	// never blocks publication.
	conflicts, err := runStep(ctx, r, in.RunID, StepConflicts, func(ctx context.Context) ([]models.ConflictRecord, error) {
		found, cerr := r.store.FindConflicts(ctx, in.UserID, event.Start, event.End)
		if cerr != nil {
			logger.Warn("conflict check failed, continuing without conflicts",
				slog.String("error", cerr.Error()))
			return nil, nil
		}
		return found, nil
	})
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		logger.Info("overlapping events found", slog.Int("count", len(conflicts)))
	}

	created, err := runStep(ctx, r, in.RunID, StepPublish, func(ctx context.Context) (*calendar.CreateResult, error) {
		return r.publish(ctx, in, event)
	})
	if err != nil {
		return nil, err
	}

	if _, err := runStep(ctx, r, in.RunID, StepSave, func(ctx context.Context) (*models.EventRecord, error) {
		return r.saveAndCleanup(ctx, in, event, created)
	}); err != nil {
		return nil, err
	}

	logger.Info("pipeline run complete",
		slog.String("calendar_event_id", created.EventID),
		slog.Int("conflicts", len(conflicts)))

	return &Result{
		Success:      true,
		RunID:        in.RunID,
		Event:        event,
		CalendarLink: created.Link,
		Conflicts:    conflicts,
	}, nil
}

// extract fetches the image and asks the vision service for event fields.
// An unresolvable image key is fatal; the vision call itself has no side
// effects and is safe to retry.
func (r *Runner) extract(ctx context.Context, in Input) (*models.RawExtraction, error) {
	data, contentType, err := r.blobs.Get(in.ImageKey)
	if err != nil {
		return nil, apperr.Fatal(fmt.Errorf("image %s: %w", in.ImageKey, apperr.ErrNotFound))
	}
	raw, err := r.extractor.Extract(ctx, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("vision extraction: %w", err)
	}
	return raw, nil
}

// validate normalizes the extraction and parks the canonical event in the
// recovery cache so a restarted process need not re-invoke the vision
// service.
func (r *Runner) validate(ctx context.Context, in Input, raw *models.RawExtraction) (*models.CanonicalEvent, error) {
	event, err := normalize.Normalize(raw, in.Timezone, r.now())
	if err != nil {
		return nil, err
	}
	if data, merr := json.Marshal(event); merr == nil {
		if cerr := r.store.CachePut(ctx, recoveryKey(in.RunID), data, recoveryTTL); cerr != nil {
			r.logger.Warn("recovery cache write failed",
				slog.String("run_id", in.RunID), slog.String("error", cerr.Error()))
		}
	}
	return event, nil
}

// publish loads the user's credential, refreshing a stale one, and creates
// the remote calendar event. A 401 mid-call triggers one refresh-and-retry;
// a second rejection is fatal.
func (r *Runner) publish(ctx context.Context, in Input, event *models.CanonicalEvent) (*calendar.CreateResult, error) {
	cred, err := r.store.GetCredential(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	if cred.Expired(r.now()) {
		if cred, err = r.refreshCredential(ctx, cred); err != nil {
			return nil, err
		}
	}

	created, err := r.publisher.CreateEvent(ctx, cred, event, in.CalendarID)
	if errors.Is(err, apperr.ErrCredentialExpired) {
		if cred, err = r.refreshCredential(ctx, cred); err != nil {
			return nil, err
		}
		created, err = r.publisher.CreateEvent(ctx, cred, event, in.CalendarID)
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

// refreshCredential exchanges the refresh token and persists the rewritten
// credential. A failed refresh is fatal: the user must re-authorize out of
// band.
func (r *Runner) refreshCredential(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	refreshed, err := r.publisher.Refresh(ctx, cred)
	if err != nil {
		return nil, apperr.Fatal(fmt.Errorf("credential refresh: %w", err))
	}
	if err := r.store.SaveCredential(ctx, refreshed); err != nil {
		return nil, fmt.Errorf("persist refreshed credential: %w", err)
	}
	return refreshed, nil
}

// saveAndCleanup writes the durable event record, then best-effort deletes
// the source image and the recovery cache entry. Cleanup failures are logged
// and never fail the run.
func (r *Runner) saveAndCleanup(ctx context.Context, in Input, event *models.CanonicalEvent, created *calendar.CreateResult) (*models.EventRecord, error) {
	now := r.now().UTC()
	rec := &models.EventRecord{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		Title:           event.Title,
		Start:           event.Start,
		End:             event.End,
		IsAllDay:        event.IsAllDay,
		Timezone:        event.Timezone,
		Location:        event.Location,
		Description:     event.Description,
		CalendarEventID: created.EventID,
		CalendarLink:    created.Link,
		ImageKey:        in.ImageKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.store.InsertEvent(ctx, rec); err != nil {
		return nil, err
	}

	if err := r.blobs.Delete(in.ImageKey); err != nil {
		r.logger.Warn("source image cleanup failed",
			slog.String("run_id", in.RunID),
			slog.String("image_key", in.ImageKey),
			slog.String("error", err.Error()))
	}
	if err := r.store.CacheDelete(ctx, recoveryKey(in.RunID)); err != nil {
		r.logger.Warn("recovery cache cleanup failed",
			slog.String("run_id", in.RunID),
			slog.String("error", err.Error()))
	}
	return rec, nil
}
