// Package pipeline implements the durable photo-to-calendar workflow: vision
// extraction, normalization, conflict check, remote publish, and persistence,
// sequenced as independently retryable, memoized steps.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/starford/dagaz/internal/calendar"
	"github.com/starford/dagaz/internal/models"
	"github.com/starford/dagaz/internal/persistence"
	"github.com/starford/dagaz/internal/storage"
	"github.com/starford/dagaz/internal/vision"
)

// Step names. A step's result is memoized under (runID, name), so renaming
// one invalidates in-flight runs.
const (
	StepExtract   = "extract-event-data"
	StepValidate  = "validate-event"
	StepConflicts = "check-conflicts"
	StepPublish   = "create-calendar-event"
	StepSave      = "save-and-cleanup"
)

// Step progress statuses reported through the Notifier.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusMemoized  = "memoized"
)

// recoveryTTL bounds how long a run's normalized event survives in the
// recovery cache.
const recoveryTTL = 24 * time.Hour

// Store is the durable-state capability the runner needs: step memoization,
// the recovery cache, conflict lookup, credentials, and the final event
// write.
type Store interface {
	StepResult(ctx context.Context, runID, step string) ([]byte, bool, error)
	SaveStepResult(ctx context.Context, runID, step string, result []byte) error
	CachePut(ctx context.Context, key string, value []byte, ttl time.Duration) error
	CacheDelete(ctx context.Context, key string) error
	FindConflicts(ctx context.Context, userID string, start, end time.Time) ([]models.ConflictRecord, error)
	GetCredential(ctx context.Context, userID string) (*models.Credential, error)
	SaveCredential(ctx context.Context, cred *models.Credential) error
	InsertEvent(ctx context.Context, rec *models.EventRecord) error
}

// Verify *persistence.DB satisfies Store at compile time.
var _ Store = (*persistence.DB)(nil)

// Publisher creates events remotely and refreshes credentials.
type Publisher interface {
	CreateEvent(ctx context.Context, cred *models.Credential, event *models.CanonicalEvent, calendarID string) (*calendar.CreateResult, error)
	Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error)
}

// Notifier receives step progress events. Implementations must not block.
type Notifier interface {
	PublishRunEvent(runID, step, status string)
}

// Input identifies one pipeline run.
type Input struct {
	RunID      string `json:"run_id"`
	ImageKey   string `json:"image_key"`
	UserID     string `json:"user_id"`
	Timezone   string `json:"timezone,omitempty"`
	CalendarID string `json:"calendar_id,omitempty"`
}

// Result is the aggregate outcome of a successful run.
type Result struct {
	Success      bool                    `json:"success"`
	RunID        string                  `json:"run_id"`
	Event        *models.CanonicalEvent  `json:"event"`
	CalendarLink string                  `json:"calendar_link"`
	Conflicts    []models.ConflictRecord `json:"conflicts,omitempty"`
}

// Runner executes pipeline runs.
type Runner struct {
	store     Store
	blobs     storage.Provider
	extractor vision.Extractor
	publisher Publisher

	notifier    Notifier
	logger      *slog.Logger
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

// WithNotifier attaches a progress notifier.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRetry bounds the per-step retry loop. attempts counts the first try.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(r *Runner) {
		if attempts > 0 {
			r.maxAttempts = attempts
		}
		if backoff >= 0 {
			r.backoff = backoff
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(r *Runner) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewRunner wires a pipeline runner to its collaborators.
func NewRunner(store Store, blobs storage.Provider, extractor vision.Extractor, publisher Publisher, opts ...Option) *Runner {
	r := &Runner{
		store:       store,
		blobs:       blobs,
		extractor:   extractor,
		publisher:   publisher,
		logger:      slog.Default(),
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// recoveryKey is the cache key holding a run's normalized event.
func recoveryKey(runID string) string {
	return "pipeline:run:" + runID
}

func (r *Runner) notify(runID, step, status string) {
	if r.notifier != nil {
		r.notifier.PublishRunEvent(runID, step, status)
	}
}
