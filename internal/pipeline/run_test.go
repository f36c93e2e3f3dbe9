package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/starford/dagaz/internal/apperr"
	"github.com/starford/dagaz/internal/calendar"
	"github.com/starford/dagaz/internal/models"
	"github.com/starford/dagaz/internal/persistence"
	"github.com/starford/dagaz/internal/storage"
	"github.com/starford/dagaz/internal/testutil"
)

// fakeExtractor returns a canned extraction, optionally failing the first
// few calls.
type fakeExtractor struct {
	mu       sync.Mutex
	raw      *models.RawExtraction
	failures int
	calls    int
}

func (f *fakeExtractor) Extract(_ context.Context, _ []byte, _ string) (*models.RawExtraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("vision service unavailable")
	}
	return f.raw, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakePublisher records create/refresh calls and can reject the first create
// with an expired-credential error.
type fakePublisher struct {
	mu            sync.Mutex
	createCalls   int
	refreshCalls  int
	expireFirst   bool
	lastAccessTok string
}

func (f *fakePublisher) CreateEvent(_ context.Context, cred *models.Credential, _ *models.CanonicalEvent, _ string) (*calendar.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.lastAccessTok = cred.AccessToken
	if f.expireFirst {
		f.expireFirst = false
		return nil, apperr.ErrCredentialExpired
	}
	return &calendar.CreateResult{
		EventID: "remote-1",
		Link:    "https://calendar.google.com/event?eid=remote-1",
	}, nil
}

func (f *fakePublisher) Refresh(_ context.Context, cred *models.Credential) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	return &models.Credential{
		UserID:       cred.UserID,
		AccessToken:  "refreshed-token",
		RefreshToken: cred.RefreshToken,
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

type env struct {
	runner    *Runner
	db        *persistence.DB
	blobs     *storage.FS
	extractor *fakeExtractor
	publisher *fakePublisher
}

func setup(t *testing.T, opts ...Option) *env {
	t.Helper()
	db := testutil.TestDB(t)
	_, blobs := testutil.TestImageStore(t)

	extractor := &fakeExtractor{raw: &models.RawExtraction{
		Title:     "Study Group",
		StartDate: "3/5/25",
		StartTime: "2pm",
	}}
	publisher := &fakePublisher{}

	opts = append([]Option{WithRetry(3, 0)}, opts...)
	runner := NewRunner(db, blobs, extractor, publisher, opts...)

	return &env{runner: runner, db: db, blobs: blobs, extractor: extractor, publisher: publisher}
}

func (e *env) seedImage(t *testing.T, key string) {
	t.Helper()
	if err := e.blobs.Put(key, []byte("jpeg-bytes"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}
}

func (e *env) seedCredential(t *testing.T, userID string, expiry time.Time) {
	t.Helper()
	err := e.db.SaveCredential(context.Background(), &models.Credential{
		UserID:       userID,
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		Expiry:       expiry,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRunHappyPath(t *testing.T) {
	e := setup(t)
	e.seedImage(t, "flyer.jpg")
	e.seedCredential(t, "u1", time.Now().Add(time.Hour))

	res, err := e.runner.Run(context.Background(), Input{
		RunID:    "run-1",
		ImageKey: "flyer.jpg",
		UserID:   "u1",
		Timezone: "America/New_York",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Error("expected success")
	}
	if res.Event.Title != "Study Group" || res.Event.IsAllDay {
		t.Errorf("event = %+v", res.Event)
	}
	if res.CalendarLink == "" {
		t.Error("missing calendar link")
	}

	// The durable record exists.
	recs, err := e.db.ListEvents(context.Background(), "u1", 10, 0)
	if err != nil || len(recs) != 1 {
		t.Fatalf("ListEvents = %v, %v", recs, err)
	}
	if recs[0].CalendarEventID != "remote-1" {
		t.Errorf("record = %+v", recs[0])
	}

	// Cleanup ran: image gone, recovery cache entry gone.
	if _, _, err := e.blobs.Get("flyer.jpg"); err == nil {
		t.Error("source image should be deleted")
	}
	if _, ok, _ := e.db.CacheGet(context.Background(), recoveryKey("run-1")); ok {
		t.Error("recovery cache entry should be deleted")
	}
}

func TestRunMemoizationDoesNotRepeatSideEffects(t *testing.T) {
	e := setup(t)
	e.seedImage(t, "flyer.jpg")
	e.seedCredential(t, "u1", time.Now().Add(time.Hour))

	in := Input{RunID: "run-resume", ImageKey: "flyer.jpg", UserID: "u1"}
	if _, err := e.runner.Run(context.Background(), in); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := e.runner.Run(context.Background(), in); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if got := e.extractor.callCount(); got != 1 {
		t.Errorf("vision called %d times, want 1", got)
	}
	if e.publisher.createCalls != 1 {
		t.Errorf("calendar create called %d times, want 1", e.publisher.createCalls)
	}
}

func TestRunMissingImageFatal(t *testing.T) {
	e := setup(t)
	e.seedCredential(t, "u1", time.Now().Add(time.Hour))

	_, err := e.runner.Run(context.Background(), Input{ImageKey: "nope.jpg", UserID: "u1"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if got := e.extractor.callCount(); got != 0 {
		t.Errorf("vision called %d times for a missing image", got)
	}
}

func TestRunCredentialMissingFatal(t *testing.T) {
	e := setup(t)
	e.seedImage(t, "flyer.jpg")

	_, err := e.runner.Run(context.Background(), Input{ImageKey: "flyer.jpg", UserID: "u-nobody"})
	if !errors.Is(err, apperr.ErrCredentialMissing) {
		t.Fatalf("err = %v, want ErrCredentialMissing", err)
	}
}

func TestRunTransientExtractionRetried(t *testing.T) {
	e := setup(t)
	e.extractor.failures = 2
	e.seedImage(t, "flyer.jpg")
	e.seedCredential(t, "u1", time.Now().Add(time.Hour))

	if _, err := e.runner.Run(context.Background(), Input{ImageKey: "flyer.jpg", UserID: "u1"}); err != nil {
		t.Fatalf("Run should survive transient failures: %v", err)
	}
	if got := e.extractor.callCount(); got != 3 {
		t.Errorf("vision called %d times, want 3", got)
	}
}

func TestRunExpiredMidCallRefreshesAndRetriesOnce(t *testing.T) {
	e := setup(t)
	e.publisher.expireFirst = true
	e.seedImage(t, "flyer.jpg")
	e.seedCredential(t, "u1", time.Now().Add(time.Hour))

	res, err := e.runner.Run(context.Background(), Input{ImageKey: "flyer.jpg", UserID: "u1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Error("expected success after refresh")
	}
	if e.publisher.refreshCalls != 1 || e.publisher.createCalls != 2 {
		t.Errorf("refresh=%d create=%d, want 1 and 2", e.publisher.refreshCalls, e.publisher.createCalls)
	}
	if e.publisher.lastAccessTok != "refreshed-token" {
		t.Errorf("retry used token %q", e.publisher.lastAccessTok)
	}

	// The rewritten credential was persisted.
	cred, err := e.db.GetCredential(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if cred.AccessToken != "refreshed-token" {
		t.Errorf("stored access token = %q", cred.AccessToken)
	}
}

func TestRunProactiveRefreshOfStaleCredential(t *testing.T) {
	e := setup(t)
	e.seedImage(t, "flyer.jpg")
	e.seedCredential(t, "u1", time.Now().Add(-time.Minute))

	if _, err := e.runner.Run(context.Background(), Input{ImageKey: "flyer.jpg", UserID: "u1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if e.publisher.refreshCalls != 1 {
		t.Errorf("refresh called %d times, want 1", e.publisher.refreshCalls)
	}
	if e.publisher.lastAccessTok != "refreshed-token" {
		t.Errorf("create used token %q", e.publisher.lastAccessTok)
	}
}

func TestRunReportsConflicts(t *testing.T) {
	e := setup(t)
	e.seedImage(t, "flyer.jpg")
	e.seedCredential(t, "u1", time.Now().Add(time.Hour))

	// A stored event overlapping 2025-03-05 14:00-15:00 Eastern.
	loc := time.FixedZone("America/New_York", -5*3600)
	err := e.db.InsertEvent(context.Background(), &models.EventRecord{
		ID:              "existing",
		UserID:          "u1",
		Title:           "Dentist",
		Start:           time.Date(2025, 3, 5, 14, 30, 0, 0, loc),
		End:             time.Date(2025, 3, 5, 14, 45, 0, 0, loc),
		Timezone:        "America/New_York",
		CalendarEventID: "cal-existing",
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := e.runner.Run(context.Background(), Input{
		ImageKey: "flyer.jpg",
		UserID:   "u1",
		Timezone: "America/New_York",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].Title != "Dentist" {
		t.Errorf("conflicts = %+v", res.Conflicts)
	}
}

func TestRunGeneratesRunID(t *testing.T) {
	e := setup(t)
	e.seedImage(t, "flyer.jpg")
	e.seedCredential(t, "u1", time.Now().Add(time.Hour))

	res, err := e.runner.Run(context.Background(), Input{ImageKey: "flyer.jpg", UserID: "u1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RunID == "" {
		t.Error("run id should be generated")
	}
}
