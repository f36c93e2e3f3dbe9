package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/dagaz/internal/apperr"
	"github.com/starford/dagaz/internal/models"
)

func timedEvent() *models.CanonicalEvent {
	loc := time.FixedZone("America/New_York", -5*3600)
	return &models.CanonicalEvent{
		Title:    "Study Group",
		Start:    time.Date(2025, 3, 5, 14, 0, 0, 0, loc),
		End:      time.Date(2025, 3, 5, 15, 0, 0, 0, loc),
		Timezone: "America/New_York",
	}
}

func TestToGoogleEventTimed(t *testing.T) {
	g := ToGoogleEvent(timedEvent())
	if g.Start.DateTime != "2025-03-05T14:00:00-05:00" {
		t.Errorf("start dateTime = %q", g.Start.DateTime)
	}
	if g.Start.Date != "" || g.End.Date != "" {
		t.Error("timed event must not carry date-only fields")
	}
	if g.Start.TimeZone != "America/New_York" {
		t.Errorf("timeZone = %q", g.Start.TimeZone)
	}
}

func TestToGoogleEventAllDay(t *testing.T) {
	loc := time.FixedZone("UTC", 0)
	event := &models.CanonicalEvent{
		Title:    "Festival",
		Start:    time.Date(2025, 7, 4, 0, 0, 0, 0, loc),
		End:      time.Date(2025, 7, 4, 23, 59, 59, 0, loc),
		IsAllDay: true,
		Timezone: "UTC",
	}
	g := ToGoogleEvent(event)
	if g.Start.Date != "2025-07-04" {
		t.Errorf("start date = %q", g.Start.Date)
	}
	// End date is exclusive.
	if g.End.Date != "2025-07-05" {
		t.Errorf("end date = %q", g.End.Date)
	}
	if g.Start.DateTime != "" || g.End.DateTime != "" {
		t.Error("all-day event must not carry time components")
	}
	if strings.Contains(g.Start.Date, "T") {
		t.Error("date-only field contains a time component")
	}
}

func TestCreateEvent(t *testing.T) {
	var gotAuth string
	var gotBody GoogleEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if !strings.HasSuffix(r.URL.Path, "/calendars/primary/events") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":       "evt-123",
			"htmlLink": "https://calendar.google.com/event?eid=evt-123",
		})
	}))
	defer srv.Close()

	c := NewClient("id", "secret", srv.URL, srv.URL+"/token")
	cred := &models.Credential{UserID: "u1", AccessToken: "tok"}
	res, err := c.CreateEvent(context.Background(), cred, timedEvent(), "primary")
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if res.EventID != "evt-123" || res.Link == "" {
		t.Errorf("result = %+v", res)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody.Summary != "Study Group" {
		t.Errorf("summary = %q", gotBody.Summary)
	}
}

func TestCreateEventExpiredToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient("id", "secret", srv.URL, "")
	_, err := c.CreateEvent(context.Background(), &models.Credential{AccessToken: "stale"}, timedEvent(), "")
	if !errors.Is(err, apperr.ErrCredentialExpired) {
		t.Fatalf("err = %v, want ErrCredentialExpired", err)
	}
}

func TestCreateEventRemoteRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid event"}`))
	}))
	defer srv.Close()

	c := NewClient("id", "secret", srv.URL, "")
	_, err := c.CreateEvent(context.Background(), &models.Credential{AccessToken: "tok"}, timedEvent(), "")
	var re *apperr.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
	if re.Status != http.StatusBadRequest || !strings.Contains(re.Body, "invalid event") {
		t.Errorf("remote error = %+v", re)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "old-refresh" {
			t.Errorf("form = %v", r.Form)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	c := NewClient("id", "secret", "", srv.URL)
	cred := &models.Credential{UserID: "u1", AccessToken: "old", RefreshToken: "old-refresh"}
	got, err := c.Refresh(context.Background(), cred)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got.AccessToken != "new-access" || got.RefreshToken != "new-refresh" {
		t.Errorf("refreshed = %+v", got)
	}
	if got.Expiry.Before(time.Now().Add(50 * time.Minute)) {
		t.Errorf("expiry = %v, want ~1h out", got.Expiry)
	}
}

func TestRefreshKeepsPriorRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Providers do not always rotate refresh tokens.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "new-access",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	c := NewClient("id", "secret", "", srv.URL)
	got, err := c.Refresh(context.Background(), &models.Credential{UserID: "u1", RefreshToken: "keep-me"})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got.RefreshToken != "keep-me" {
		t.Errorf("refresh token = %q, want keep-me", got.RefreshToken)
	}
}
