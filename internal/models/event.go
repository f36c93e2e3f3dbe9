// Package models defines the domain types for Dagaz.
package models

import "time"

// RawExtraction holds the unvalidated fields a vision model guessed from an
// image. Every field may be empty; RawResponse keeps the model's verbatim
// reply for diagnostics.
type RawExtraction struct {
	Title       string `json:"title,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	StartTime   string `json:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	RawResponse string `json:"-"`
}

// CanonicalEvent is the validated event contract produced by normalization.
// Start and End are absolute instants carrying a fixed zone offset; for
// all-day events they span 00:00:00 to 23:59:59 local time.
type CanonicalEvent struct {
	Title       string    `json:"title"`
	Start       time.Time `json:"start_date_time"`
	End         time.Time `json:"end_date_time"`
	IsAllDay    bool      `json:"is_all_day"`
	Timezone    string    `json:"timezone"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
}

// ConflictRecord is a read-only projection of a stored event that overlaps a
// candidate time window. Never persisted on its own.
type ConflictRecord struct {
	Title           string    `json:"title"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	CalendarEventID string    `json:"calendar_event_id"`
}

// EventRecord is the durable row written once at successful pipeline
// completion.
type EventRecord struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Title           string    `json:"title"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	IsAllDay        bool      `json:"is_all_day"`
	Timezone        string    `json:"timezone"`
	Location        string    `json:"location,omitempty"`
	Description     string    `json:"description,omitempty"`
	CalendarEventID string    `json:"calendar_event_id"`
	CalendarLink    string    `json:"calendar_link"`
	ImageKey        string    `json:"image_key,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Credential is a per-user calendar access credential. It is created by the
// OAuth flow outside the pipeline and rewritten in place on refresh.
type Credential struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// Expired reports whether the access token's expiry has passed at now.
func (c *Credential) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && !now.Before(c.Expiry)
}
