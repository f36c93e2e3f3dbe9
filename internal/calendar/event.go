package calendar

import (
	"time"

	"github.com/starford/dagaz/internal/models"
)

// GoogleEvent is the wire shape of the Calendar API's event resource, limited
// to the fields this service writes.
type GoogleEvent struct {
	Summary     string     `json:"summary"`
	Location    string     `json:"location,omitempty"`
	Description string     `json:"description,omitempty"`
	Start       GoogleTime `json:"start"`
	End         GoogleTime `json:"end"`
}

// GoogleTime carries either a date-only value (all-day events) or an RFC3339
// instant with its zone identifier (timed events), never both.
type GoogleTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// ToGoogleEvent maps a canonical event to the Calendar API shape. All-day
// events use date-only fields; the API treats the end date as exclusive, so
// it is the day after the last local day of the event. Timed events use
// RFC3339 instants plus the zone identifier.
func ToGoogleEvent(event *models.CanonicalEvent) *GoogleEvent {
	out := &GoogleEvent{
		Summary:     event.Title,
		Location:    event.Location,
		Description: event.Description,
	}
	if event.IsAllDay {
		out.Start = GoogleTime{Date: event.Start.Format("2006-01-02")}
		out.End = GoogleTime{Date: event.End.AddDate(0, 0, 1).Format("2006-01-02")}
		return out
	}
	out.Start = GoogleTime{DateTime: event.Start.Format(time.RFC3339), TimeZone: event.Timezone}
	out.End = GoogleTime{DateTime: event.End.Format(time.RFC3339), TimeZone: event.Timezone}
	return out
}
