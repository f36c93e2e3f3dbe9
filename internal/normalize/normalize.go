// Package normalize turns raw vision-extracted fields into a canonical,
// schema-valid event. It is pure: no I/O, all inputs explicit.
package normalize

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/dagaz/internal/apperr"
	"github.com/starford/dagaz/internal/models"
)

const (
	// defaultTitle is used when no title could be extracted.
	defaultTitle = "Untitled Event"

	// provenanceFooter is appended to every event description.
	provenanceFooter = "Added from a photo by Dagaz."
)

// Normalize converts a raw extraction plus a target timezone into a canonical
// event. now supplies the processing instant used for the "today" and
// "current year" defaults. The result either satisfies all canonical-event
// invariants or the call fails with *apperr.ValidationError carrying
// field-level messages; invalid input is never silently coerced.
func Normalize(raw *models.RawExtraction, timezone string, now time.Time) (*models.CanonicalEvent, error) {
	zone, loc := location(timezone)
	today := now.In(loc)

	startDate := parseDate(raw.StartDate, today)
	if startDate == nil {
		startDate = &dateParts{year: today.Year(), month: today.Month(), day: today.Day()}
	}
	endDate := parseDate(raw.EndDate, today)
	if endDate == nil {
		endDate = startDate
	}

	startTime := parseTime(raw.StartTime)
	endTime := parseTime(raw.EndTime)

	// An event is all-day exactly when no start time was extracted.
	isAllDay := startTime == nil

	var start, end time.Time
	if isAllDay {
		start = time.Date(startDate.year, startDate.month, startDate.day, 0, 0, 0, 0, loc)
		end = time.Date(endDate.year, endDate.month, endDate.day, 23, 59, 59, 0, loc)
	} else {
		start = time.Date(startDate.year, startDate.month, startDate.day,
			startTime.hour, startTime.minute, 0, 0, loc)
		if endTime != nil {
			end = time.Date(endDate.year, endDate.month, endDate.day,
				endTime.hour, endTime.minute, 0, 0, loc)
		} else {
			// Missing end time defaults to start + 1h on the end date; the
			// addition rolls past midnight onto the next calendar date.
			end = time.Date(endDate.year, endDate.month, endDate.day,
				startTime.hour, startTime.minute, 0, 0, loc).Add(time.Hour)
		}
	}

	title := strings.TrimSpace(raw.Title)
	if title == "" {
		title = defaultTitle
	}

	event := &models.CanonicalEvent{
		Title:       title,
		Start:       start,
		End:         end,
		IsAllDay:    isAllDay,
		Timezone:    zone,
		Location:    strings.TrimSpace(raw.Location),
		Description: buildDescription(raw.Description),
	}
	if err := validate(event); err != nil {
		return nil, err
	}
	return event, nil
}

// buildDescription concatenates the extracted description with the fixed
// provenance footer.
func buildDescription(extracted string) string {
	extracted = strings.TrimSpace(extracted)
	if extracted == "" {
		return provenanceFooter
	}
	return extracted + "\n\n" + provenanceFooter
}

// validate checks the canonical-event invariants and converts any violation
// into a field-keyed ValidationError.
func validate(e *models.CanonicalEvent) error {
	err := validation.ValidateStruct(e,
		validation.Field(&e.Title, validation.Required.Error("must not be empty")),
		validation.Field(&e.Timezone, validation.Required.Error("must not be empty")),
		validation.Field(&e.End, validation.By(func(any) error {
			if e.End.Before(e.Start) {
				return validation.NewError("validation_end_before_start", "must not precede the start")
			}
			return nil
		})),
	)
	if err == nil {
		return nil
	}
	fields := map[string]string{}
	if verrs, ok := err.(validation.Errors); ok {
		for field, ferr := range verrs {
			fields[field] = ferr.Error()
		}
	} else {
		fields["event"] = err.Error()
	}
	return &apperr.ValidationError{Fields: fields}
}
