package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dateParts is a calendar date with no time or zone attached.
type dateParts struct {
	year  int
	month time.Month
	day   int
}

// clockParts is a wall-clock time of day.
type clockParts struct {
	hour   int
	minute int
}

var (
	isoDateRe   = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	slashDateRe = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2}|\d{4})$`)
	longDateRe  = regexp.MustCompile(`^([A-Za-z]+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?$`)

	time24Re = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	time12Re = regexp.MustCompile(`(?i)^(\d{1,2})(?::(\d{2}))?\s*(am|pm)\.?$`)
)

var monthsByName = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "jun": time.June, "jul": time.July,
	"aug": time.August, "sep": time.September, "sept": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// fallbackLayouts are tried last, for date text none of the primary patterns
// recognise.
var fallbackLayouts = []string{
	"2006/01/02",
	"02.01.2006",
	"2 January 2006",
	"2 Jan 2006",
	"Monday, January 2, 2006",
	"Mon, Jan 2, 2006",
}

// parseDate turns heterogeneous date text into calendar date parts. Patterns
// are tried in priority order: ISO, slash, long-form month name, then generic
// fallback layouts; the first match wins. Two-digit slash years are assumed
// to be 2000s; a long-form date with no year gets the year of now.
// Unparseable input returns nil.
func parseDate(s string, now time.Time) *dateParts {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		return checkedDate(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}

	if m := slashDateRe.FindStringSubmatch(s); m != nil {
		year := atoi(m[3])
		if year < 100 {
			year += 2000
		}
		return checkedDate(year, atoi(m[1]), atoi(m[2]))
	}

	if m := longDateRe.FindStringSubmatch(s); m != nil {
		month, ok := monthsByName[strings.ToLower(m[1])]
		if ok {
			year := now.Year()
			if m[3] != "" {
				year = atoi(m[3])
			}
			if d := checkedDate(year, int(month), atoi(m[2])); d != nil {
				return d
			}
		}
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &dateParts{year: t.Year(), month: t.Month(), day: t.Day()}
		}
	}

	return nil
}

// parseTime turns time text into wall-clock parts. Accepted shapes are
// 24-hour "H:MM" and 12-hour "H[:MM] am|pm". At the noon/midnight boundary,
// 12pm stays hour 12 and 12am becomes hour 0. Unparseable input returns nil.
func parseTime(s string) *clockParts {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if m := time12Re.FindStringSubmatch(s); m != nil {
		hour := atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute = atoi(m[2])
		}
		if hour < 1 || hour > 12 || minute > 59 {
			return nil
		}
		meridiem := strings.ToLower(m[3])
		if meridiem == "pm" && hour != 12 {
			hour += 12
		}
		if meridiem == "am" && hour == 12 {
			hour = 0
		}
		return &clockParts{hour: hour, minute: minute}
	}

	if m := time24Re.FindStringSubmatch(s); m != nil {
		hour, minute := atoi(m[1]), atoi(m[2])
		if hour > 23 || minute > 59 {
			return nil
		}
		return &clockParts{hour: hour, minute: minute}
	}

	return nil
}

// checkedDate validates month/day ranges by round-tripping through time.Date,
// which normalizes out-of-range values (e.g. Feb 30).
func checkedDate(year, month, day int) *dateParts {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return nil
	}
	return &dateParts{year: year, month: time.Month(month), day: day}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
