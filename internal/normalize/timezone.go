package normalize

import "time"

// zoneOffsetHours maps common IANA zone identifiers to fixed UTC offsets.
// Offsets are standard-time values embedded directly into emitted instants;
// daylight-saving rules are deliberately not applied.
var zoneOffsetHours = map[string]float64{
	"America/New_York":    -5,
	"America/Toronto":     -5,
	"America/Chicago":     -6,
	"America/Denver":      -7,
	"America/Phoenix":     -7,
	"America/Los_Angeles": -8,
	"America/Vancouver":   -8,
	"America/Anchorage":   -9,
	"Pacific/Honolulu":    -10,
	"UTC":                 0,
	"Europe/London":       0,
	"Europe/Paris":        1,
	"Europe/Berlin":       1,
	"Europe/Madrid":       1,
	"Europe/Rome":         1,
	"Europe/Athens":       2,
	"Europe/Moscow":       3,
	"Asia/Dubai":          4,
	"Asia/Kolkata":        5.5,
	"Asia/Shanghai":       8,
	"Asia/Singapore":      8,
	"Asia/Tokyo":          9,
	"Asia/Seoul":          9,
	"Australia/Sydney":    10,
}

// defaultZone is used when the requested zone is not in the table.
const defaultZone = "America/New_York"

// location resolves an IANA zone identifier to a fixed-offset location.
// Unrecognised zones fall back to US Eastern.
func location(tz string) (string, *time.Location) {
	offset, ok := zoneOffsetHours[tz]
	if !ok {
		tz = defaultZone
		offset = zoneOffsetHours[defaultZone]
	}
	return tz, time.FixedZone(tz, int(offset*3600))
}
