package domain

import (
	"fmt"
	"time"
)

// LocalDateTimeLayout is the zone-less datetime format used by NOMIS payloads
// and the housekeeping query parameters. Fractional seconds are optional.
const LocalDateTimeLayout = "2006-01-02T15:04:05.999999999"

// ParseLocalTime parses s as a zone-less datetime in loc, falling back to
// RFC 3339 when s carries its own offset.
func ParseLocalTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(LocalDateTimeLayout, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse datetime %q: %w", s, err)
	}
	return t, nil
}

// ParseOptionalLocalTime is ParseLocalTime for nullable fields: "" yields nil.
func ParseOptionalLocalTime(s string, loc *time.Location) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := ParseLocalTime(s, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
