package db

import (
	"fmt"
	"time"
)

// TimeLayout is how timestamps are stored: UTC text with microseconds, which
// sorts lexically in the same order as chronologically on both engines.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime encodes t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime decodes a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

// ParseNullTime decodes a nullable stored timestamp.
func ParseNullTime(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := ParseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
