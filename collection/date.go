package collection

import (
	"strings"
	"time"
)

// =============================================================================
// DATES - effective dates are calendar days in UTC
// =============================================================================

// DateLayout is the wire and storage format of effective dates.
const DateLayout = "2006-01-02"

// timestampLayouts are accepted for full timestamps, which are truncated to the day.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// DateOf truncates t to midnight UTC of its calendar day.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the current UTC date.
func Today() time.Time {
	return DateOf(time.Now().UTC())
}

// ParseDate accepts YYYY-MM-DD or a full timestamp and returns the day.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), true
		}
	}
	return time.Time{}, false
}

// FormatDate renders a date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
