package models

import (
	"regexp"
	"time"
)

// The upstream backend is loose about timestamps: history rows carry full
// ISO instants while the browser clients emit bare wall-clock strings like
// "14:32:05". Everything is normalized to an absolute instant before
// ordering.

var timeOfDayRe = regexp.MustCompile(`^\d{1,2}:\d{2}:\d{2}`)

var absoluteLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var clockLayouts = []string{
	"15:04:05",
	"3:04:05 PM",
}

var genericLayouts = []string{
	time.RFC1123,
	time.RFC822,
	time.ANSIC,
	"01/02/2006, 15:04:05",
}

// NormalizeTimestamp resolves a raw timestamp string to an instant:
//
//  1. strings with a date marker parse as absolute date-times;
//  2. bare HH:MM:SS strings mean "today at that time" in loc;
//  3. anything else gets a generic parse attempt;
//  4. unparseable input falls back to now.
//
// The fallback keeps ordering stable within a session at the cost of
// collapsing malformed values onto the current instant.
func NormalizeTimestamp(raw string, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	if raw == "" {
		return now
	}

	if containsDateMarker(raw) {
		for _, layout := range absoluteLayouts {
			if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
				return t
			}
		}
	} else if timeOfDayRe.MatchString(raw) {
		for _, layout := range clockLayouts {
			if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
				y, m, d := now.In(loc).Date()
				return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, loc)
			}
		}
		return now
	}

	for _, layout := range genericLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t
		}
	}
	return now
}

func containsDateMarker(raw string) bool {
	for i := 0; i < len(raw); i++ {
		if raw[i] == '-' || raw[i] == 'T' {
			return true
		}
	}
	return false
}
