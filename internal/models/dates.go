package models

import (
	"strings"
	"time"
)

// CanonicalDateLayout is the single date layout used in every normalised record
const CanonicalDateLayout = "2006-01-02"

// dateLayouts are the portal date renderings seen in the wild, most common first
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"1-2-2006",
	"01/02/06",
	"1/2/06",
	"20060102",
	"Jan 2, 2006",
	"January 2, 2006",
	"02-Jan-2006",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
}

// shortYearLayouts leave the century to Go's 1969 pivot
var shortYearLayouts = map[string]bool{"01/02/06": true, "1/2/06": true}

// ParseDate parses a portal date in any known layout
func ParseDate(raw string) (time.Time, bool) {
	t, _, ok := parseDate(raw)
	return t, ok
}

// ParseFullYearDate parses like ParseDate but refuses two-digit years
func ParseFullYearDate(raw string) (time.Time, bool) {
	t, short, ok := parseDate(raw)
	if !ok || short {
		return time.Time{}, false
	}
	return t, true
}

func parseDate(raw string) (time.Time, bool, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, shortYearLayouts[layout], true
		}
	}
	return time.Time{}, false, false
}

// NormalizeDate renders a portal date canonically; unparsable input is returned trimmed
func NormalizeDate(raw string) string {
	if t, ok := ParseDate(raw); ok {
		return t.Format(CanonicalDateLayout)
	}
	return strings.TrimSpace(raw)
}
