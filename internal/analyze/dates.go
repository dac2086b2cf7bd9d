package analyze

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// isoLayouts are the ISO-8601 shapes accepted as dates, most specific first.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02T15",
	"2006-01-02",
	"20060102",
}

// ParseDate parses an ISO-8601 date or datetime. A trailing Z means UTC and
// a missing offset is read as UTC. The returned time keeps the written
// offset, so its calendar date is the one in the text.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDate renders the calendar date of t in its own offset.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// FormatG renders f with six significant digits, dropping trailing zeros.
func FormatG(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', 6, 64)
}
