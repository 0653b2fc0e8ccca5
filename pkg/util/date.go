package util

import (
	"strconv"
	"time"
)

// TableTimeLayout is the timestamp format live tables report in result frames.
const TableTimeLayout = "Jan 2, 2006 03:04:05 PM"

var layouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	TableTimeLayout,
	"Jan 2, 2006 3:04:05 PM",
	"2006-01-02 15:04:05",
}

// ParseTime tries RFC3339, the table layouts, and unix seconds or
// milliseconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		if ts > 1e12 {
			return time.UnixMilli(ts), true
		}
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// UnixMillis is the ping timestamp format.
func UnixMillis(t time.Time) int64 { return t.UnixNano() / int64(time.Millisecond) }
