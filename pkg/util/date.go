package util

import (
	"fmt"
	"strconv"
	"time"
)

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0).UTC(), true
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

// TradingDay is UTC midnight of the day containing t.
func TradingDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeekStart is Monday 00:00 UTC of the week containing t.
func WeekStart(t time.Time) time.Time {
	day := TradingDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// ClockOn places an "HH:MM" wall-clock time on the calendar date of day as
// seen in loc.
func ClockOn(day time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	clock, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse clock %q: %w", hhmm, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

// MustClockOn is ClockOn for values already validated at config load.
func MustClockOn(day time.Time, hhmm string, loc *time.Location) time.Time {
	t, err := ClockOn(day, hhmm, loc)
	if err != nil {
		panic(err)
	}
	return t
}

// Within reports whether t lies within ±buffer of ref.
func Within(t, ref time.Time, buffer time.Duration) bool {
	d := t.Sub(ref)
	if d < 0 {
		d = -d
	}
	return d <= buffer
}
