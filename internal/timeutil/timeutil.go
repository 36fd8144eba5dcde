// Package timeutil handles the time handling conventions of the exacqVision
// protocol: the server speaks UTC (ISO-8601), operators speak local wall
// clock and loose date phrases like "3/11" and "6 pm".
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// ISO8601 formats t in the ISO-8601 form the exacqVision API expects.
func ISO8601(t time.Time) string {
	return t.Format(time.RFC3339)
}

// ToUTC reinterprets the wall-clock fields of t in loc and converts to UTC.
func ToUTC(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc).UTC()
}

// ToLocal converts a UTC instant to the given local timezone.
func ToLocal(t time.Time, loc *time.Location) time.Time {
	return t.In(loc)
}

// ParseServerTime parses a clip timestamp as returned by the search call
// ("2006-01-02T15:04:05Z") and converts it to loc.
func ParseServerTime(s string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse("2006-01-02T15:04:05Z", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse server time %q: %w", s, err)
	}
	return t.In(loc), nil
}

// ParseDate parses a loose "M/D" or "M/D/YYYY" date phrase. Dates without a
// year are placed in the year of now; a month/day that would land in the
// future rolls back to the previous year, since footage is always in the past.
func ParseDate(s string, now time.Time, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)

	if t, err := time.ParseInLocation("1/2/2006", s, loc); err == nil {
		return t, nil
	}

	t, err := time.ParseInLocation("1/2", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q (want M/D or M/D/YYYY)", s)
	}

	d := time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	if d.After(now) {
		d = time.Date(now.Year()-1, t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}
	return d, nil
}

var clockLayouts = []string{
	"3:04 PM",
	"3:04PM",
	"3 PM",
	"3PM",
	"15:04",
	"15",
}

// ParseClock parses a loose time-of-day phrase: "6 pm", "6:30 PM", "18:30".
func ParseClock(s string) (hour, minute int, err error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	for _, layout := range clockLayouts {
		if t, perr := time.Parse(layout, norm); perr == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	return 0, 0, fmt.Errorf("unrecognized time of day %q", s)
}

// ResolveWindow combines a date with start/stop time phrases into concrete
// local instants. A stop at or before the start is taken to mean the window
// crosses midnight and ends on the following day.
func ResolveWindow(date time.Time, startPhrase, stopPhrase string, loc *time.Location) (start, stop time.Time, err error) {
	sh, sm, err := ParseClock(startPhrase)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	eh, em, err := ParseClock(stopPhrase)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	start = time.Date(date.Year(), date.Month(), date.Day(), sh, sm, 0, 0, loc)
	stop = time.Date(date.Year(), date.Month(), date.Day(), eh, em, 0, 0, loc)
	if !stop.After(start) {
		stop = stop.AddDate(0, 0, 1)
	}
	return start, stop, nil
}
