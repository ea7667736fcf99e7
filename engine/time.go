/*
Package engine provides the shared primitives for the visit engine.

PURPOSE:
  This package contains the domain-agnostic building blocks used by every
  other package: calendar dates, wall-clock times, half-open intervals,
  actor identity, the error taxonomy, and the advisory/blocking issue model.

KEY CONCEPTS IN THIS FILE (time.go):
  - Date:      A calendar day (no time-of-day component), normalized to UTC
  - ClockTime: A wall-clock time of day, stored as minutes since midnight
  - Interval:  A half-open [start, end) window of clock time on one day

WHY MINUTES SINCE MIDNIGHT?
  Every scheduling rule in this system operates on 15-minute boundaries
  within a single day. Storing clock times as integer minutes makes the
  overlap and slot arithmetic exact - no time zone or DST surprises in
  the middle of a shift comparison. Conversion to a real time.Time only
  happens at the edges (persistence, actual started_at timestamps).

SEE ALSO:
  - actor.go:  ActorContext and role predicates
  - errors.go: Error taxonomy
  - issue.go:  Advisory/blocking issue model
*/
package engine

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar day, normalized to midnight UTC
// =============================================================================

type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its calendar day (in the timestamp's location).
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD date string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DateOf(t), nil
}

func Today() Date {
	return DateOf(time.Now())
}

func (d Date) Equal(other Date) bool  { return d.t.Equal(other.t) }
func (d Date) Before(other Date) bool { return d.t.Before(other.t) }
func (d Date) After(other Date) bool  { return d.t.After(other.t) }
func (d Date) IsZero() bool           { return d.t.IsZero() }

func (d Date) Year() int             { return d.t.Year() }
func (d Date) Month() time.Month     { return d.t.Month() }
func (d Date) Day() int              { return d.t.Day() }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }

func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// MonthKey returns the quota-month identifier for this date, e.g. "2026-03".
// Unit balances are kept per (client, speciality, month) by the quota system.
func (d Date) MonthKey() string { return d.t.Format("2006-01") }

// At combines the date with a clock time into a concrete UTC timestamp.
func (d Date) At(c ClockTime) time.Time {
	return d.t.Add(time.Duration(c) * time.Minute)
}

// Time exposes the underlying midnight-UTC timestamp for drivers that
// bind DATE columns from time.Time values.
func (d Date) Time() time.Time { return d.t }

func (d Date) String() string { return d.t.Format("2006-01-02") }

// =============================================================================
// CLOCK TIME - Minutes since midnight
// =============================================================================

type ClockTime int

// Clock builds a ClockTime from hour and minute components.
func Clock(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

// ParseClock parses an HH:MM clock string (24-hour).
func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q (use HH:MM): %w", s, err)
	}
	return Clock(t.Hour(), t.Minute()), nil
}

// ClockOf extracts the wall-clock component of a timestamp.
func ClockOf(t time.Time) ClockTime {
	return Clock(t.Hour(), t.Minute())
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) Add(minutes int) ClockTime { return c + ClockTime(minutes) }
func (c ClockTime) Sub(other ClockTime) int   { return int(c - other) }

func (c ClockTime) Before(other ClockTime) bool { return c < other }
func (c ClockTime) After(other ClockTime) bool  { return c > other }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// =============================================================================
// INTERVAL - Half-open [Start, End) clock window on a single day
// =============================================================================

type Interval struct {
	Start ClockTime
	End   ClockTime
}

func NewInterval(start ClockTime, durationMinutes int) Interval {
	return Interval{Start: start, End: start.Add(durationMinutes)}
}

// Overlaps reports whether two half-open intervals intersect.
// Touching endpoints do not overlap: [09:00,10:00) and [10:00,11:00)
// are adjacent, not conflicting.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start < other.End && other.Start < iv.End
}

func (iv Interval) Duration() int { return int(iv.End - iv.Start) }

func (iv Interval) String() string {
	return fmt.Sprintf("%s-%s", iv.Start, iv.End)
}
