// Package calendar holds the value types describing when a professional is
// open for bookings: the weekly operating schedule with break windows, and
// explicit blocked periods (vacation, maintenance). All interval checks use
// half-open [start, end) semantics so back-to-back slots never collide.
package calendar

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

const minutesPerDay = 24 * 60

// Window is a clock interval within a single day, in minutes from midnight.
type Window struct {
	StartMinute int
	EndMinute   int
}

// DaySchedule describes one weekday of an operating schedule. Breaks are
// carved out of [OpenMinute, CloseMinute).
type DaySchedule struct {
	Open        bool
	OpenMinute  int
	CloseMinute int
	Breaks      []Window
}

// WeekSchedule is a professional's operating schedule, indexed by
// time.Weekday (Sunday = 0).
type WeekSchedule struct {
	Days [7]DaySchedule
}

func (ws WeekSchedule) Day(wd time.Weekday) DaySchedule {
	return ws.Days[int(wd)]
}

// Validate rejects malformed schedules at construction time so the
// availability path never has to re-check invariants per query.
func (ws WeekSchedule) Validate() error {
	for wd, day := range ws.Days {
		if !day.Open {
			continue
		}
		if day.OpenMinute < 0 || day.CloseMinute > minutesPerDay || day.OpenMinute >= day.CloseMinute {
			return fmt.Errorf("%w: weekday %d opens %d closes %d", ErrInvalidSchedule, wd, day.OpenMinute, day.CloseMinute)
		}
		for i, br := range day.Breaks {
			if br.StartMinute >= br.EndMinute {
				return fmt.Errorf("%w: weekday %d break %d is empty", ErrInvalidSchedule, wd, i)
			}
			if br.StartMinute < day.OpenMinute || br.EndMinute > day.CloseMinute {
				return fmt.Errorf("%w: weekday %d break %d outside opening hours", ErrInvalidSchedule, wd, i)
			}
			for j := 0; j < i; j++ {
				prev := day.Breaks[j]
				if br.StartMinute < prev.EndMinute && prev.StartMinute < br.EndMinute {
					return fmt.Errorf("%w: weekday %d breaks %d and %d overlap", ErrInvalidSchedule, wd, j, i)
				}
			}
		}
	}
	return nil
}

// SpanOpen reports whether the full [startMinute, startMinute+duration) span
// lies inside opening hours without touching a break window. A span that
// would spill past closing is not open.
func (d DaySchedule) SpanOpen(startMinute, durationMinutes int) bool {
	if !d.Open || durationMinutes <= 0 {
		return false
	}
	end := startMinute + durationMinutes
	if startMinute < d.OpenMinute || end > d.CloseMinute {
		return false
	}
	for _, br := range d.Breaks {
		if startMinute < br.EndMinute && br.StartMinute < end {
			return false
		}
	}
	return true
}

// BlockedPeriod is an explicit unavailability interval attached to a
// professional, regardless of nominal opening hours. Recurring periods
// repeat every year on the same calendar dates.
type BlockedPeriod struct {
	ID        string
	Start     time.Time
	End       time.Time
	Reason    string
	Recurring bool
}

func (b BlockedPeriod) Validate() error {
	if !b.End.After(b.Start) {
		return fmt.Errorf("%w: blocked period start %s not before end %s", ErrInvalidSchedule, b.Start, b.End)
	}
	return nil
}

// Overlaps reports whether the blocked period intersects [start, end).
// Recurring periods are projected onto the candidate's year (and its
// neighbors, for periods spanning New Year).
func (b BlockedPeriod) Overlaps(start, end time.Time) bool {
	if !b.Recurring {
		return overlaps(b.Start, b.End, start, end)
	}
	for year := start.Year() - 1; year <= end.Year()+1; year++ {
		shift := year - b.Start.Year()
		ps := b.Start.AddDate(shift, 0, 0)
		pe := b.End.AddDate(shift, 0, 0)
		if overlaps(ps, pe, start, end) {
			return true
		}
	}
	return false
}

// AnyBlocked reports whether any period in the set intersects [start, end).
func AnyBlocked(periods []BlockedPeriod, start, end time.Time) bool {
	for _, b := range periods {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// IsOpenAt reports whether the instant at minuteOfDay on date falls inside
// opening hours for that weekday and outside every blocked period.
func IsOpenAt(ws WeekSchedule, blocked []BlockedPeriod, date time.Time, minuteOfDay int) bool {
	day := ws.Day(date.Weekday())
	if !day.SpanOpen(minuteOfDay, 1) {
		return false
	}
	at := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location()).Add(time.Duration(minuteOfDay) * time.Minute)
	return !AnyBlocked(blocked, at, at.Add(time.Minute))
}

func overlaps(a1, a2, b1, b2 time.Time) bool {
	return a1.Before(b2) && b1.Before(a2)
}
