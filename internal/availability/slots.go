// Package availability derives bookable slots from the calendar model and
// the committed appointments. It is a pure computation: calling it twice
// with the same inputs yields the same output, and nothing here is ever
// persisted. Reservation commits re-validate against fresh state; a slot
// list is always advisory.
package availability

import (
	"time"

	"github.com/bookline/bookline/internal/calendar"
)

// Day-level reasons for an empty slot list.
const (
	ReasonPast       = "past"
	ReasonClosed     = "closed"
	ReasonOutOfRange = "out_of_range"
)

// Interval is one committed appointment's occupied range. ID identifies the
// owning appointment so a reschedule can ignore its own interval.
type Interval struct {
	ID    string
	Start time.Time
	End   time.Time
}

// Slot is a candidate bookable unit. Occupied marks candidates that collide
// with a non-terminal appointment; they are shown but not bookable.
type Slot struct {
	Start    time.Time
	Duration time.Duration
	Price    string
	Occupied bool
}

// Day is one date's worth of availability. Reason is set only when the slot
// list is empty for a structural cause (past date, closed day, outside the
// booking horizon).
type Day struct {
	Date   time.Time
	Reason string
	Slots  []Slot
}

// Free returns the bookable subset of the day's slots.
func (d Day) Free() []Slot {
	var free []Slot
	for _, s := range d.Slots {
		if !s.Occupied {
			free = append(free, s)
		}
	}
	return free
}

// Inputs bundles the read-only snapshot a computation runs against: the
// directory-sourced calendar, the professional's booked intervals, and the
// business booking rules.
type Inputs struct {
	Schedule    calendar.WeekSchedule
	Blocked     []calendar.BlockedPeriod
	Booked      []Interval
	Granularity time.Duration
	Horizon     time.Duration
	MinNotice   time.Duration
	Price       string
	Location    *time.Location
}

// DaySlots computes one date's availability. The date is interpreted at
// midnight in in.Location; now decides which slot starts are already past.
func DaySlots(in Inputs, date time.Time, duration time.Duration, now time.Time) Day {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	day := Day{Date: midnight}

	if duration <= 0 || in.Granularity <= 0 {
		day.Reason = ReasonClosed
		return day
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if midnight.Before(today) {
		day.Reason = ReasonPast
		return day
	}
	if in.Horizon > 0 && midnight.After(now.Add(in.Horizon)) {
		day.Reason = ReasonOutOfRange
		return day
	}

	sched := in.Schedule.Day(midnight.Weekday())
	if !sched.Open {
		day.Reason = ReasonClosed
		return day
	}

	durMinutes := int(duration / time.Minute)
	stepMinutes := int(in.Granularity / time.Minute)
	earliest := now.Add(in.MinNotice)
	elapsed := false

	for m := sched.OpenMinute; m+durMinutes <= minutesPerDay; m += stepMinutes {
		if !sched.SpanOpen(m, durMinutes) {
			continue
		}
		start := midnight.Add(time.Duration(m) * time.Minute)
		end := start.Add(duration)
		if start.Before(earliest) {
			elapsed = true
			continue
		}
		if calendar.AnyBlocked(in.Blocked, start, end) {
			continue
		}
		day.Slots = append(day.Slots, Slot{
			Start:    start,
			Duration: duration,
			Price:    in.Price,
			Occupied: overlapsAny(start, end, in.Booked),
		})
	}

	if len(day.Slots) == 0 {
		// A day emptied purely by the notice cutoff is gone, not closed.
		if elapsed {
			day.Reason = ReasonPast
		} else {
			day.Reason = ReasonClosed
		}
	}
	return day
}

// Range computes availability for each date in [from, to], inclusive,
// ordered by date.
func Range(in Inputs, from, to time.Time, duration time.Duration, now time.Time) []Day {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc)

	var days []Day
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, DaySlots(in, d, duration, now))
	}
	return days
}

// SpanFree reports whether [start, end) collides with any booked interval.
// Used for re-validation inside the reservation critical section.
func SpanFree(booked []Interval, start, end time.Time) bool {
	return !overlapsAny(start, end, booked)
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

const minutesPerDay = 24 * 60
