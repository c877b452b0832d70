package calendar

import (
	"errors"
	"testing"
	"time"
)

func weekdays9to18(breaks ...Window) WeekSchedule {
	var ws WeekSchedule
	for wd := time.Monday; wd <= time.Friday; wd++ {
		ws.Days[int(wd)] = DaySchedule{
			Open:        true,
			OpenMinute:  9 * 60,
			CloseMinute: 18 * 60,
			Breaks:      breaks,
		}
	}
	return ws
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*WeekSchedule)
		wantErr bool
	}{
		{"ok", func(*WeekSchedule) {}, false},
		{"close before open", func(ws *WeekSchedule) {
			ws.Days[1].OpenMinute = 18 * 60
			ws.Days[1].CloseMinute = 9 * 60
		}, true},
		{"empty break", func(ws *WeekSchedule) {
			ws.Days[1].Breaks = []Window{{StartMinute: 13 * 60, EndMinute: 13 * 60}}
		}, true},
		{"break before opening", func(ws *WeekSchedule) {
			ws.Days[1].Breaks = []Window{{StartMinute: 8 * 60, EndMinute: 10 * 60}}
		}, true},
		{"break past closing", func(ws *WeekSchedule) {
			ws.Days[1].Breaks = []Window{{StartMinute: 17 * 60, EndMinute: 19 * 60}}
		}, true},
		{"overlapping breaks", func(ws *WeekSchedule) {
			ws.Days[1].Breaks = []Window{
				{StartMinute: 12 * 60, EndMinute: 13 * 60},
				{StartMinute: 12*60 + 30, EndMinute: 14 * 60},
			}
		}, true},
		{"closed day ignored", func(ws *WeekSchedule) {
			ws.Days[0] = DaySchedule{Open: false, OpenMinute: 99999, CloseMinute: -1}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := weekdays9to18()
			tt.mutate(&ws)
			err := ws.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidSchedule) {
				t.Fatalf("Validate() = %v, want ErrInvalidSchedule", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate() unexpectedly failed: %v", err)
			}
		})
	}
}

func TestSpanOpen(t *testing.T) {
	day := DaySchedule{
		Open:        true,
		OpenMinute:  9 * 60,
		CloseMinute: 18 * 60,
		Breaks:      []Window{{StartMinute: 13 * 60, EndMinute: 14 * 60}},
	}

	tests := []struct {
		start int
		dur   int
		want  bool
	}{
		{9 * 60, 30, true},
		{8*60 + 45, 30, false},         // starts before opening
		{17*60 + 30, 30, true},         // ends exactly at close
		{17*60 + 45, 30, false},        // spills past close
		{12*60 + 30, 30, true},         // ends exactly at break start
		{13 * 60, 30, false},           // inside break
		{13*60 + 30, 30, false},        // inside break
		{14 * 60, 30, true},            // starts exactly at break end
		{12*60 + 45, 30, false},        // straddles break start
	}
	for _, tt := range tests {
		if got := day.SpanOpen(tt.start, tt.dur); got != tt.want {
			t.Errorf("SpanOpen(%d, %d) = %v, want %v", tt.start, tt.dur, got, tt.want)
		}
	}

	closed := DaySchedule{Open: false}
	if closed.SpanOpen(10*60, 30) {
		t.Error("SpanOpen on closed day = true, want false")
	}
}

func TestBlockedPeriodOverlaps(t *testing.T) {
	day := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	b := BlockedPeriod{
		Start: day.Add(10 * time.Hour),
		End:   day.Add(12 * time.Hour),
	}

	if !b.Overlaps(day.Add(11*time.Hour), day.Add(11*time.Hour+30*time.Minute)) {
		t.Error("interval inside blocked period should overlap")
	}
	// Half-open: touching at the boundary is not an overlap.
	if b.Overlaps(day.Add(12*time.Hour), day.Add(13*time.Hour)) {
		t.Error("interval starting at blocked end should not overlap")
	}
	if b.Overlaps(day.Add(9*time.Hour), day.Add(10*time.Hour)) {
		t.Error("interval ending at blocked start should not overlap")
	}
}

func TestBlockedPeriodRecurring(t *testing.T) {
	// Annual holiday recorded in 2024 must block the same dates in 2026.
	b := BlockedPeriod{
		Start:     time.Date(2024, 12, 24, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		Recurring: true,
	}
	if !b.Overlaps(
		time.Date(2026, 12, 28, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 12, 28, 11, 0, 0, 0, time.UTC),
	) {
		t.Error("recurring period should block later years")
	}
	// The New Year tail projected from the previous year's occurrence.
	if !b.Overlaps(
		time.Date(2027, 1, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2027, 1, 1, 11, 0, 0, 0, time.UTC),
	) {
		t.Error("recurring period spanning New Year should block the tail")
	}
	if b.Overlaps(
		time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC),
	) {
		t.Error("recurring period should not block unrelated dates")
	}
}

func TestBlockedPeriodValidate(t *testing.T) {
	b := BlockedPeriod{Start: time.Now(), End: time.Now().Add(-time.Hour)}
	if !errors.Is(b.Validate(), ErrInvalidSchedule) {
		t.Error("inverted blocked period should be invalid")
	}
}

func TestIsOpenAt(t *testing.T) {
	ws := weekdays9to18(Window{StartMinute: 13 * 60, EndMinute: 14 * 60})
	monday := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) // a Monday
	sunday := time.Date(2026, 6, 7, 0, 0, 0, 0, time.UTC)

	blocked := []BlockedPeriod{{
		Start: monday.Add(15 * time.Hour),
		End:   monday.Add(16 * time.Hour),
	}}

	if !IsOpenAt(ws, blocked, monday, 10*60) {
		t.Error("10:00 Monday should be open")
	}
	if IsOpenAt(ws, blocked, monday, 13*60+15) {
		t.Error("13:15 Monday is inside the break")
	}
	if IsOpenAt(ws, blocked, monday, 15*60+30) {
		t.Error("15:30 Monday is inside a blocked period")
	}
	if IsOpenAt(ws, blocked, sunday, 10*60) {
		t.Error("Sunday should be closed")
	}
	if IsOpenAt(ws, blocked, monday, 18*60) {
		t.Error("closing instant is excluded (half-open)")
	}
}
