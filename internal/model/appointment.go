package model

import (
	"time"

	"github.com/bookline/bookline/internal/lifecycle"
)

// Appointment is the engine's owned entity. Rows are never deleted;
// cancelled and no-show appointments remain as terminal records for audit
// and statistics.
type Appointment struct {
	ID             string
	BusinessID     string
	ProfessionalID string
	ClientID       string
	ServiceID      string
	StartTime      time.Time
	EndTime        time.Time
	Status         lifecycle.Status
	Urgent         bool
	Price          string
	Comment        string

	CancelledAt      *time.Time
	CancelReason     string
	CancelledBy      string
	CancelFeePercent int

	CompletionNotes string
	ReminderSentAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DurationMinutes derives the booked duration from the stored interval.
func (a Appointment) DurationMinutes() int {
	return int(a.EndTime.Sub(a.StartTime) / time.Minute)
}
