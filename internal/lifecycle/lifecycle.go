// Package lifecycle defines the appointment state machine. All status
// mutations in the engine go through Next so that no transition outside the
// table below can ever be persisted.
package lifecycle

import "fmt"

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

type Event string

const (
	EventConfirm    Event = "confirm"
	EventStart      Event = "start"
	EventComplete   Event = "complete"
	EventCancel     Event = "cancel"
	EventMarkNoShow Event = "mark_no_show"
	EventReschedule Event = "reschedule"
)

// A reschedule lands the appointment back in pending: the new slot goes
// through the same reservation path as a fresh booking.
var transitions = map[Status]map[Event]Status{
	StatusPending: {
		EventConfirm:    StatusConfirmed,
		EventCancel:     StatusCancelled,
		EventReschedule: StatusPending,
	},
	StatusConfirmed: {
		EventStart:      StatusInProgress,
		EventCancel:     StatusCancelled,
		EventReschedule: StatusPending,
	},
	StatusInProgress: {
		EventComplete:   StatusCompleted,
		EventMarkNoShow: StatusNoShow,
	},
}

type InvalidTransitionError struct {
	From  Status
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s not allowed from %s", e.Event, e.From)
}

// Next returns the resulting status for applying ev to from, or an
// *InvalidTransitionError when the table has no such edge.
func Next(from Status, ev Event) (Status, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return "", &InvalidTransitionError{From: from, Event: ev}
}

func Valid(s Status) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether s has no outgoing transitions.
func Terminal(s Status) bool {
	return len(transitions[s]) == 0 && Valid(s)
}

// Active reports whether an appointment in s still occupies its slot.
func Active(s Status) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress:
		return true
	}
	return false
}

// ActiveStatuses lists the statuses that block a slot, in a stable order
// usable in SQL IN clauses.
func ActiveStatuses() []Status {
	return []Status{StatusPending, StatusConfirmed, StatusInProgress}
}
