package scheduling

import (
	"errors"

	"github.com/bookline/bookline/internal/calendar"
	"github.com/bookline/bookline/internal/identity"
	"github.com/bookline/bookline/internal/locker"
)

// The operation-level error taxonomy. Handlers map these onto HTTP statuses;
// nothing below this package invents its own user-facing failures.
var (
	// ErrInvalidSchedule re-exports the calendar sentinel so callers match
	// one vocabulary.
	ErrInvalidSchedule = calendar.ErrInvalidSchedule

	// ErrOutOfWindow rejects requests outside the bookable window: beyond
	// the horizon or under the minimum notice.
	ErrOutOfWindow = errors.New("requested time outside the bookable window")

	// ErrInvalidSlot rejects a start that no generated slot matches:
	// misaligned, outside working hours, inside a break or a blocked period,
	// or already taken when re-checked.
	ErrInvalidSlot = errors.New("requested slot is not bookable")

	// ErrSlotConflict reports a lost race: the slot was free when checked
	// and taken by the time the reservation committed.
	ErrSlotConflict = errors.New("slot was taken concurrently")

	// ErrCancellationDenied refuses a cancel or reschedule the business
	// policy does not permit.
	ErrCancellationDenied = errors.New("cancellation not permitted by policy")

	// ErrBusy re-exports the lock sentinel: the slot's critical section
	// could not be entered within the wait bound.
	ErrBusy = locker.ErrBusy

	ErrForbidden = identity.ErrForbidden

	ErrNotFound = errors.New("appointment not found")
)
