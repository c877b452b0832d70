package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bookline/bookline/internal/availability"
	"github.com/bookline/bookline/internal/calendar"
	"github.com/bookline/bookline/internal/directory"
	"github.com/bookline/bookline/internal/identity"
	"github.com/bookline/bookline/internal/lifecycle"
	"github.com/bookline/bookline/internal/locker"
	"github.com/bookline/bookline/internal/model"
	"github.com/bookline/bookline/internal/outbox"
	"github.com/bookline/bookline/internal/policy"
	"github.com/bookline/bookline/internal/storage"
)

// fakeStore keeps appointments in memory and enforces the same overlap and
// compare-and-set semantics as the Postgres repository.
type fakeStore struct {
	mu     sync.Mutex
	appts  map[string]model.Appointment
	events []outbox.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{appts: make(map[string]model.Appointment)}
}

func (f *fakeStore) overlapsLocked(professionalID string, start, end time.Time, excludeID string) bool {
	for _, a := range f.appts {
		if a.ProfessionalID != professionalID || a.ID == excludeID || !lifecycle.Active(a.Status) {
			continue
		}
		if start.Before(a.EndTime) && a.StartTime.Before(end) {
			return true
		}
	}
	return false
}

func (f *fakeStore) Create(_ context.Context, appt *model.Appointment, evt outbox.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.overlapsLocked(appt.ProfessionalID, appt.StartTime, appt.EndTime, "") {
		return storage.ErrOverlap
	}
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	now := time.Now()
	appt.CreatedAt, appt.UpdatedAt = now, now
	f.appts[appt.ID] = *appt
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeStore) Get(_ context.Context, businessID, appointmentID string) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[appointmentID]
	if !ok || a.BusinessID != businessID {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) cas(appointmentID string, from lifecycle.Status, evt outbox.Event, apply func(*model.Appointment)) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[appointmentID]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	if a.Status != from {
		return model.Appointment{}, storage.ErrStale
	}
	apply(&a)
	a.UpdatedAt = time.Now()
	f.appts[appointmentID] = a
	f.events = append(f.events, evt)
	return a, nil
}

func (f *fakeStore) SetStatus(_ context.Context, id string, from, to lifecycle.Status, evt outbox.Event) (model.Appointment, error) {
	return f.cas(id, from, evt, func(a *model.Appointment) { a.Status = to })
}

func (f *fakeStore) Cancel(_ context.Context, id string, from lifecycle.Status, reason, cancelledBy string, feePercent int, evt outbox.Event) (model.Appointment, error) {
	return f.cas(id, from, evt, func(a *model.Appointment) {
		now := time.Now()
		a.Status = lifecycle.StatusCancelled
		a.CancelledAt = &now
		a.CancelReason = reason
		a.CancelledBy = cancelledBy
		a.CancelFeePercent = feePercent
	})
}

func (f *fakeStore) Complete(_ context.Context, id string, from lifecycle.Status, notes string, evt outbox.Event) (model.Appointment, error) {
	return f.cas(id, from, evt, func(a *model.Appointment) {
		a.Status = lifecycle.StatusCompleted
		a.CompletionNotes = notes
	})
}

func (f *fakeStore) MarkNoShow(_ context.Context, id string, from lifecycle.Status, evt outbox.Event) (model.Appointment, error) {
	return f.cas(id, from, evt, func(a *model.Appointment) { a.Status = lifecycle.StatusNoShow })
}

func (f *fakeStore) Reschedule(_ context.Context, id string, from lifecycle.Status, newStart, newEnd time.Time, feePercent int, evt outbox.Event) (model.Appointment, error) {
	f.mu.Lock()
	overlap := f.overlapsLocked(f.appts[id].ProfessionalID, newStart, newEnd, id)
	f.mu.Unlock()
	if overlap {
		return model.Appointment{}, storage.ErrOverlap
	}
	return f.cas(id, from, evt, func(a *model.Appointment) {
		a.StartTime = newStart
		a.EndTime = newEnd
		a.Status = lifecycle.StatusPending
		a.CancelFeePercent = feePercent
	})
}

func (f *fakeStore) ListBookedIntervals(_ context.Context, professionalID string, from, to time.Time) ([]availability.Interval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []availability.Interval
	for _, a := range f.appts {
		if a.ProfessionalID != professionalID || !lifecycle.Active(a.Status) {
			continue
		}
		if a.StartTime.Before(to) && from.Before(a.EndTime) {
			out = append(out, availability.Interval{ID: a.ID, Start: a.StartTime, End: a.EndTime})
		}
	}
	return out, nil
}

func (f *fakeStore) ListByProfessional(_ context.Context, businessID, professionalID string, from, to time.Time, limit int) ([]model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Appointment
	for _, a := range f.appts {
		if a.BusinessID == businessID && a.ProfessionalID == professionalID && a.StartTime.Before(to) && from.Before(a.EndTime) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByClient(_ context.Context, businessID, clientID string, limit int) ([]model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Appointment
	for _, a := range f.appts {
		if a.BusinessID == businessID && a.ClientID == clientID {
			out = append(out, a)
		}
	}
	return out, nil
}

var (
	testNow    = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC) // a Monday
	clientCall = identity.Caller{ID: "client-1", BusinessID: "biz-1", Role: identity.RoleClient}
	staffCall  = identity.Caller{ID: "pro-1", BusinessID: "biz-1", Role: identity.RoleProfessional}
)

func testDirectory() *directory.Static {
	var ws calendar.WeekSchedule
	for wd := time.Monday; wd <= time.Friday; wd++ {
		ws.Days[int(wd)] = calendar.DaySchedule{
			Open:        true,
			OpenMinute:  9 * 60,
			CloseMinute: 18 * 60,
			Breaks:      []calendar.Window{{StartMinute: 13 * 60, EndMinute: 14 * 60}},
		}
	}
	return &directory.Static{
		Businesses: map[string]directory.Business{
			"biz-1": {
				ID:                     "biz-1",
				Timezone:               "UTC",
				BookingHorizonDays:     30,
				MinNoticeMinutes:       60,
				SlotGranularityMinutes: 30,
			},
		},
		Professionals: map[string]directory.Professional{
			"pro-1": {ID: "pro-1", BusinessID: "biz-1", Name: "Dana", Active: true},
		},
		Services: map[string]directory.Service{
			"svc-1": {ID: "svc-1", BusinessID: "biz-1", Name: "Consultation", DurationMinutes: 30, Price: "45.00"},
		},
		Schedules: map[string]calendar.WeekSchedule{"pro-1": ws},
		Policies:  map[string]policy.Policy{"biz-1": policy.Default()},
	}
}

func newTestService(store Store) *Service {
	svc := NewService(store, testDirectory(), locker.NewMemory(), nil, Config{})
	svc.now = func() time.Time { return testNow }
	return svc
}

func bookReq(start time.Time) BookRequest {
	return BookRequest{
		BusinessID:     "biz-1",
		ProfessionalID: "pro-1",
		ServiceID:      "svc-1",
		StartTime:      start,
	}
}

func TestBookHappyPath(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	start := testNow.Add(2 * time.Hour) // Monday 10:00
	appt, err := svc.Book(context.Background(), clientCall, bookReq(start))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.Status != lifecycle.StatusPending {
		t.Errorf("status = %s, want pending", appt.Status)
	}
	if appt.ClientID != "client-1" {
		t.Errorf("client = %s", appt.ClientID)
	}
	if !appt.EndTime.Equal(start.Add(30 * time.Minute)) {
		t.Errorf("end = %v", appt.EndTime)
	}
	if len(store.events) != 1 || store.events[0].EventType != outbox.TopicAppointmentBooked {
		t.Errorf("events = %+v", store.events)
	}
}

func TestBookEventCarriesAppointmentID(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	appt, err := svc.Book(context.Background(), clientCall, bookReq(testNow.Add(2*time.Hour)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.ID == "" {
		t.Fatal("expected a generated id")
	}
	if len(store.events) != 1 {
		t.Fatalf("events = %d, want 1", len(store.events))
	}
	if store.events[0].AggregateID != appt.ID {
		t.Errorf("aggregate id = %q, want %q", store.events[0].AggregateID, appt.ID)
	}
	var p outbox.AppointmentPayload
	if err := json.Unmarshal(store.events[0].Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.AppointmentID != appt.ID {
		t.Errorf("payload appointment id = %q, want %q", p.AppointmentID, appt.ID)
	}
}

func TestBookAutoConfirm(t *testing.T) {
	store := newFakeStore()
	dir := testDirectory()
	biz := dir.Businesses["biz-1"]
	biz.AutoConfirm = true
	dir.Businesses["biz-1"] = biz

	svc := NewService(store, dir, locker.NewMemory(), nil, Config{})
	svc.now = func() time.Time { return testNow }

	appt, err := svc.Book(context.Background(), clientCall, bookReq(testNow.Add(2*time.Hour)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.Status != lifecycle.StatusConfirmed {
		t.Errorf("status = %s, want confirmed", appt.Status)
	}
}

func TestBookWindowViolations(t *testing.T) {
	svc := newTestService(newFakeStore())
	ctx := context.Background()

	// 30 minutes out: under the 60-minute notice.
	if _, err := svc.Book(ctx, clientCall, bookReq(testNow.Add(30*time.Minute))); !errors.Is(err, ErrOutOfWindow) {
		t.Errorf("short notice: err = %v, want ErrOutOfWindow", err)
	}
	// 40 days out: past the 30-day horizon.
	farStart := time.Date(2026, 7, 13, 10, 0, 0, 0, time.UTC)
	if _, err := svc.Book(ctx, clientCall, bookReq(farStart)); !errors.Is(err, ErrOutOfWindow) {
		t.Errorf("past horizon: err = %v, want ErrOutOfWindow", err)
	}
}

func TestBookInvalidSlots(t *testing.T) {
	svc := newTestService(newFakeStore())
	ctx := context.Background()

	tests := []struct {
		name  string
		start time.Time
	}{
		{"misaligned", testNow.Add(2*time.Hour + 10*time.Minute)},         // 10:10
		{"inside break", time.Date(2026, 6, 1, 13, 0, 0, 0, time.UTC)},   // 13:00
		{"before opening", time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC)},  // 08:00
		{"spills past close", time.Date(2026, 6, 1, 17, 45, 0, 0, time.UTC)},
		{"closed weekday", time.Date(2026, 6, 7, 10, 0, 0, 0, time.UTC)}, // Sunday
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Book(ctx, clientCall, bookReq(tt.start)); !errors.Is(err, ErrInvalidSlot) {
				t.Errorf("err = %v, want ErrInvalidSlot", err)
			}
		})
	}
}

func TestBookBlockedPeriod(t *testing.T) {
	store := newFakeStore()
	dir := testDirectory()
	dir.Blocked = map[string][]calendar.BlockedPeriod{
		"pro-1": {{
			Start: time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC),
		}},
	}
	svc := NewService(store, dir, locker.NewMemory(), nil, Config{})
	svc.now = func() time.Time { return testNow }

	if _, err := svc.Book(context.Background(), clientCall, bookReq(time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC))); !errors.Is(err, ErrInvalidSlot) {
		t.Errorf("err = %v, want ErrInvalidSlot", err)
	}
}

func TestBookTakenSlot(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	start := testNow.Add(2 * time.Hour)

	if _, err := svc.Book(ctx, clientCall, bookReq(start)); err != nil {
		t.Fatalf("first book: %v", err)
	}
	other := identity.Caller{ID: "client-2", BusinessID: "biz-1", Role: identity.RoleClient}
	if _, err := svc.Book(ctx, other, bookReq(start)); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("second book: err = %v, want ErrSlotConflict", err)
	}
}

func TestBookConcurrentSingleWinner(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	start := testNow.Add(2 * time.Hour)

	const contenders = 12
	results := make(chan error, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			caller := identity.Caller{ID: "client-" + string(rune('a'+n)), BusinessID: "biz-1", Role: identity.RoleClient}
			_, err := svc.Book(context.Background(), caller, bookReq(start))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var wins, conflicts, busy int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotConflict):
			conflicts++
		case errors.Is(err, ErrBusy):
			busy++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d (conflicts %d, busy %d), want exactly 1", wins, conflicts, busy)
	}
	if got := len(store.appts); got != 1 {
		t.Fatalf("stored appointments = %d, want 1", got)
	}
}

func TestBookForbidden(t *testing.T) {
	svc := newTestService(newFakeStore())
	ctx := context.Background()
	start := testNow.Add(2 * time.Hour)

	outsider := identity.Caller{ID: "client-9", BusinessID: "biz-2", Role: identity.RoleClient}
	if _, err := svc.Book(ctx, outsider, bookReq(start)); !errors.Is(err, ErrForbidden) {
		t.Errorf("cross-tenant: err = %v, want ErrForbidden", err)
	}

	req := bookReq(start)
	req.ClientID = "someone-else"
	if _, err := svc.Book(ctx, clientCall, req); !errors.Is(err, ErrForbidden) {
		t.Errorf("booking for another client: err = %v, want ErrForbidden", err)
	}

	// Staff may book on behalf of a client.
	if _, err := svc.Book(ctx, staffCall, req); err != nil {
		t.Errorf("staff on-behalf booking: %v", err)
	}
}

func TestConfirmFlow(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	appt, err := svc.Book(ctx, clientCall, bookReq(testNow.Add(2*time.Hour)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	if _, err := svc.Confirm(ctx, clientCall, "biz-1", appt.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("client confirm: err = %v, want ErrForbidden", err)
	}

	confirmed, err := svc.Confirm(ctx, staffCall, "biz-1", appt.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != lifecycle.StatusConfirmed {
		t.Fatalf("status = %s", confirmed.Status)
	}

	// Confirming twice is an invalid transition.
	var ite *lifecycle.InvalidTransitionError
	if _, err := svc.Confirm(ctx, staffCall, "biz-1", appt.ID); !errors.As(err, &ite) {
		t.Fatalf("double confirm: err = %v, want InvalidTransitionError", err)
	}
}

func TestStartRespectsGrace(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	start := testNow.Add(2 * time.Hour)
	appt, err := svc.Book(ctx, clientCall, bookReq(start))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := svc.Confirm(ctx, staffCall, "biz-1", appt.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// Two hours early is outside the grace window.
	var ite *lifecycle.InvalidTransitionError
	if _, err := svc.Start(ctx, staffCall, "biz-1", appt.ID); !errors.As(err, &ite) {
		t.Fatalf("early start: err = %v, want InvalidTransitionError", err)
	}

	svc.now = func() time.Time { return start.Add(-5 * time.Minute) }
	started, err := svc.Start(ctx, staffCall, "biz-1", appt.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != lifecycle.StatusInProgress {
		t.Fatalf("status = %s", started.Status)
	}

	done, err := svc.Complete(ctx, staffCall, "biz-1", appt.ID, "all good")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != lifecycle.StatusCompleted || done.CompletionNotes != "all good" {
		t.Fatalf("completed = %+v", done)
	}
}

func TestMarkNoShowRespectsGrace(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	start := testNow.Add(2 * time.Hour)
	appt, err := svc.Book(ctx, clientCall, bookReq(start))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := svc.Confirm(ctx, staffCall, "biz-1", appt.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	svc.now = func() time.Time { return start }
	if _, err := svc.Start(ctx, staffCall, "biz-1", appt.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	var ite *lifecycle.InvalidTransitionError
	if _, err := svc.MarkNoShow(ctx, staffCall, "biz-1", appt.ID); !errors.As(err, &ite) {
		t.Fatalf("no-show at start time: err = %v, want InvalidTransitionError", err)
	}

	svc.now = func() time.Time { return start.Add(20 * time.Minute) }
	marked, err := svc.MarkNoShow(ctx, staffCall, "biz-1", appt.ID)
	if err != nil {
		t.Fatalf("no-show: %v", err)
	}
	if marked.Status != lifecycle.StatusNoShow {
		t.Fatalf("status = %s", marked.Status)
	}
}

func TestCancelFees(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	// 23 hours of notice lands in the 50% tier.
	start := time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start.Add(-23 * time.Hour) }
	appt, err := svc.Book(ctx, clientCall, bookReq(start))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	cancelled, err := svc.Cancel(ctx, clientCall, "biz-1", appt.ID, "can't make it")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != lifecycle.StatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
	if cancelled.CancelFeePercent != 50 {
		t.Fatalf("fee = %d, want 50", cancelled.CancelFeePercent)
	}
	if cancelled.CancelledAt == nil || cancelled.CancelReason != "can't make it" {
		t.Fatalf("cancel fields = %+v", cancelled)
	}
}

func TestCancelByStaffNoFee(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	start := time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start.Add(-1 * time.Hour) }

	// Bypass Book's notice check by seeding directly.
	appt := model.Appointment{
		ID: "appt-1", BusinessID: "biz-1", ProfessionalID: "pro-1", ClientID: "client-1",
		ServiceID: "svc-1", StartTime: start, EndTime: start.Add(30 * time.Minute),
		Status: lifecycle.StatusConfirmed,
	}
	store.appts[appt.ID] = appt

	cancelled, err := svc.Cancel(ctx, staffCall, "biz-1", appt.ID, "professional ill")
	if err != nil {
		t.Fatalf("staff cancel: %v", err)
	}
	if cancelled.CancelFeePercent != 0 {
		t.Fatalf("fee = %d, want 0 for staff cancellation", cancelled.CancelFeePercent)
	}
}

func TestCancelDeniedByPolicy(t *testing.T) {
	store := newFakeStore()
	dir := testDirectory()
	pol := policy.Default()
	pol.AllowCancellation = false
	dir.Policies["biz-1"] = pol

	svc := NewService(store, dir, locker.NewMemory(), nil, Config{})
	svc.now = func() time.Time { return testNow }
	ctx := context.Background()

	appt, err := svc.Book(ctx, clientCall, bookReq(testNow.Add(2*time.Hour)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := svc.Cancel(ctx, clientCall, "biz-1", appt.ID, "nope"); !errors.Is(err, ErrCancellationDenied) {
		t.Fatalf("err = %v, want ErrCancellationDenied", err)
	}

	// The appointment is untouched.
	got, err := svc.Get(ctx, clientCall, "biz-1", appt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != lifecycle.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
}

func TestCancelAuthz(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	appt, err := svc.Book(ctx, clientCall, bookReq(testNow.Add(2*time.Hour)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	other := identity.Caller{ID: "client-2", BusinessID: "biz-1", Role: identity.RoleClient}
	if _, err := svc.Cancel(ctx, other, "biz-1", appt.ID, "mine now"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestRescheduleHappyPath(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	appt, err := svc.Book(ctx, clientCall, bookReq(testNow.Add(2*time.Hour)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := svc.Confirm(ctx, staffCall, "biz-1", appt.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	newStart := time.Date(2026, 6, 2, 11, 0, 0, 0, time.UTC)
	moved, err := svc.Reschedule(ctx, clientCall, "biz-1", appt.ID, newStart)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if moved.Status != lifecycle.StatusPending {
		t.Errorf("status = %s, want pending after reschedule", moved.Status)
	}
	if !moved.StartTime.Equal(newStart) || !moved.EndTime.Equal(newStart.Add(30*time.Minute)) {
		t.Errorf("interval = [%v, %v)", moved.StartTime, moved.EndTime)
	}
}

func TestRescheduleToTakenSlotLeavesOriginal(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	origStart := testNow.Add(2 * time.Hour)
	appt, err := svc.Book(ctx, clientCall, bookReq(origStart))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	otherStart := time.Date(2026, 6, 2, 11, 0, 0, 0, time.UTC)
	other := identity.Caller{ID: "client-2", BusinessID: "biz-1", Role: identity.RoleClient}
	if _, err := svc.Book(ctx, other, bookReq(otherStart)); err != nil {
		t.Fatalf("other book: %v", err)
	}

	if _, err := svc.Reschedule(ctx, clientCall, "biz-1", appt.ID, otherStart); !errors.Is(err, ErrInvalidSlot) {
		t.Fatalf("err = %v, want ErrInvalidSlot", err)
	}

	got, err := svc.Get(ctx, clientCall, "biz-1", appt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.StartTime.Equal(origStart) || got.Status != lifecycle.StatusPending {
		t.Fatalf("original changed: %+v", got)
	}
}

func TestRescheduleOverlappingOwnInterval(t *testing.T) {
	store := newFakeStore()
	dir := testDirectory()
	dir.Services["svc-2"] = directory.Service{
		ID: "svc-2", BusinessID: "biz-1", Name: "Extended consultation", DurationMinutes: 60, Price: "80.00",
	}
	svc := NewService(store, dir, locker.NewMemory(), nil, Config{})
	svc.now = func() time.Time { return testNow }
	ctx := context.Background()

	req := bookReq(testNow.Add(2 * time.Hour)) // Monday 10:00-11:00
	req.ServiceID = "svc-2"
	appt, err := svc.Book(ctx, clientCall, req)
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	// Shifting by half a slot overlaps the appointment's own interval,
	// which must not count as a conflict.
	newStart := testNow.Add(2*time.Hour + 30*time.Minute)
	moved, err := svc.Reschedule(ctx, clientCall, "biz-1", appt.ID, newStart)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if !moved.StartTime.Equal(newStart) || !moved.EndTime.Equal(newStart.Add(time.Hour)) {
		t.Fatalf("interval = [%v, %v)", moved.StartTime, moved.EndTime)
	}
}

func TestRescheduleTerminalAppointment(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	appt := model.Appointment{
		ID: "appt-1", BusinessID: "biz-1", ProfessionalID: "pro-1", ClientID: "client-1",
		ServiceID: "svc-1", StartTime: testNow.Add(2 * time.Hour), EndTime: testNow.Add(150 * time.Minute),
		Status: lifecycle.StatusCancelled,
	}
	store.appts[appt.ID] = appt

	var ite *lifecycle.InvalidTransitionError
	if _, err := svc.Reschedule(ctx, clientCall, "biz-1", appt.ID, testNow.Add(4*time.Hour)); !errors.As(err, &ite) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
}

func TestGetAvailabilityMarksBooked(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	start := testNow.Add(2 * time.Hour) // Monday 10:00
	if _, err := svc.Book(ctx, clientCall, bookReq(start)); err != nil {
		t.Fatalf("book: %v", err)
	}

	days, err := svc.GetAvailability(ctx, clientCall, "biz-1", "pro-1", "svc-1", testNow, testNow)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if len(days) != 1 {
		t.Fatalf("days = %d", len(days))
	}
	var sawOccupied, sawFree bool
	for _, slot := range days[0].Slots {
		if slot.Start.Equal(start) {
			if !slot.Occupied {
				t.Error("booked slot not marked occupied")
			}
			sawOccupied = true
		} else if !slot.Occupied {
			sawFree = true
		}
	}
	if !sawOccupied || !sawFree {
		t.Fatalf("slot mix: occupied=%v free=%v", sawOccupied, sawFree)
	}
}

func TestListAuthz(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.ListForProfessional(ctx, clientCall, "biz-1", "pro-1", testNow, testNow.AddDate(0, 0, 7), 0); !errors.Is(err, ErrForbidden) {
		t.Errorf("client professional listing: err = %v, want ErrForbidden", err)
	}
	if _, err := svc.ListForClient(ctx, clientCall, "biz-1", "client-2", 0); !errors.Is(err, ErrForbidden) {
		t.Errorf("peeking at another client: err = %v, want ErrForbidden", err)
	}
	if _, err := svc.ListForClient(ctx, clientCall, "biz-1", "", 0); err != nil {
		t.Errorf("own listing: %v", err)
	}
	if _, err := svc.ListForClient(ctx, staffCall, "biz-1", "client-1", 0); err != nil {
		t.Errorf("staff listing: %v", err)
	}
}

func TestGetNotFoundMapped(t *testing.T) {
	svc := newTestService(newFakeStore())
	if _, err := svc.Get(context.Background(), clientCall, "biz-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUnknownDirectoryEntriesMapped(t *testing.T) {
	svc := newTestService(newFakeStore())
	ctx := context.Background()
	start := testNow.Add(2 * time.Hour)

	req := bookReq(start)
	req.ProfessionalID = "ghost"
	if _, err := svc.Book(ctx, clientCall, req); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown professional: err = %v, want ErrNotFound", err)
	}

	req = bookReq(start)
	req.ServiceID = "ghost"
	if _, err := svc.Book(ctx, clientCall, req); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown service: err = %v, want ErrNotFound", err)
	}

	if _, err := svc.GetAvailability(ctx, clientCall, "biz-1", "ghost", "svc-1", testNow, testNow); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown professional availability: err = %v, want ErrNotFound", err)
	}
}
