// Package scheduling is the engine's single entry point: it composes the
// calendar, availability, lifecycle, policy and lock layers behind one
// service so handlers never touch those pieces directly.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

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

// Store is the persistence surface the facade drives. Implemented by
// *storage.AppointmentRepository.
type Store interface {
	Create(ctx context.Context, appt *model.Appointment, evt outbox.Event) error
	Get(ctx context.Context, businessID, appointmentID string) (model.Appointment, error)
	SetStatus(ctx context.Context, appointmentID string, from, to lifecycle.Status, evt outbox.Event) (model.Appointment, error)
	Cancel(ctx context.Context, appointmentID string, from lifecycle.Status, reason, cancelledBy string, feePercent int, evt outbox.Event) (model.Appointment, error)
	Complete(ctx context.Context, appointmentID string, from lifecycle.Status, notes string, evt outbox.Event) (model.Appointment, error)
	MarkNoShow(ctx context.Context, appointmentID string, from lifecycle.Status, evt outbox.Event) (model.Appointment, error)
	Reschedule(ctx context.Context, appointmentID string, from lifecycle.Status, newStart, newEnd time.Time, feePercent int, evt outbox.Event) (model.Appointment, error)
	ListBookedIntervals(ctx context.Context, professionalID string, from, to time.Time) ([]availability.Interval, error)
	ListByProfessional(ctx context.Context, businessID, professionalID string, from, to time.Time, limit int) ([]model.Appointment, error)
	ListByClient(ctx context.Context, businessID, clientID string, limit int) ([]model.Appointment, error)
}

type Config struct {
	// LockTTL caps how long a crashed holder wedges a slot; LockWait bounds
	// how long a contender blocks before ErrBusy.
	LockTTL  time.Duration
	LockWait time.Duration
	// StartGrace lets staff start an appointment slightly before its
	// scheduled time; NoShowGrace is how long after the start a no-show can
	// first be recorded.
	StartGrace  time.Duration
	NoShowGrace time.Duration
}

func (c *Config) fill() {
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.LockWait <= 0 {
		c.LockWait = 2 * time.Second
	}
	if c.StartGrace <= 0 {
		c.StartGrace = 10 * time.Minute
	}
	if c.NoShowGrace <= 0 {
		c.NoShowGrace = 15 * time.Minute
	}
}

type Service struct {
	store  Store
	dir    directory.Provider
	locks  locker.Locker
	logger *slog.Logger
	tracer trace.Tracer
	cfg    Config
	now    func() time.Time
}

func NewService(store Store, dir directory.Provider, locks locker.Locker, logger *slog.Logger, cfg Config) *Service {
	cfg.fill()
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		dir:    dir,
		locks:  locks,
		logger: logger,
		tracer: otel.Tracer("scheduling"),
		cfg:    cfg,
		now:    time.Now,
	}
}

// GetAvailability computes the day-by-day slot lists for one professional
// and service over [from, to].
func (s *Service) GetAvailability(ctx context.Context, caller identity.Caller, businessID, professionalID, serviceID string, from, to time.Time) ([]availability.Day, error) {
	ctx, span := s.tracer.Start(ctx, "scheduling.GetAvailability")
	defer span.End()

	if caller.BusinessID != businessID {
		return nil, ErrForbidden
	}

	snap, err := s.snapshot(ctx, businessID, professionalID, serviceID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	loc := snap.business.Location()
	horizon := time.Duration(snap.business.BookingHorizonDays) * 24 * time.Hour
	if to.Before(from) {
		from, to = to, from
	}

	booked, err := s.store.ListBookedIntervals(ctx, professionalID, dayStart(from, loc), dayStart(to, loc).AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	in := availability.Inputs{
		Schedule:    snap.schedule,
		Blocked:     snap.blocked,
		Booked:      booked,
		Granularity: time.Duration(snap.business.SlotGranularityMinutes) * time.Minute,
		Horizon:     horizon,
		MinNotice:   time.Duration(snap.business.MinNoticeMinutes) * time.Minute,
		Price:       snap.service.Price,
		Location:    loc,
	}
	duration := time.Duration(snap.service.DurationMinutes) * time.Minute
	return availability.Range(in, from, to, duration, now), nil
}

// BookRequest carries one reservation attempt.
type BookRequest struct {
	BusinessID     string
	ProfessionalID string
	ClientID       string
	ServiceID      string
	StartTime      time.Time
	Urgent         bool
	Comment        string
}

// Book runs the full reservation guard: validate the slot against the
// calendar, serialize on the slot lock, re-validate against committed state,
// then insert. At most one concurrent caller wins a given slot.
func (s *Service) Book(ctx context.Context, caller identity.Caller, req BookRequest) (model.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "scheduling.Book")
	defer span.End()

	if caller.BusinessID != req.BusinessID {
		return model.Appointment{}, ErrForbidden
	}
	if req.ClientID == "" {
		req.ClientID = caller.ID
	}
	if req.ClientID != caller.ID && !caller.Staff() {
		return model.Appointment{}, ErrForbidden
	}

	snap, err := s.snapshot(ctx, req.BusinessID, req.ProfessionalID, req.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !snap.professional.Active {
		return model.Appointment{}, ErrInvalidSlot
	}

	duration := time.Duration(snap.service.DurationMinutes) * time.Minute
	start := req.StartTime
	end := start.Add(duration)
	now := s.now()

	if err := s.checkWindow(snap.business, start, now); err != nil {
		return model.Appointment{}, err
	}
	if err := s.checkSlotShape(snap, start, duration); err != nil {
		return model.Appointment{}, err
	}

	release, err := s.locks.Acquire(ctx, locker.SlotKey(req.ProfessionalID, start), s.cfg.LockTTL, s.cfg.LockWait)
	if err != nil {
		return model.Appointment{}, err
	}
	defer release()

	booked, err := s.store.ListBookedIntervals(ctx, req.ProfessionalID, start, end)
	if err != nil {
		return model.Appointment{}, err
	}
	if !availability.SpanFree(booked, start, end) {
		return model.Appointment{}, ErrSlotConflict
	}

	status := lifecycle.StatusPending
	if snap.business.AutoConfirm {
		status = lifecycle.StatusConfirmed
	}
	// The id is assigned here, not in the store, so the booked event payload
	// carries it.
	appt := model.Appointment{
		ID:             uuid.NewString(),
		BusinessID:     req.BusinessID,
		ProfessionalID: req.ProfessionalID,
		ClientID:       req.ClientID,
		ServiceID:      req.ServiceID,
		StartTime:      start,
		EndTime:        end,
		Status:         status,
		Urgent:         req.Urgent,
		Price:          snap.service.Price,
		Comment:        req.Comment,
	}
	evt, err := outbox.AppointmentEvent(outbox.TopicAppointmentBooked, s.payload(appt, now))
	if err != nil {
		return model.Appointment{}, err
	}
	if err := s.store.Create(ctx, &appt, evt); err != nil {
		if errors.Is(err, storage.ErrOverlap) {
			return model.Appointment{}, ErrSlotConflict
		}
		return model.Appointment{}, err
	}

	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"business_id", appt.BusinessID,
		"professional_id", appt.ProfessionalID,
		"start_time", appt.StartTime,
		"status", appt.Status,
	)
	return appt, nil
}

// Confirm moves a pending appointment to confirmed. Staff only.
func (s *Service) Confirm(ctx context.Context, caller identity.Caller, businessID, appointmentID string) (model.Appointment, error) {
	return s.transition(ctx, caller, businessID, appointmentID, lifecycle.EventConfirm, outbox.TopicAppointmentConfirmed, nil)
}

// Start moves a confirmed appointment to in_progress. Staff only, and not
// earlier than StartGrace before the scheduled time.
func (s *Service) Start(ctx context.Context, caller identity.Caller, businessID, appointmentID string) (model.Appointment, error) {
	return s.transition(ctx, caller, businessID, appointmentID, lifecycle.EventStart, outbox.TopicAppointmentStarted, func(appt model.Appointment, now time.Time) error {
		if now.Before(appt.StartTime.Add(-s.cfg.StartGrace)) {
			return &lifecycle.InvalidTransitionError{From: appt.Status, Event: lifecycle.EventStart}
		}
		return nil
	})
}

// Complete closes an in-progress appointment.
func (s *Service) Complete(ctx context.Context, caller identity.Caller, businessID, appointmentID, notes string) (model.Appointment, error) {
	if !caller.Staff() || caller.BusinessID != businessID {
		return model.Appointment{}, ErrForbidden
	}
	ctx, span := s.tracer.Start(ctx, "scheduling.Complete")
	defer span.End()

	release, err := s.locks.Acquire(ctx, locker.AppointmentKey(appointmentID), s.cfg.LockTTL, s.cfg.LockWait)
	if err != nil {
		return model.Appointment{}, err
	}
	defer release()

	appt, err := s.getOwned(ctx, businessID, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if _, err := lifecycle.Next(appt.Status, lifecycle.EventComplete); err != nil {
		return model.Appointment{}, err
	}
	evt, err := outbox.AppointmentEvent(outbox.TopicAppointmentCompleted, s.payload(appt, s.now()))
	if err != nil {
		return model.Appointment{}, err
	}
	return s.store.Complete(ctx, appointmentID, appt.Status, notes, evt)
}

// MarkNoShow records a client no-show, allowed only once NoShowGrace has
// passed since the scheduled start.
func (s *Service) MarkNoShow(ctx context.Context, caller identity.Caller, businessID, appointmentID string) (model.Appointment, error) {
	return s.transition(ctx, caller, businessID, appointmentID, lifecycle.EventMarkNoShow, outbox.TopicAppointmentNoShow, func(appt model.Appointment, now time.Time) error {
		if now.Before(appt.StartTime.Add(s.cfg.NoShowGrace)) {
			return &lifecycle.InvalidTransitionError{From: appt.Status, Event: lifecycle.EventMarkNoShow}
		}
		return nil
	})
}

// Cancel ends an appointment before it happens. Clients cancel their own
// appointments subject to the business policy; staff cancellations carry no
// fee.
func (s *Service) Cancel(ctx context.Context, caller identity.Caller, businessID, appointmentID, reason string) (model.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "scheduling.Cancel")
	defer span.End()

	if caller.BusinessID != businessID {
		return model.Appointment{}, ErrForbidden
	}

	release, err := s.locks.Acquire(ctx, locker.AppointmentKey(appointmentID), s.cfg.LockTTL, s.cfg.LockWait)
	if err != nil {
		return model.Appointment{}, err
	}
	defer release()

	appt, err := s.getOwned(ctx, businessID, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !caller.Staff() && appt.ClientID != caller.ID {
		return model.Appointment{}, ErrForbidden
	}
	if _, err := lifecycle.Next(appt.Status, lifecycle.EventCancel); err != nil {
		return model.Appointment{}, err
	}

	now := s.now()
	feePercent := 0
	if !caller.Staff() {
		pol, err := s.dir.GetCancellationPolicy(ctx, businessID)
		if err != nil {
			return model.Appointment{}, err
		}
		eval := policy.Evaluate(pol, appt.StartTime, now)
		if !eval.Permitted {
			return model.Appointment{}, fmt.Errorf("%w: %s", ErrCancellationDenied, eval.Reason)
		}
		feePercent = eval.FeePercent
	}

	p := s.payload(appt, now)
	p.Status = string(lifecycle.StatusCancelled)
	p.FeePercent = feePercent
	evt, err := outbox.AppointmentEvent(outbox.TopicAppointmentCancelled, p)
	if err != nil {
		return model.Appointment{}, err
	}

	cancelled, err := s.store.Cancel(ctx, appointmentID, appt.Status, reason, caller.ID, feePercent, evt)
	if err != nil {
		return model.Appointment{}, err
	}
	s.logger.Info("appointment cancelled",
		"appointment_id", appointmentID,
		"fee_percent", feePercent,
		"cancelled_by", caller.ID,
	)
	return cancelled, nil
}

// Reschedule moves an appointment to a new slot. The new slot goes through
// the same validation and locking as a fresh booking; on any failure the
// original reservation stays untouched.
func (s *Service) Reschedule(ctx context.Context, caller identity.Caller, businessID, appointmentID string, newStart time.Time) (model.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "scheduling.Reschedule")
	defer span.End()

	if caller.BusinessID != businessID {
		return model.Appointment{}, ErrForbidden
	}

	// Lock the appointment and the target slot together, in key order, so
	// two reschedules aiming at each other's slots cannot deadlock.
	appt, err := s.getOwned(ctx, businessID, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !caller.Staff() && appt.ClientID != caller.ID {
		return model.Appointment{}, ErrForbidden
	}

	keys := []string{
		locker.AppointmentKey(appointmentID),
		locker.SlotKey(appt.ProfessionalID, newStart),
	}
	sort.Strings(keys)
	for _, key := range keys {
		release, err := s.locks.Acquire(ctx, key, s.cfg.LockTTL, s.cfg.LockWait)
		if err != nil {
			return model.Appointment{}, err
		}
		defer release()
	}

	// Re-read under the lock; the first read only resolved ownership.
	appt, err = s.getOwned(ctx, businessID, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if _, err := lifecycle.Next(appt.Status, lifecycle.EventReschedule); err != nil {
		return model.Appointment{}, err
	}

	snap, err := s.snapshot(ctx, businessID, appt.ProfessionalID, appt.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}
	duration := time.Duration(snap.service.DurationMinutes) * time.Minute
	newEnd := newStart.Add(duration)
	now := s.now()

	if err := s.checkWindow(snap.business, newStart, now); err != nil {
		return model.Appointment{}, err
	}
	if err := s.checkSlotShape(snap, newStart, duration); err != nil {
		return model.Appointment{}, err
	}

	booked, err := s.store.ListBookedIntervals(ctx, appt.ProfessionalID, newStart, newEnd)
	if err != nil {
		return model.Appointment{}, err
	}
	// Ignore the appointment's own interval; moving within it is legal.
	booked = excludeOwn(booked, appt)
	if !availability.SpanFree(booked, newStart, newEnd) {
		return model.Appointment{}, ErrInvalidSlot
	}

	feePercent := 0
	if !caller.Staff() {
		pol, err := s.dir.GetCancellationPolicy(ctx, businessID)
		if err != nil {
			return model.Appointment{}, err
		}
		eval := policy.Evaluate(pol, appt.StartTime, now)
		if !eval.Permitted {
			return model.Appointment{}, fmt.Errorf("%w: %s", ErrCancellationDenied, eval.Reason)
		}
		feePercent = eval.FeePercent
	}

	prevStart := appt.StartTime
	p := s.payload(appt, now)
	p.StartTime = newStart
	p.EndTime = newEnd
	p.Status = string(lifecycle.StatusPending)
	p.FeePercent = feePercent
	p.PrevStartTime = &prevStart
	evt, err := outbox.AppointmentEvent(outbox.TopicAppointmentRescheduled, p)
	if err != nil {
		return model.Appointment{}, err
	}

	moved, err := s.store.Reschedule(ctx, appointmentID, appt.Status, newStart, newEnd, feePercent, evt)
	if err != nil {
		if errors.Is(err, storage.ErrOverlap) {
			return model.Appointment{}, ErrSlotConflict
		}
		return model.Appointment{}, err
	}
	s.logger.Info("appointment rescheduled",
		"appointment_id", appointmentID,
		"from", prevStart,
		"to", newStart,
		"fee_percent", feePercent,
	)
	return moved, nil
}

// Get returns one appointment; clients only see their own.
func (s *Service) Get(ctx context.Context, caller identity.Caller, businessID, appointmentID string) (model.Appointment, error) {
	if caller.BusinessID != businessID {
		return model.Appointment{}, ErrForbidden
	}
	appt, err := s.getOwned(ctx, businessID, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !caller.Staff() && appt.ClientID != caller.ID {
		return model.Appointment{}, ErrForbidden
	}
	return appt, nil
}

// ListForProfessional returns a professional's appointments in [from, to).
// Staff only.
func (s *Service) ListForProfessional(ctx context.Context, caller identity.Caller, businessID, professionalID string, from, to time.Time, limit int) ([]model.Appointment, error) {
	if !caller.Staff() || caller.BusinessID != businessID {
		return nil, ErrForbidden
	}
	return s.store.ListByProfessional(ctx, businessID, professionalID, from, to, limit)
}

// ListForClient returns a client's own appointment history. Staff may list
// any client of their business.
func (s *Service) ListForClient(ctx context.Context, caller identity.Caller, businessID, clientID string, limit int) ([]model.Appointment, error) {
	if caller.BusinessID != businessID {
		return nil, ErrForbidden
	}
	if clientID == "" {
		clientID = caller.ID
	}
	if clientID != caller.ID && !caller.Staff() {
		return nil, ErrForbidden
	}
	return s.store.ListByClient(ctx, businessID, clientID, limit)
}

// transition is the shared path for the staff-only status moves that need
// the per-appointment lock but no slot work.
func (s *Service) transition(ctx context.Context, caller identity.Caller, businessID, appointmentID string, ev lifecycle.Event, topic string, guard func(model.Appointment, time.Time) error) (model.Appointment, error) {
	if !caller.Staff() || caller.BusinessID != businessID {
		return model.Appointment{}, ErrForbidden
	}
	ctx, span := s.tracer.Start(ctx, "scheduling.transition")
	defer span.End()

	release, err := s.locks.Acquire(ctx, locker.AppointmentKey(appointmentID), s.cfg.LockTTL, s.cfg.LockWait)
	if err != nil {
		return model.Appointment{}, err
	}
	defer release()

	appt, err := s.getOwned(ctx, businessID, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	next, err := lifecycle.Next(appt.Status, ev)
	if err != nil {
		return model.Appointment{}, err
	}
	now := s.now()
	if guard != nil {
		if err := guard(appt, now); err != nil {
			return model.Appointment{}, err
		}
	}

	p := s.payload(appt, now)
	p.Status = string(next)
	evt, err := outbox.AppointmentEvent(topic, p)
	if err != nil {
		return model.Appointment{}, err
	}
	if ev == lifecycle.EventMarkNoShow {
		return s.store.MarkNoShow(ctx, appointmentID, appt.Status, evt)
	}
	return s.store.SetStatus(ctx, appointmentID, appt.Status, next, evt)
}

type snapshotData struct {
	business     directory.Business
	professional directory.Professional
	service      directory.Service
	schedule     calendar.WeekSchedule
	blocked      []calendar.BlockedPeriod
}

func (s *Service) snapshot(ctx context.Context, businessID, professionalID, serviceID string) (snapshotData, error) {
	biz, err := s.dir.GetBusiness(ctx, businessID)
	if err != nil {
		return snapshotData{}, mapDirErr(err)
	}
	pro, err := s.dir.GetProfessional(ctx, businessID, professionalID)
	if err != nil {
		return snapshotData{}, mapDirErr(err)
	}
	svc, err := s.dir.GetService(ctx, businessID, serviceID)
	if err != nil {
		return snapshotData{}, mapDirErr(err)
	}
	sched, err := s.dir.GetSchedule(ctx, professionalID)
	if err != nil {
		return snapshotData{}, mapDirErr(err)
	}
	if err := sched.Validate(); err != nil {
		return snapshotData{}, err
	}
	horizon := time.Duration(biz.BookingHorizonDays) * 24 * time.Hour
	now := s.now()
	blocked, err := s.dir.GetBlockedPeriods(ctx, professionalID, now.AddDate(0, 0, -1), now.Add(horizon).AddDate(0, 0, 1))
	if err != nil {
		return snapshotData{}, mapDirErr(err)
	}
	for _, b := range blocked {
		if err := b.Validate(); err != nil {
			return snapshotData{}, err
		}
	}
	return snapshotData{business: biz, professional: pro, service: svc, schedule: sched, blocked: blocked}, nil
}

func (s *Service) checkWindow(biz directory.Business, start, now time.Time) error {
	if start.Before(now.Add(time.Duration(biz.MinNoticeMinutes) * time.Minute)) {
		return ErrOutOfWindow
	}
	if biz.BookingHorizonDays > 0 {
		horizon := now.Add(time.Duration(biz.BookingHorizonDays) * 24 * time.Hour)
		if start.After(horizon) {
			return ErrOutOfWindow
		}
	}
	return nil
}

// checkSlotShape verifies the start matches a generated slot: aligned to the
// granularity grid, fully inside opening hours, clear of breaks and blocked
// periods.
func (s *Service) checkSlotShape(snap snapshotData, start time.Time, duration time.Duration) error {
	loc := snap.business.Location()
	local := start.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	minute := int(local.Sub(midnight) / time.Minute)

	day := snap.schedule.Day(local.Weekday())
	if !day.Open {
		return ErrInvalidSlot
	}
	step := snap.business.SlotGranularityMinutes
	if step > 0 && (minute-day.OpenMinute)%step != 0 {
		return ErrInvalidSlot
	}
	if !day.SpanOpen(minute, int(duration/time.Minute)) {
		return ErrInvalidSlot
	}
	if calendar.AnyBlocked(snap.blocked, start, start.Add(duration)) {
		return ErrInvalidSlot
	}
	return nil
}

// mapDirErr turns directory misses into the facade's not-found error.
func mapDirErr(err error) error {
	if errors.Is(err, directory.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Service) getOwned(ctx context.Context, businessID, appointmentID string) (model.Appointment, error) {
	appt, err := s.store.Get(ctx, businessID, appointmentID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Appointment{}, ErrNotFound
	}
	return appt, err
}

func (s *Service) payload(appt model.Appointment, now time.Time) outbox.AppointmentPayload {
	return outbox.AppointmentPayload{
		AppointmentID:  appt.ID,
		BusinessID:     appt.BusinessID,
		ProfessionalID: appt.ProfessionalID,
		ClientID:       appt.ClientID,
		ServiceID:      appt.ServiceID,
		StartTime:      appt.StartTime,
		EndTime:        appt.EndTime,
		Status:         string(appt.Status),
		OccurredAt:     now,
	}
}

func excludeOwn(booked []availability.Interval, appt model.Appointment) []availability.Interval {
	var out []availability.Interval
	for _, iv := range booked {
		if iv.ID == appt.ID {
			continue
		}
		out = append(out, iv)
	}
	return out
}

func dayStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
