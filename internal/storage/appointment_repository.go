// Package storage persists appointments. Every mutation writes its domain
// event to the outbox inside the same transaction, and the appointments
// table carries an exclusion constraint on (professional, active interval)
// as the last line of defense against double booking.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bookline/bookline/internal/availability"
	"github.com/bookline/bookline/internal/lifecycle"
	"github.com/bookline/bookline/internal/model"
	"github.com/bookline/bookline/internal/outbox"
)

// DB is the slice of pgxpool the repositories use; *db.Pool satisfies it,
// and tests substitute a mock.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	// ErrOverlap surfaces the exclusion-constraint violation raised when an
	// insert or reschedule collides with an active appointment.
	ErrOverlap  = errors.New("appointment interval overlaps")
	ErrNotFound = errors.New("appointment not found")
	// ErrStale means the row's status changed between the caller's read and
	// the compare-and-set update.
	ErrStale = errors.New("appointment state changed concurrently")
)

type AppointmentRepository struct {
	pool   DB
	events *outbox.Repository
}

func NewAppointmentRepository(pool DB, events *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, events: events}
}

const appointmentColumns = `
	id::text, business_id::text, professional_id::text, client_id::text, service_id::text,
	start_time, end_time, status, urgent, price::text, COALESCE(comment, ''),
	cancelled_at, COALESCE(cancel_reason, ''), COALESCE(cancelled_by, ''), cancel_fee_percent,
	COALESCE(completion_notes, ''), reminder_sent_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(
		&a.ID, &a.BusinessID, &a.ProfessionalID, &a.ClientID, &a.ServiceID,
		&a.StartTime, &a.EndTime, &a.Status, &a.Urgent, &a.Price, &a.Comment,
		&a.CancelledAt, &a.CancelReason, &a.CancelledBy, &a.CancelFeePercent,
		&a.CompletionNotes, &a.ReminderSentAt, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

// Create inserts the appointment and its booked event atomically. The
// exclusion constraint turns a lost race into ErrOverlap.
func (r *AppointmentRepository) Create(ctx context.Context, appt *model.Appointment, evt outbox.Event) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	evt.AggregateID = appt.ID

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, business_id, professional_id, client_id, service_id, start_time, end_time, status, urgent, price, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, appt.ID, appt.BusinessID, appt.ProfessionalID, appt.ClientID, appt.ServiceID,
		appt.StartTime, appt.EndTime, appt.Status, appt.Urgent, appt.Price, appt.Comment,
	).Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		if isExclusion(err) {
			return ErrOverlap
		}
		return err
	}

	if err := r.events.Insert(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) Get(ctx context.Context, businessID, appointmentID string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND business_id = $2
	`, appointmentID, businessID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, ErrNotFound
	}
	return appt, err
}

// SetStatus moves the appointment from the expected status to the next one,
// compare-and-set style, and records the event.
func (r *AppointmentRepository) SetStatus(ctx context.Context, appointmentID string, from, to lifecycle.Status, evt outbox.Event) (model.Appointment, error) {
	return r.mutate(ctx, appointmentID, from, evt, `
		UPDATE appointments
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING`+appointmentColumns, to)
}

func (r *AppointmentRepository) Cancel(ctx context.Context, appointmentID string, from lifecycle.Status, reason, cancelledBy string, feePercent int, evt outbox.Event) (model.Appointment, error) {
	return r.mutate(ctx, appointmentID, from, evt, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancel_reason = $3,
			cancelled_by = $4,
			cancel_fee_percent = $5,
			updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING`+appointmentColumns, reason, cancelledBy, feePercent)
}

func (r *AppointmentRepository) Complete(ctx context.Context, appointmentID string, from lifecycle.Status, notes string, evt outbox.Event) (model.Appointment, error) {
	return r.mutate(ctx, appointmentID, from, evt, `
		UPDATE appointments
		SET status = 'completed',
			completion_notes = $3,
			updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING`+appointmentColumns, notes)
}

func (r *AppointmentRepository) MarkNoShow(ctx context.Context, appointmentID string, from lifecycle.Status, evt outbox.Event) (model.Appointment, error) {
	return r.mutate(ctx, appointmentID, from, evt, `
		UPDATE appointments
		SET status = 'no_show', updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING`+appointmentColumns)
}

// Reschedule moves the appointment to the new interval and resets it to
// pending. The exclusion constraint guards the new interval the same way
// Create is guarded.
func (r *AppointmentRepository) Reschedule(ctx context.Context, appointmentID string, from lifecycle.Status, newStart, newEnd time.Time, feePercent int, evt outbox.Event) (model.Appointment, error) {
	return r.mutate(ctx, appointmentID, from, evt, `
		UPDATE appointments
		SET start_time = $3,
			end_time = $4,
			status = 'pending',
			cancel_fee_percent = $5,
			reminder_sent_at = NULL,
			updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING`+appointmentColumns, newStart, newEnd, feePercent)
}

func (r *AppointmentRepository) mutate(ctx context.Context, appointmentID string, from lifecycle.Status, evt outbox.Event, query string, args ...any) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	allArgs := append([]any{appointmentID, from}, args...)
	appt, err := scanAppointment(tx.QueryRow(ctx, query, allArgs...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the row is gone or its status moved under us.
			if exists, exErr := r.exists(ctx, tx, appointmentID); exErr == nil && exists {
				return model.Appointment{}, ErrStale
			}
			return model.Appointment{}, ErrNotFound
		}
		if isExclusion(err) {
			return model.Appointment{}, ErrOverlap
		}
		return model.Appointment{}, err
	}

	evt.AggregateID = appt.ID
	if err := r.events.Insert(ctx, tx, evt); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) exists(ctx context.Context, tx pgx.Tx, appointmentID string) (bool, error) {
	var ok bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, appointmentID).Scan(&ok)
	return ok, err
}

// ListBookedIntervals returns the active intervals for one professional in
// [from, to); the availability calculator and the reservation guard both
// read it.
func (r *AppointmentRepository) ListBookedIntervals(ctx context.Context, professionalID string, from, to time.Time) ([]availability.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, start_time, end_time
		FROM appointments
		WHERE professional_id = $1
			AND status IN ('pending', 'confirmed', 'in_progress')
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.ID, &iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *AppointmentRepository) ListByProfessional(ctx context.Context, businessID, professionalID string, from, to time.Time, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND professional_id = $2
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
		LIMIT $5
	`, businessID, professionalID, from, to, limit)
}

func (r *AppointmentRepository) ListByClient(ctx context.Context, businessID, clientID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1 AND client_id = $2
		ORDER BY start_time DESC
		LIMIT $3
	`, businessID, clientID, limit)
}

func (r *AppointmentRepository) list(ctx context.Context, query string, args ...any) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func isExclusion(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}
