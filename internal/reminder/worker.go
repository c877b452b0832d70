// Package reminder emits booking.reminder.due.v1 events for appointments
// approaching their start time. Due rows are claimed with FOR UPDATE SKIP
// LOCKED, so running several instances is safe; each appointment gets at
// most one reminder.
package reminder

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bookline/bookline/internal/outbox"
)

// Beginner is the transaction entry point; *db.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Worker struct {
	pool      Beginner
	events    *outbox.Repository
	logger    *slog.Logger
	interval  time.Duration
	lead      time.Duration
	batchSize int
}

type WorkerConfig struct {
	// Interval is the poll cadence; Lead is how far before the start time a
	// reminder becomes due.
	Interval  time.Duration
	Lead      time.Duration
	BatchSize int
}

func NewWorker(pool Beginner, events *outbox.Repository, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Lead <= 0 {
		cfg.Lead = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Worker{
		pool:      pool,
		events:    events,
		logger:    logger,
		interval:  cfg.Interval,
		lead:      cfg.Lead,
		batchSize: cfg.BatchSize,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("reminder batch failed", "err", err)
			}
		}
	}
}

type dueAppointment struct {
	ID             string
	BusinessID     string
	ProfessionalID string
	ClientID       string
	ServiceID      string
	StartTime      time.Time
	EndTime        time.Time
	Status         string
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	due, err := w.fetchDue(ctx, tx)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return tx.Commit(ctx)
	}

	var ids []string
	for _, appt := range due {
		payload, err := json.Marshal(map[string]any{
			"appointment_id":  appt.ID,
			"business_id":     appt.BusinessID,
			"professional_id": appt.ProfessionalID,
			"client_id":       appt.ClientID,
			"service_id":      appt.ServiceID,
			"start_time":      appt.StartTime.UTC().Format(time.RFC3339),
			"end_time":        appt.EndTime.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		if err := w.events.Insert(ctx, tx, outbox.Event{
			AggregateType: "appointment",
			AggregateID:   appt.ID,
			EventType:     outbox.TopicReminderDue,
			Payload:       payload,
		}); err != nil {
			return err
		}
		ids = append(ids, appt.ID)
	}

	if err := w.markSent(ctx, tx, ids); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	w.logger.Info("reminders queued", "count", len(ids))
	return nil
}

func (w *Worker) fetchDue(ctx context.Context, tx pgx.Tx) ([]dueAppointment, error) {
	rows, err := tx.Query(ctx, `
		SELECT id::text, business_id::text, professional_id::text, client_id::text, service_id::text,
			start_time, end_time, status
		FROM appointments
		WHERE status IN ('pending', 'confirmed')
			AND reminder_sent_at IS NULL
			AND start_time > now()
			AND start_time <= now() + $1
		ORDER BY start_time
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, w.lead, w.batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []dueAppointment
	for rows.Next() {
		var a dueAppointment
		if err := rows.Scan(&a.ID, &a.BusinessID, &a.ProfessionalID, &a.ClientID, &a.ServiceID, &a.StartTime, &a.EndTime, &a.Status); err != nil {
			return nil, err
		}
		due = append(due, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return due, nil
}

func (w *Worker) markSent(ctx context.Context, tx pgx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}
