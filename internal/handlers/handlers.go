// Package handlers exposes the scheduling engine over JSON HTTP. Each
// handler resolves the caller, delegates to the scheduling service, and maps
// the error taxonomy onto status codes; no business rules live here.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bookline/bookline/internal/availability"
	"github.com/bookline/bookline/internal/directory"
	"github.com/bookline/bookline/internal/identity"
	"github.com/bookline/bookline/internal/lifecycle"
	"github.com/bookline/bookline/internal/model"
	"github.com/bookline/bookline/internal/scheduling"
	"github.com/bookline/bookline/internal/storage"
)

// Scheduler is the slice of the scheduling service the handlers call.
type Scheduler interface {
	GetAvailability(ctx context.Context, caller identity.Caller, businessID, professionalID, serviceID string, from, to time.Time) ([]availability.Day, error)
	Book(ctx context.Context, caller identity.Caller, req scheduling.BookRequest) (model.Appointment, error)
	Confirm(ctx context.Context, caller identity.Caller, businessID, appointmentID string) (model.Appointment, error)
	Start(ctx context.Context, caller identity.Caller, businessID, appointmentID string) (model.Appointment, error)
	Complete(ctx context.Context, caller identity.Caller, businessID, appointmentID, notes string) (model.Appointment, error)
	MarkNoShow(ctx context.Context, caller identity.Caller, businessID, appointmentID string) (model.Appointment, error)
	Cancel(ctx context.Context, caller identity.Caller, businessID, appointmentID, reason string) (model.Appointment, error)
	Reschedule(ctx context.Context, caller identity.Caller, businessID, appointmentID string, newStart time.Time) (model.Appointment, error)
	Get(ctx context.Context, caller identity.Caller, businessID, appointmentID string) (model.Appointment, error)
	ListForProfessional(ctx context.Context, caller identity.Caller, businessID, professionalID string, from, to time.Time, limit int) ([]model.Appointment, error)
	ListForClient(ctx context.Context, caller identity.Caller, businessID, clientID string, limit int) ([]model.Appointment, error)
}

type Handler struct {
	svc      Scheduler
	identity identity.Provider
	idem     *storage.IdempotencyStore
	dir      directory.Provider
	logger   *slog.Logger
}

// New builds the handler set. idem may be nil, which disables
// Idempotency-Key replay on bookings.
func New(svc Scheduler, idp identity.Provider, idem *storage.IdempotencyStore, dir directory.Provider, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, identity: idp, idem: idem, dir: dir, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/availability", h.Availability)
	mux.HandleFunc("/v1/appointments", h.Appointments)
	mux.HandleFunc("/v1/appointments/confirm", h.Confirm)
	mux.HandleFunc("/v1/appointments/start", h.Start)
	mux.HandleFunc("/v1/appointments/complete", h.Complete)
	mux.HandleFunc("/v1/appointments/no-show", h.MarkNoShow)
	mux.HandleFunc("/v1/appointments/cancel", h.Cancel)
	mux.HandleFunc("/v1/appointments/reschedule", h.Reschedule)
	mux.HandleFunc("/v1/appointments/client", h.ListForClient)
	mux.HandleFunc("/v1/appointments/professional", h.ListForProfessional)
	mux.HandleFunc("/v1/directory/services", h.Services)
	mux.HandleFunc("/v1/directory/schedule", h.Schedule)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (identity.Caller, bool) {
	caller, err := h.identity.CallerFromRequest(r)
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return identity.Caller{}, false
	}
	return caller, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeSchedulingError maps the scheduling error taxonomy onto HTTP status
// codes. Anything unmapped is a 500 with a generic body.
func (h *Handler) writeSchedulingError(w http.ResponseWriter, err error) {
	var ite *lifecycle.InvalidTransitionError
	switch {
	case errors.Is(err, identity.ErrUnauthenticated):
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
	case errors.Is(err, scheduling.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, scheduling.ErrNotFound), errors.Is(err, directory.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, scheduling.ErrSlotConflict):
		http.Error(w, "slot already booked", http.StatusConflict)
	case errors.As(err, &ite):
		http.Error(w, ite.Error(), http.StatusConflict)
	case errors.Is(err, scheduling.ErrOutOfWindow):
		http.Error(w, "requested time outside the bookable window", http.StatusUnprocessableEntity)
	case errors.Is(err, scheduling.ErrInvalidSlot):
		http.Error(w, "requested slot is not bookable", http.StatusUnprocessableEntity)
	case errors.Is(err, scheduling.ErrInvalidSchedule):
		http.Error(w, "professional schedule is misconfigured", http.StatusUnprocessableEntity)
	case errors.Is(err, scheduling.ErrCancellationDenied):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, scheduling.ErrBusy):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "slot is being reserved, retry shortly", http.StatusTooManyRequests)
	default:
		h.logger.Error("scheduling operation failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type appointmentResponse struct {
	AppointmentID   string `json:"appointment_id"`
	BusinessID      string `json:"business_id"`
	ProfessionalID  string `json:"professional_id"`
	ClientID        string `json:"client_id"`
	ServiceID       string `json:"service_id"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	Status          string `json:"status"`
	Urgent          bool   `json:"urgent,omitempty"`
	Price           string `json:"price,omitempty"`
	Comment         string `json:"comment,omitempty"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	CancelReason    string `json:"cancel_reason,omitempty"`
	CancelFee       int    `json:"cancel_fee_percent,omitempty"`
	CompletionNotes string `json:"completion_notes,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toResponse(a model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID:   a.ID,
		BusinessID:      a.BusinessID,
		ProfessionalID:  a.ProfessionalID,
		ClientID:        a.ClientID,
		ServiceID:       a.ServiceID,
		StartTime:       a.StartTime.UTC().Format(time.RFC3339),
		EndTime:         a.EndTime.UTC().Format(time.RFC3339),
		Status:          string(a.Status),
		Urgent:          a.Urgent,
		Price:           a.Price,
		Comment:         a.Comment,
		CancelReason:    a.CancelReason,
		CancelFee:       a.CancelFeePercent,
		CompletionNotes: a.CompletionNotes,
		CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.CancelledAt != nil {
		resp.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func toResponses(appts []model.Appointment) []appointmentResponse {
	out := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toResponse(a))
	}
	return out
}
