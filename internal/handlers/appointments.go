package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bookline/bookline/internal/model"
	"github.com/bookline/bookline/internal/scheduling"
)

type bookRequest struct {
	ProfessionalID string `json:"professional_id"`
	ClientID       string `json:"client_id"`
	ServiceID      string `json:"service_id"`
	StartTime      string `json:"start_time"`
	Urgent         bool   `json:"urgent"`
	Comment        string `json:"comment"`
}

// Appointments handles POST (book) and GET (fetch by id) on the collection.
func (h *Handler) Appointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.book(w, r)
	case http.MethodGet:
		h.get(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) book(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ProfessionalID = strings.TrimSpace(req.ProfessionalID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.ProfessionalID == "" || req.ServiceID == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" && h.idem != nil {
		if h.bookIdempotent(w, r, caller.BusinessID, idempotencyKey, func() (model.Appointment, error) {
			return h.svc.Book(ctx, caller, toBookRequest(caller.BusinessID, req, start))
		}) {
			return
		}
	}

	appt, err := h.svc.Book(ctx, caller, toBookRequest(caller.BusinessID, req, start))
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(appt))
}

func toBookRequest(businessID string, req bookRequest, start time.Time) scheduling.BookRequest {
	return scheduling.BookRequest{
		BusinessID:     businessID,
		ProfessionalID: req.ProfessionalID,
		ClientID:       strings.TrimSpace(req.ClientID),
		ServiceID:      req.ServiceID,
		StartTime:      start,
		Urgent:         req.Urgent,
		Comment:        strings.TrimSpace(req.Comment),
	}
}

// bookIdempotent replays a stored response for a reused Idempotency-Key, or
// records the fresh outcome under the key. Returns true when it wrote the
// response.
func (h *Handler) bookIdempotent(w http.ResponseWriter, r *http.Request, businessID, key string, book func() (model.Appointment, error)) bool {
	ctx := r.Context()
	tx, err := h.idem.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return true
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, exists, err := h.idem.Lock(ctx, tx, businessID, key)
	if err != nil {
		http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
		return true
	}
	if exists && rec.StatusCode > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rec.StatusCode)
		_, _ = w.Write(rec.ResponsePayload)
		return true
	}

	appt, err := book()
	if err != nil {
		// Leave the key unfinalized so the client may retry with it.
		h.writeSchedulingError(w, err)
		return true
	}

	body, err := json.Marshal(toResponse(appt))
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return true
	}
	if err := h.idem.Finalize(ctx, tx, businessID, key, appt.ID, http.StatusCreated, body); err != nil {
		http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
		return true
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return true
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
	return true
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	appt, err := h.svc.Get(r.Context(), caller, caller.BusinessID, id)
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

type transitionRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
	Notes         string `json:"notes"`
	NewStartTime  string `json:"new_start_time"`
}

func (h *Handler) decodeTransition(w http.ResponseWriter, r *http.Request) (transitionRequest, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return transitionRequest{}, false
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return transitionRequest{}, false
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "missing appointment_id", http.StatusBadRequest)
		return transitionRequest{}, false
	}
	return req, true
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	appt, err := h.svc.Confirm(r.Context(), caller, caller.BusinessID, req.AppointmentID)
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	appt, err := h.svc.Start(r.Context(), caller, caller.BusinessID, req.AppointmentID)
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	appt, err := h.svc.Complete(r.Context(), caller, caller.BusinessID, req.AppointmentID, strings.TrimSpace(req.Notes))
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *Handler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	appt, err := h.svc.MarkNoShow(r.Context(), caller, caller.BusinessID, req.AppointmentID)
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	appt, err := h.svc.Cancel(r.Context(), caller, caller.BusinessID, req.AppointmentID, strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	newStart, err := time.Parse(time.RFC3339, req.NewStartTime)
	if err != nil {
		http.Error(w, "invalid new_start_time", http.StatusBadRequest)
		return
	}
	appt, err := h.svc.Reschedule(r.Context(), caller, caller.BusinessID, req.AppointmentID, newStart)
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *Handler) ListForClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	appts, err := h.svc.ListForClient(r.Context(), caller, caller.BusinessID, strings.TrimSpace(q.Get("client_id")), limit)
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": toResponses(appts)})
}

func (h *Handler) ListForProfessional(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	professionalID := strings.TrimSpace(q.Get("professional_id"))
	if professionalID == "" {
		http.Error(w, "missing professional_id", http.StatusBadRequest)
		return
	}
	from, to, err := parseDateRange(q.Get("from"), q.Get("to"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	appts, err := h.svc.ListForProfessional(r.Context(), caller, caller.BusinessID, professionalID, from, to.AddDate(0, 0, 1), limit)
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": toResponses(appts)})
}
