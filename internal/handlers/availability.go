package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Price     string `json:"price,omitempty"`
	Occupied  bool   `json:"occupied,omitempty"`
}

type dayItem struct {
	Date   string     `json:"date"`
	Reason string     `json:"reason,omitempty"`
	Slots  []slotItem `json:"slots"`
}

// Availability returns the day-by-day slot lists for one professional and
// service. Dates are YYYY-MM-DD; to defaults to from.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
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
	serviceID := strings.TrimSpace(q.Get("service_id"))
	if professionalID == "" || serviceID == "" {
		http.Error(w, "missing professional_id or service_id", http.StatusBadRequest)
		return
	}
	from, to, err := parseDateRange(q.Get("from"), q.Get("to"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	days, err := h.svc.GetAvailability(r.Context(), caller, caller.BusinessID, professionalID, serviceID, from, to)
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}

	out := make([]dayItem, 0, len(days))
	for _, day := range days {
		item := dayItem{Date: day.Date.Format("2006-01-02"), Reason: day.Reason, Slots: []slotItem{}}
		for _, slot := range day.Slots {
			item.Slots = append(item.Slots, slotItem{
				StartTime: slot.Start.UTC().Format(time.RFC3339),
				EndTime:   slot.Start.Add(slot.Duration).UTC().Format(time.RFC3339),
				Price:     slot.Price,
				Occupied:  slot.Occupied,
			})
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": out})
}

func parseDateRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	fromRaw = strings.TrimSpace(fromRaw)
	if fromRaw == "" {
		return time.Time{}, time.Time{}, errors.New("missing from date")
	}
	from, err := time.Parse("2006-01-02", fromRaw)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid from date")
	}
	toRaw = strings.TrimSpace(toRaw)
	if toRaw == "" {
		return from, from, nil
	}
	to, err := time.Parse("2006-01-02", toRaw)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid to date")
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("to date before from date")
	}
	return from, to, nil
}
