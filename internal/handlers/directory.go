package handlers

import (
	"net/http"
	"strings"
	"time"
)

type serviceItem struct {
	ServiceID       string `json:"service_id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Price           string `json:"price"`
	Description     string `json:"description,omitempty"`
}

type breakItem struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

type scheduleDayItem struct {
	Weekday     string      `json:"weekday"`
	Open        bool        `json:"open"`
	OpenMinute  int         `json:"open_minute,omitempty"`
	CloseMinute int         `json:"close_minute,omitempty"`
	Breaks      []breakItem `json:"breaks,omitempty"`
}

type blockedItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason,omitempty"`
	Recurring bool   `json:"recurring,omitempty"`
}

// Services lists the bookable service catalog for the caller's business.
func (h *Handler) Services(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	services, err := h.dir.ListServices(r.Context(), caller.BusinessID)
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	items := make([]serviceItem, 0, len(services))
	for _, s := range services {
		items = append(items, serviceItem{
			ServiceID:       s.ID,
			Name:            s.Name,
			DurationMinutes: s.DurationMinutes,
			Price:           s.Price,
			Description:     s.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": items})
}

// Schedule returns a professional's weekly hours and upcoming blocked
// periods, so operators can verify what the engine sees. Staff only.
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	if !caller.Staff() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	professionalID := strings.TrimSpace(r.URL.Query().Get("professional_id"))
	if professionalID == "" {
		http.Error(w, "missing professional_id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := h.dir.GetProfessional(ctx, caller.BusinessID, professionalID); err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	ws, err := h.dir.GetSchedule(ctx, professionalID)
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	now := time.Now().UTC()
	blocked, err := h.dir.GetBlockedPeriods(ctx, professionalID, now, now.AddDate(0, 0, 30))
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}

	days := make([]scheduleDayItem, 0, 7)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		day := ws.Day(wd)
		item := scheduleDayItem{Weekday: strings.ToLower(wd.String()), Open: day.Open}
		if day.Open {
			item.OpenMinute = day.OpenMinute
			item.CloseMinute = day.CloseMinute
			for _, b := range day.Breaks {
				item.Breaks = append(item.Breaks, breakItem{StartMinute: b.StartMinute, EndMinute: b.EndMinute})
			}
		}
		days = append(days, item)
	}
	blockedItems := make([]blockedItem, 0, len(blocked))
	for _, b := range blocked {
		blockedItems = append(blockedItems, blockedItem{
			StartTime: b.Start.UTC().Format(time.RFC3339),
			EndTime:   b.End.UTC().Format(time.RFC3339),
			Reason:    b.Reason,
			Recurring: b.Recurring,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"professional_id": professionalID,
		"days":            days,
		"blocked_periods": blockedItems,
	})
}
