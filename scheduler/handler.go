package scheduler

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Handler exposes the schedule and its history over HTTP.
type Handler struct {
	scheduler *Scheduler
}

// NewHandler creates a new scheduler HTTP handler.
func NewHandler(scheduler *Scheduler) *Handler {
	return &Handler{scheduler: scheduler}
}

// RegisterRoutes registers the cycle routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/cycles", h.history)
	mux.HandleFunc("POST /api/cycles/run", h.run)
	mux.HandleFunc("GET /api/schedule", h.status)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	recs := h.scheduler.History()
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 && n < len(recs) {
			recs = recs[:n]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": recs, "total": len(recs)})
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	rec := h.scheduler.ExecuteNow(r.Context())
	status := http.StatusOK
	switch rec.Status {
	case ExecStatusSkipped:
		status = http.StatusConflict
	case ExecStatusFailed, ExecStatusDiscarded:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, rec)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
