package warning

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the warning service over HTTP
type Handler struct {
	service Service
}

// NewHandler creates a new warning HTTP handler
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the warning endpoints on the router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/listener/warnings", h.handleList)
	r.Get("/listener/warnings/unacknowledged", h.handleListUnacknowledged)
	r.Post("/listener/warnings/{id}/acknowledge", h.handleAcknowledge)
	r.Delete("/listener/warnings", h.handleClear)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GetAllWarnings())
}

func (h *Handler) handleListUnacknowledged(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GetUnacknowledgedWarnings())
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.service.AcknowledgeWarning(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "warning not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	h.service.ClearAllWarnings()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
