package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/modules/alerts"
)

// defaultNotificationLimit bounds the notifications listing.
const defaultNotificationLimit = 50

// AlertHandlers exposes alert CRUD and the notification feed.
type AlertHandlers struct {
	service *alerts.Service
	log     zerolog.Logger
}

// NewAlertHandlers creates the alert handlers.
func NewAlertHandlers(service *alerts.Service, log zerolog.Logger) *AlertHandlers {
	return &AlertHandlers{
		service: service,
		log:     log.With().Str("component", "alert_handlers").Logger(),
	}
}

// RegisterRoutes mounts the alert routes on the API router.
func (h *AlertHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.HandleListAlerts)
		r.Post("/", h.HandleCreateAlert)
		r.Get("/{id}", h.HandleGetAlert)
		r.Delete("/{id}", h.HandleDeleteAlert)
	})
	r.Get("/notifications", h.HandleListNotifications)
}

// HandleListAlerts returns a user's alerts, newest first.
func (h *AlertHandlers) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	userID := userParam(r)

	list, err := h.service.ListAlerts(userID)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list alerts"})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": list})
}

// HandleCreateAlert validates and persists a new alert definition.
func (h *AlertHandlers) HandleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var alert alerts.Alert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if alert.UserID == "" {
		alert.UserID = userParam(r)
	}

	if err := h.service.CreateAlert(&alert); err != nil {
		if domain.IsValidation(err) {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("Alert creation failed")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create alert"})
		return
	}

	h.writeJSON(w, http.StatusCreated, alert)
}

// HandleGetAlert returns one alert definition.
func (h *AlertHandlers) HandleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	alert, err := h.service.GetAlert(id)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read alert"})
		return
	}
	if alert == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "alert not found"})
		return
	}

	h.writeJSON(w, http.StatusOK, alert)
}

// HandleDeleteAlert removes an alert definition.
func (h *AlertHandlers) HandleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.DeleteAlert(id); err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete alert"})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// HandleListNotifications returns a user's in-app notifications, newest
// first.
func (h *AlertHandlers) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := userParam(r)

	limit := defaultNotificationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	list, err := h.service.Notifications(userID, limit)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list notifications"})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": list})
}

// userParam reads the user id query parameter. Single-operator deployments
// run everything as the default user.
func userParam(r *http.Request) string {
	if u := r.URL.Query().Get("user_id"); u != "" {
		return u
	}
	return "default"
}

func (h *AlertHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
