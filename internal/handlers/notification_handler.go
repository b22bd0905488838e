package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Dias221467/Vehicle_Marketplace/internal/models"
	"github.com/Dias221467/Vehicle_Marketplace/internal/services"
	"github.com/Dias221467/Vehicle_Marketplace/pkg/logger"
	"github.com/Dias221467/Vehicle_Marketplace/pkg/middleware"
	"github.com/gorilla/mux"
)

// NotificationHandler serves the notification list of the caller's session.
type NotificationHandler struct {
	now func() time.Time
}

func NewNotificationHandler() *NotificationHandler {
	return &NotificationHandler{now: time.Now}
}

// GET /notifications?type=
func (h *NotificationHandler) GetNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	session := sessionOrAbort(w, r)
	if session == nil {
		return
	}

	if t := r.URL.Query().Get("type"); t != "" {
		typ := models.NotificationType(t)
		if !typ.Valid() {
			http.Error(w, "Invalid notification type", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, session.Manager().GetByType(typ))
		return
	}

	writeJSON(w, http.StatusOK, session.Manager().Snapshot())
}

// POST /notifications/{id}/dismiss
func (h *NotificationHandler) DismissHandler(w http.ResponseWriter, r *http.Request) {
	session := sessionOrAbort(w, r)
	if session == nil {
		return
	}

	id := mux.Vars(r)["id"]
	if err := session.Manager().Dismiss(r.Context(), id); err != nil {
		writeServiceError(w, err, "Failed to dismiss notification")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Notification dismissed"})
}

// POST /notifications/dismiss-all?type=
func (h *NotificationHandler) DismissAllHandler(w http.ResponseWriter, r *http.Request) {
	session := sessionOrAbort(w, r)
	if session == nil {
		return
	}

	typ := models.NotificationType(r.URL.Query().Get("type"))
	if !typ.Valid() {
		http.Error(w, "Invalid notification type", http.StatusBadRequest)
		return
	}

	count, err := session.Manager().DismissAll(r.Context(), typ)
	if err != nil {
		writeServiceError(w, err, "Failed to dismiss notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"dismissed": count})
}

// POST /notifications/{id}/click
func (h *NotificationHandler) ClickHandler(w http.ResponseWriter, r *http.Request) {
	session := sessionOrAbort(w, r)
	if session == nil {
		return
	}

	action, err := session.Manager().HandleClick(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err, "Failed to open notification")
		return
	}
	writeJSON(w, http.StatusOK, action)
}

// POST /badges/{type}/click
func (h *NotificationHandler) BadgeClickHandler(w http.ResponseWriter, r *http.Request) {
	session := sessionOrAbort(w, r)
	if session == nil {
		return
	}

	route, err := session.Manager().HandleBadgeClick(models.NotificationType(mux.Vars(r)["type"]))
	if err != nil {
		http.Error(w, "Invalid notification type", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

// GET /notifications/{id}/reminder
func (h *NotificationHandler) ReminderHandler(w http.ResponseWriter, r *http.Request) {
	session := sessionOrAbort(w, r)
	if session == nil {
		return
	}

	n, ok := session.Manager().Find(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Notification not found", http.StatusNotFound)
		return
	}
	text, err := services.ReminderText(n, h.now())
	if err != nil {
		writeServiceError(w, err, "Failed to build reminder")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func sessionOrAbort(w http.ResponseWriter, r *http.Request) *services.Session {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
	return session
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Errorf("Failed to encode response: %v", err)
	}
}

// writeServiceError maps service sentinels to status codes.
func writeServiceError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, services.ErrUnknownNotification):
		http.Error(w, "Notification not found", http.StatusNotFound)
	case errors.Is(err, services.ErrNotDismissible):
		http.Error(w, "Payment alerts cannot be dismissed", http.StatusConflict)
	case errors.Is(err, services.ErrNoReminder):
		http.Error(w, "Notification has no payment reminder", http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrSessionClosed):
		http.Error(w, "Session closed", http.StatusGone)
	default:
		logger.Log.Errorf("%s: %v", msg, err)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}
