package handlers

import (
	"github.com/Dias221467/Vehicle_Marketplace/internal/services"
	"github.com/Dias221467/Vehicle_Marketplace/pkg/middleware"
	"github.com/gorilla/mux"
)

// NewRouter wires every HTTP route of the notification core.
func NewRouter(sessions *services.SessionManager, jwtSecret string, allowedOrigins []string) *mux.Router {
	notificationHandler := NewNotificationHandler()
	preferencesHandler := NewPreferencesHandler()
	sessionHandler := NewSessionHandler(sessions, jwtSecret, allowedOrigins)

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)

	// authenticates with ?token=
	router.HandleFunc("/ws/notifications", sessionHandler.NotificationsWebSocketHandler).Methods("GET")

	// no session middleware: logout must not open a session
	authOnly := router.PathPrefix("/session").Subrouter()
	authOnly.Use(middleware.AuthMiddleware(jwtSecret))
	authOnly.HandleFunc("/logout", sessionHandler.LogoutHandler).Methods("POST")

	withSession := func(prefix string) *mux.Router {
		sub := router.PathPrefix(prefix).Subrouter()
		sub.Use(middleware.AuthMiddleware(jwtSecret))
		sub.Use(middleware.SessionMiddleware(sessions))
		return sub
	}

	notificationRoutes := withSession("/notifications")
	notificationRoutes.HandleFunc("", notificationHandler.GetNotificationsHandler).Methods("GET")
	notificationRoutes.HandleFunc("/dismiss-all", notificationHandler.DismissAllHandler).Methods("POST")
	notificationRoutes.HandleFunc("/{id}/dismiss", notificationHandler.DismissHandler).Methods("POST")
	notificationRoutes.HandleFunc("/{id}/click", notificationHandler.ClickHandler).Methods("POST")
	notificationRoutes.HandleFunc("/{id}/reminder", notificationHandler.ReminderHandler).Methods("GET")

	badgeRoutes := withSession("/badges")
	badgeRoutes.HandleFunc("/{type}/click", notificationHandler.BadgeClickHandler).Methods("POST")

	preferenceRoutes := withSession("/preferences")
	preferenceRoutes.HandleFunc("", preferencesHandler.GetPreferencesHandler).Methods("GET")
	preferenceRoutes.HandleFunc("", preferencesHandler.UpdatePreferencesHandler).Methods("PATCH")

	adminRoutes := router.PathPrefix("/admin").Subrouter()
	adminRoutes.Use(middleware.AuthMiddleware(jwtSecret))
	adminRoutes.Use(middleware.RequireRole("admin"))
	adminRoutes.Use(middleware.SessionMiddleware(sessions))
	adminRoutes.HandleFunc("/dismissed", preferencesHandler.ClearDismissedHandler).Methods("DELETE")
	adminRoutes.HandleFunc("/activity", preferencesHandler.GetActivityHandler).Methods("GET")

	return router
}
