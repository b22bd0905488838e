package handlers

import (
	"net/http"
	"time"

	"github.com/Dias221467/Vehicle_Marketplace/internal/models"
	"github.com/Dias221467/Vehicle_Marketplace/internal/services"
	jwtutil "github.com/Dias221467/Vehicle_Marketplace/pkg/jwt"
	"github.com/Dias221467/Vehicle_Marketplace/pkg/middleware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// WSMessage is a command sent by the client over the notification socket.
type WSMessage struct {
	Type string `json:"type"` // "dismiss", "dismiss_all", "refresh"
	ID   string `json:"id,omitempty"`
	Kind string `json:"kind,omitempty"`
}

// WSEvent is what the server pushes.
type WSEvent struct {
	Type     string             `json:"type"` // "snapshot", "error"
	Snapshot *services.Snapshot `json:"snapshot,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// SessionHandler owns the session lifecycle endpoints.
type SessionHandler struct {
	Sessions  *services.SessionManager
	JWTSecret string
	upgrader  websocket.Upgrader
}

func NewSessionHandler(sessions *services.SessionManager, jwtSecret string, allowedOrigins []string) *SessionHandler {
	return &SessionHandler{
		Sessions:  sessions,
		JWTSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// POST /session/logout
func (h *SessionHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	closed := h.Sessions.Logout(claims.UserID)
	logrus.WithFields(logrus.Fields{
		"userID": claims.UserID,
		"closed": closed,
	}).Info("User signed out")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Signed out"})
}

// GET /ws/notifications?token=
func (h *SessionHandler) NotificationsWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token", http.StatusUnauthorized)
		return
	}
	claims, err := jwtutil.ValidateToken(token, h.JWTSecret)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket auth failed")
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	session, err := h.Sessions.Get(r.Context(), middleware.IdentityFromClaims(claims))
	if err != nil {
		logrus.WithError(err).Error("Failed to start notification session")
		http.Error(w, "Session unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		logrus.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	log := logrus.WithField("userID", claims.UserID)
	log.Info("Notification socket connected")

	// latest snapshot wins; the writer never falls behind the manager
	updates := make(chan services.Snapshot, 1)
	push := func(s services.Snapshot) {
		select {
		case updates <- s:
		default:
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- s:
			default:
			}
		}
	}
	unsubscribe := session.Manager().OnChange(push)
	push(session.Manager().Snapshot())

	errs := make(chan string, 4)
	done := make(chan struct{})
	go h.writeLoop(conn, updates, errs, done, session.Done())

	defer func() {
		unsubscribe()
		close(done)
		conn.Close()
		log.Info("Notification socket disconnected")
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("WebSocket read error")
			}
			return
		}

		var opErr error
		switch msg.Type {
		case "dismiss":
			opErr = session.Manager().Dismiss(r.Context(), msg.ID)
		case "dismiss_all":
			_, opErr = session.Manager().DismissAll(r.Context(), models.NotificationType(msg.Kind))
		case "refresh":
			push(session.Manager().Snapshot())
		default:
			log.WithField("type", msg.Type).Warn("Unknown socket command")
			continue
		}
		if opErr != nil {
			select {
			case errs <- opErr.Error():
			default:
			}
		}
	}
}

// writeLoop is the only writer of conn. When the session ends it sends a
// close frame and closes the connection, which also stops the reader; the
// client reconnects into a fresh session.
func (h *SessionHandler) writeLoop(conn *websocket.Conn, updates <-chan services.Snapshot, errs <-chan string, done, sessionDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(v interface{}) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			logrus.WithError(err).Debug("WebSocket write failed")
			return false
		}
		return true
	}

	for {
		select {
		case <-done:
			return
		case <-sessionDone:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "session ended")
			if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
				logrus.WithError(err).Debug("WebSocket close frame not sent")
			}
			conn.Close()
			return
		case s := <-updates:
			if !write(WSEvent{Type: "snapshot", Snapshot: &s}) {
				return
			}
		case e := <-errs:
			if !write(WSEvent{Type: "error", Error: e}) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
