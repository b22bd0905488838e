package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/Dias221467/Vehicle_Marketplace/internal/models"
	"github.com/Dias221467/Vehicle_Marketplace/internal/services"
	jwtutil "github.com/Dias221467/Vehicle_Marketplace/pkg/jwt"
	"github.com/sirupsen/logrus"
)

const sessionContextKey contextKey = "session"

// IdentityFromClaims maps verified token claims to the identity the
// notification core works with.
func IdentityFromClaims(claims *jwtutil.Claims) models.Identity {
	return models.Identity{
		UserID:  claims.UserID,
		Email:   claims.Email,
		IsAdmin: claims.IsAdmin(),
	}
}

// SessionMiddleware makes sure the caller has an initialized notification
// session and stores it in the request context. Must run after
// AuthMiddleware.
func SessionMiddleware(sessions *services.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r.Context())
			if claims == nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			session, err := sessions.Get(r.Context(), IdentityFromClaims(claims))
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logrus.WithFields(logrus.Fields{
					"userID": claims.UserID,
					"error":  err,
				}).Error("Failed to start notification session")
				http.Error(w, "Session unavailable", http.StatusServiceUnavailable)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s *services.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// GetSessionFromContext returns the caller's session or nil.
func GetSessionFromContext(ctx context.Context) *services.Session {
	s, _ := ctx.Value(sessionContextKey).(*services.Session)
	return s
}
