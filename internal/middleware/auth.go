// Package middleware holds the HTTP middleware shared by all routes.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/paperscroll/backend/internal/logging"
)

// SessionCookie is the name of the cookie carrying the signed session.
const SessionCookie = "paperscroll_session"

type contextKey int

const userIDKey contextKey = iota

// SessionVerifier validates a session token and returns the principal's
// user id.
type SessionVerifier interface {
	VerifySession(token string) (string, error)
}

// Auth rejects requests without a valid session cookie and stores the
// principal in the request context.
func Auth(verifier SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookie)
			if err != nil || cookie.Value == "" {
				unauthorized(w)
				return
			}
			userID, err := verifier.VerifySession(cookie.Value)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = logging.Into(ctx, logging.FromContext(ctx).With("userID", userID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID extracts the authenticated principal set by Auth.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "not authenticated"})
}
