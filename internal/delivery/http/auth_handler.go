package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/paperscroll/backend/internal/domain"
	"github.com/paperscroll/backend/internal/logging"
	"github.com/paperscroll/backend/internal/middleware"
	"github.com/paperscroll/backend/internal/usecase"
)

const stateCookie = "oauth_state"

// AuthHandler drives the OAuth code flow and the session endpoints.
type AuthHandler struct {
	auth        *usecase.AuthUsecase
	frontendURL string
	secure      bool
}

func NewAuthHandler(auth *usecase.AuthUsecase, baseURL, frontendURL string) *AuthHandler {
	return &AuthHandler{
		auth:        auth,
		frontendURL: frontendURL,
		secure:      strings.HasPrefix(baseURL, "https://"),
	}
}

// Login redirects to the identity provider with a fresh state value.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state := h.auth.NewState()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/api/auth",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.auth.AuthorizeURL(state), http.StatusFound)
}

// Callback finishes the code flow: state check, token exchange, user
// upsert, session cookie, redirect to the SPA.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != query.Get("state") {
		writeError(w, r, domain.Validationf("state mismatch"))
		return
	}
	h.clearCookie(w, stateCookie, "/api/auth")

	user, err := h.auth.HandleCallback(r.Context(), query.Get("code"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.auth.IssueSession(user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    session,
		Path:     "/",
		MaxAge:   int(h.auth.SessionMaxAge().Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	logging.FromContext(r.Context()).Info("user logged in", "userID", user.ID)
	http.Redirect(w, r, h.frontendURL, http.StatusFound)
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.clearCookie(w, middleware.SessionCookie, "/")
	http.Redirect(w, r, h.frontendURL, http.StatusFound)
}

type authStatusResponse struct {
	Authenticated bool         `json:"authenticated"`
	User          *domain.User `json:"user,omitempty"`
}

// Status reports whether the request carries a valid session.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	user := h.sessionUser(r)
	writeJSON(w, http.StatusOK, authStatusResponse{
		Authenticated: user != nil,
		User:          user,
	})
}

// Me returns the current user, or null when anonymous.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessionUser(r))
}

func (h *AuthHandler) sessionUser(r *http.Request) *domain.User {
	cookie, err := r.Cookie(middleware.SessionCookie)
	if err != nil || cookie.Value == "" {
		return nil
	}
	userID, err := h.auth.VerifySession(cookie.Value)
	if err != nil {
		return nil
	}
	user, err := h.auth.CurrentUser(r.Context(), userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logging.FromContext(r.Context()).Warn("failed to load session user", "userID", userID, "err", err)
		}
		return nil
	}
	return user
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
