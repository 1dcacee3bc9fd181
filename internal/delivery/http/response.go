// Package http binds the application services to their JSON endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/paperscroll/backend/internal/domain"
	"github.com/paperscroll/backend/internal/logging"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Default().Error("failed to encode response", "err", err)
	}
}

type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// writeError maps error kinds onto HTTP statuses. Unknown errors become an
// opaque 500 with a correlation id; the details stay in the logs.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Message})
		return
	}

	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "not authenticated"})
		return
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "operation not allowed"})
		return
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
		return
	case errors.Is(err, domain.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "already exists"})
		return
	}

	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		switch {
		case ue.RateLimited():
			if ue.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(ue.RetryAfter))
			}
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "upstream rate limited, try later"})
		case ue.Timeout():
			writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "upstream timed out"})
		default:
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "upstream failure"})
		}
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "request timed out"})
		return
	}

	correlationID := uuid.NewString()
	logging.FromContext(r.Context()).Error("internal error", "correlationId", correlationID, "err", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error:         "internal error",
		CorrelationID: correlationID,
	})
}

// queryInt parses an optional integer query parameter, enforcing an
// inclusive range. ok=false means the response has already been written.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def, min, max int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		writeError(w, r, domain.Validationf("%s must be an integer between %d and %d", name, min, max))
		return 0, false
	}
	return v, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, domain.Validationf("invalid request body"))
		return false
	}
	return true
}

type statusResponse struct {
	Status string `json:"status"`
}

var statusOK = statusResponse{Status: "ok"}
