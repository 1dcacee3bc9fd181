package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/paperscroll/backend/internal/logging"
)

// RequestLogger emits one structured line per request and seeds the request
// context with a logger carrying the request id.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		logger := logging.FromContext(r.Context())
		if reqID := chimw.GetReqID(r.Context()); reqID != "" {
			logger = logger.With("requestID", reqID)
		}
		ctx := logging.Into(r.Context(), logger)

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}
