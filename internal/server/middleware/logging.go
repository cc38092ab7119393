package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/smartclin/smart-app-clinic-sub000/internal/session"
)

// Logger returns an HTTP middleware that writes one structured access log
// line per request. When the request resolved a session the identity id is
// included; e-mail addresses and names never reach the log. It must run
// inside the resolver middleware so the session scope is visible.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			switch {
			case ww.status >= 500:
				level = slog.LevelError
			case ww.status >= 400:
				level = slog.LevelWarn
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000.0),
				slog.Int("bytes", ww.bytes),
				slog.String("request_id", GetRequestID(r.Context())),
				slog.String("remote_addr", r.RemoteAddr),
			}
			// Report what is already resolved; never trigger a lookup here.
			state := session.StateFromContext(r.Context())
			attrs = append(attrs, slog.String("session", state.String()))
			if state == session.StateAuthenticated {
				if res := session.Current(r.Context()); res != nil {
					attrs = append(attrs, slog.String("identity_id", res.Identity.ID))
				}
			}
			logger.LogAttrs(r.Context(), level, "request", attrs...)
		})
	}
}

// responseWriter captures the status code and byte count for the access log.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
