package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/smartclin/smart-app-clinic-sub000/internal/model"
)

// CredentialLimit returns an HTTP middleware that caps credential exchange
// attempts per client IP and endpoint to requestsPerMinute, so sign-in and
// sign-up are counted separately. A non-positive limit disables it.
func CredentialLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

func tooManyRequests(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    http.StatusTooManyRequests,
			Kind:    "RATE_LIMITED",
			Message: "Too many attempts. Try again in a minute.",
		},
	})
}
