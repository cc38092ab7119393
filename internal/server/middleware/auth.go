package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/smartclin/smart-app-clinic-sub000/internal/gate"
	"github.com/smartclin/smart-app-clinic-sub000/internal/model"
)

// Require returns an HTTP middleware that enforces rule through g before the
// wrapped handler runs. Denials are answered with the JSON error envelope;
// on success the principal is attached to the request context and can be
// read with gate.PrincipalFromContext.
func Require(g *gate.Gate, rule gate.Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.Enforce(r.Context(), gate.SurfaceHTTP, rule)
			if !d.Authorized() {
				WriteDenial(w, d.Denial)
				return
			}
			next.ServeHTTP(w, r.WithContext(d.Ctx))
		})
	}
}

// RequireAuthenticated denies anonymous callers with 401.
func RequireAuthenticated(g *gate.Gate) func(http.Handler) http.Handler {
	return Require(g, gate.Requirement{Authenticated: true}.MustCompile())
}

// RequireRole denies callers that do not hold role. It panics when role is
// not a known role so a misdeclared route fails at startup.
func RequireRole(g *gate.Gate, role string) func(http.Handler) http.Handler {
	return Require(g, gate.Requirement{Roles: []string{role}}.MustCompile())
}

// RequirePermission denies callers whose roles do not grant statement,
// e.g. "user:list".
func RequirePermission(g *gate.Gate, statement string) func(http.Handler) http.Handler {
	return Require(g, gate.Requirement{Permission: statement}.MustCompile())
}

// WriteDenial writes d as a JSON error envelope with the matching status.
func WriteDenial(w http.ResponseWriter, d *gate.Denial) {
	status := d.HTTPStatus()
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="smartclin"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Kind: string(d.Kind), Message: d.Reason},
	})
}
