package handler

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smartclin/smart-app-clinic-sub000/internal/authz"
	"github.com/smartclin/smart-app-clinic-sub000/internal/gate"
	"github.com/smartclin/smart-app-clinic-sub000/internal/model"
	"github.com/smartclin/smart-app-clinic-sub000/internal/service"
	"github.com/smartclin/smart-app-clinic-sub000/internal/session"
	"github.com/smartclin/smart-app-clinic-sub000/internal/ui"
)

// PageHandler serves the server-rendered pages behind the route policy.
type PageHandler struct {
	pages    *ui.Pages
	gate     *gate.Gate
	policy   *gate.Policy
	resolver *session.Resolver
	auth     *service.AuthService
	logger   *slog.Logger
}

// NewPageHandler creates a PageHandler.
func NewPageHandler(pages *ui.Pages, g *gate.Gate, policy *gate.Policy, resolver *session.Resolver, auth *service.AuthService, logger *slog.Logger) *PageHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PageHandler{pages: pages, gate: g, policy: policy, resolver: resolver, auth: auth, logger: logger}
}

type pageData struct {
	User          *model.Identity
	Roles         []string
	Landing       string
	Impersonating bool
	Section       string
	Permissions   []authz.Statement
	Error         string
	Callback      string
	Identities    []model.Identity
	Total         int64
}

// Gate consults the route policy once per page request. Anonymous callers
// of protected pages are sent to sign-in with the original path as
// callbackUrl, authenticated callers of the sign-in pages are sent to their
// dashboard, and callers lacking a role see the access-denied page.
func (h *PageHandler) Gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pd := h.gate.Page(r.Context(), h.policy, r.URL.Path, r.URL.RawQuery)
		switch pd.Outcome {
		case gate.PageRedirectSignIn, gate.PageRedirectAway:
			http.Redirect(w, r, pd.Location, http.StatusFound)
			return
		case gate.PageForbidden:
			data := h.data(pd.Decision.Principal)
			data.Error = "Access denied: " + pd.Decision.Denial.Reason + "."
			h.render(w, http.StatusForbidden, "forbidden", data)
			return
		}
		if res := session.Current(r.Context()); res != nil && res.Refreshed {
			h.resolver.SetCookie(w, res.Token, res.Session.ExpiresAt)
		}
		next.ServeHTTP(w, r.WithContext(pd.Decision.Ctx))
	})
}

// Routes mounts the pages on r. Callers wrap r with Gate.
func (h *PageHandler) Routes(r chi.Router) {
	r.Get("/", h.simple("home"))
	r.Get("/sign-in", h.authPage("sign-in"))
	r.Get("/sign-up", h.authPage("sign-up"))
	for _, section := range []string{"admin", "doctor", "staff", "patient"} {
		r.Get("/"+section, h.dashboard(section))
	}
	r.Get("/patient/registration", h.simple("registration"))
	r.Get("/record/{section}", h.records)
	r.Get("/record/doctors/{id}", h.doctorRecord)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.render(w, http.StatusNotFound, "not-found", h.data(gate.PrincipalFromContext(r.Context())))
	})
}

func (h *PageHandler) data(p *gate.Principal) pageData {
	if p == nil {
		return pageData{}
	}
	return pageData{
		User:          p.Identity,
		Roles:         authz.Names(p.Roles()),
		Landing:       gate.LandingRoute(p.Roles()),
		Impersonating: p.Session.Impersonating(),
		Permissions:   authz.Merged(p.Roles()),
	}
}

func (h *PageHandler) simple(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.render(w, http.StatusOK, name, h.data(gate.PrincipalFromContext(r.Context())))
	}
}

func (h *PageHandler) authPage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := pageData{
			Error:    r.URL.Query().Get("error"),
			Callback: gate.SafeCallback(r.URL.Query().Get("callbackUrl"), ""),
		}
		h.render(w, http.StatusOK, name, data)
	}
}

func (h *PageHandler) dashboard(section string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := h.data(gate.PrincipalFromContext(r.Context()))
		data.Section = section
		h.render(w, http.StatusOK, "dashboard", data)
	}
}

// recordRoles maps a record listing to the role it lists. "users" lists
// every identity.
var recordRoles = map[string]authz.Role{
	"doctors":  authz.RoleDoctor,
	"staffs":   authz.RoleStaff,
	"patients": authz.RolePatient,
}

func (h *PageHandler) records(w http.ResponseWriter, r *http.Request) {
	section := chi.URLParam(r, "section")
	role, filtered := recordRoles[section]
	if !filtered && section != "users" {
		h.render(w, http.StatusNotFound, "not-found", h.data(gate.PrincipalFromContext(r.Context())))
		return
	}

	limit := clampInt(queryInt(r, "limit", defaultPageSize), 1, maxPageSize)
	offset := max(queryInt(r, "offset", 0), 0)
	ids, total, err := h.auth.ListIdentities(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list identities for records page", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if filtered {
		kept := ids[:0]
		for _, id := range ids {
			if id.HasRole(role) {
				kept = append(kept, id)
			}
		}
		ids = kept
	}

	data := h.data(gate.PrincipalFromContext(r.Context()))
	data.Section = section
	data.Identities = ids
	data.Total = total
	h.render(w, http.StatusOK, "records", data)
}

func (h *PageHandler) doctorRecord(w http.ResponseWriter, r *http.Request) {
	data := h.data(gate.PrincipalFromContext(r.Context()))
	id, err := h.auth.GetIdentity(r.Context(), chi.URLParam(r, "id"))
	if err != nil || !id.HasRole(authz.RoleDoctor) {
		h.render(w, http.StatusNotFound, "not-found", data)
		return
	}
	data.Section = "doctor " + id.Name
	data.Identities = []model.Identity{*id}
	data.Total = 1
	h.render(w, http.StatusOK, "records", data)
}

func (h *PageHandler) render(w http.ResponseWriter, status int, name string, data pageData) {
	var buf bytes.Buffer
	if err := h.pages.Render(&buf, name, data); err != nil {
		h.logger.Error("render page", "page", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
