package handler

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/smartclin/smart-app-clinic-sub000/internal/gate"
	"github.com/smartclin/smart-app-clinic-sub000/internal/model"
	"github.com/smartclin/smart-app-clinic-sub000/internal/service"
	"github.com/smartclin/smart-app-clinic-sub000/internal/session"
)

// AuthHandler serves the credential exchange endpoints under /api/auth.
type AuthHandler struct {
	auth     *service.AuthService
	resolver *session.Resolver
	gate     *gate.Gate
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(auth *service.AuthService, resolver *session.Resolver, g *gate.Gate, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AuthHandler{auth: auth, resolver: resolver, gate: g, logger: logger}
}

type signUpRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	CallbackURL string `json:"callbackURL"`
}

type signInRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	CallbackURL string `json:"callbackURL"`
}

// authResponse is returned by sign-in and sign-up. Token lets bearer clients
// skip the cookie.
type authResponse struct {
	Token    string          `json:"token"`
	User     *model.Identity `json:"user"`
	Session  *model.Session  `json:"session"`
	Redirect string          `json:"redirect"`
}

type sessionResponse struct {
	User    *model.Identity `json:"user"`
	Session *model.Session  `json:"session"`
}

// SignUp creates a patient account and signs it in.
// POST /api/auth/sign-up/email
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	form := isForm(r)
	var req signUpRequest
	if err := h.decode(r, form, &req); err != nil {
		h.fail(w, r, form, "/sign-up", http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	issued, err := h.auth.SignUp(r.Context(), req.Name, req.Email, req.Password, clientMeta(r))
	switch {
	case errors.Is(err, service.ErrEmailTaken):
		h.fail(w, r, form, "/sign-up", http.StatusConflict, "CONFLICT", "Email already registered")
		return
	case errors.Is(err, service.ErrWeakPassword):
		h.fail(w, r, form, "/sign-up", http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	case err != nil:
		h.logger.Error("sign-up failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Sign-up failed")
		return
	}
	h.succeed(w, r, form, issued, req.CallbackURL)
}

// SignIn exchanges an e-mail and password for a session.
// POST /api/auth/sign-in/email
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	form := isForm(r)
	var req signInRequest
	if err := h.decode(r, form, &req); err != nil {
		h.fail(w, r, form, "/sign-in", http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	issued, err := h.auth.SignIn(r.Context(), req.Email, req.Password, clientMeta(r))
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		h.fail(w, r, form, "/sign-in", http.StatusUnauthorized, string(gate.KindUnauthenticated), "Invalid credentials")
		return
	case errors.Is(err, service.ErrBanned):
		h.fail(w, r, form, "/sign-in", http.StatusForbidden, string(gate.KindForbidden), "Account is banned")
		return
	case err != nil:
		h.logger.Error("sign-in failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Sign-in failed")
		return
	}
	h.succeed(w, r, form, issued, req.CallbackURL)
}

// SignOut destroys the caller's session and clears the cookie. Signing out
// anonymously succeeds.
// POST /api/auth/sign-out
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	d := h.gate.Optional(r.Context())
	if d.Principal != nil {
		if err := h.auth.SignOut(r.Context(), d.Principal.Session.ID); err != nil {
			h.logger.Error("sign-out failed", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Sign-out failed")
			return
		}
	}
	h.resolver.ClearCookie(w)
	if isForm(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GetSession returns the caller's identity and session, or null when the
// request is anonymous.
// GET /api/auth/get-session
func (h *AuthHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	d := h.gate.Optional(r.Context())
	if d.Principal == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if res := session.Current(r.Context()); res != nil && res.Refreshed {
		h.resolver.SetCookie(w, res.Token, res.Session.ExpiresAt)
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: d.Principal.Identity, Session: d.Principal.Session})
}

func (h *AuthHandler) decode(r *http.Request, form bool, v any) error {
	if !form {
		return readJSON(r, v)
	}
	if err := r.ParseForm(); err != nil {
		return err
	}
	switch req := v.(type) {
	case *signInRequest:
		req.Email = r.PostForm.Get("email")
		req.Password = r.PostForm.Get("password")
		req.CallbackURL = r.PostForm.Get("callbackURL")
	case *signUpRequest:
		req.Name = r.PostForm.Get("name")
		req.Email = r.PostForm.Get("email")
		req.Password = r.PostForm.Get("password")
		req.CallbackURL = r.PostForm.Get("callbackURL")
	}
	return validateInput(v)
}

func (h *AuthHandler) succeed(w http.ResponseWriter, r *http.Request, form bool, issued *service.Issued, callback string) {
	h.resolver.SetCookie(w, issued.Token, issued.Session.ExpiresAt)
	redirect := gate.SafeCallback(callback, gate.LandingRoute(issued.Identity.Roles))
	if form {
		http.Redirect(w, r, redirect, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		Token:    issued.Token,
		User:     issued.Identity,
		Session:  issued.Session,
		Redirect: redirect,
	})
}

// fail reports an error. Form posts from the embedded pages are sent back to
// the page with the message in the query string.
func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, form bool, page string, status int, kind, message string) {
	if !form {
		writeError(w, status, kind, message)
		return
	}
	q := url.Values{"error": {message}}
	if cb := r.PostForm.Get("callbackURL"); cb != "" {
		q.Set("callbackUrl", gate.SafeCallback(cb, "/"))
	}
	http.Redirect(w, r, page+"?"+q.Encode(), http.StatusSeeOther)
}

func isForm(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded")
}

func clientMeta(r *http.Request) service.ClientMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return service.ClientMeta{IPAddress: ip, UserAgent: r.UserAgent()}
}
