package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/smartclin/smart-app-clinic-sub000/internal/config"
	"github.com/smartclin/smart-app-clinic-sub000/internal/model"
)

// DefaultCookieName is the session cookie used when none is configured.
const DefaultCookieName = "smartclin.session_token"

// CredentialStore is the lookup surface the resolver needs.
type CredentialStore interface {
	// FindSessionByToken returns the session for a raw token together with
	// its owning identity, or config.ErrNotFound.
	FindSessionByToken(ctx context.Context, token string) (*model.Session, *model.Identity, error)
	TouchSession(ctx context.Context, id string, expiresAt time.Time) error
}

// Observer receives the outcome of each resolution.
type Observer interface {
	ObserveResolution(result string, elapsed time.Duration)
}

// Resolution outcomes reported to the Observer.
const (
	ResultAuthenticated = "authenticated"
	ResultNoToken       = "no_token"
	ResultInvalid       = "invalid"
	ResultNotFound      = "not_found"
	ResultExpired       = "expired"
	ResultBanned        = "banned"
	ResultError         = "error"
)

// Options configures a Resolver.
type Options struct {
	CookieName   string
	CookieSecure bool
	// TTL is the lifetime given to a session when it is created or slid.
	TTL time.Duration
	// UpdateAge is how old the last refresh must be before a request slides
	// the expiry forward. Zero disables sliding.
	UpdateAge time.Duration
	Observer  Observer
	Now       func() time.Time
}

// Resolution is an authenticated identity together with the raw session it
// was resolved from.
type Resolution struct {
	Identity *model.Identity
	Session  *model.Session
	// Token is the signed token the client presented.
	Token string
	// Refreshed is set when this resolution moved the session's expiry, so
	// the transport should re-issue the cookie.
	Refreshed bool
}

// Resolver turns request credentials into an identity.
type Resolver struct {
	store  CredentialStore
	signer *Signer
	logger *slog.Logger
	opts   Options
}

// NewResolver creates a Resolver. A nil logger discards output.
func NewResolver(store CredentialStore, signer *Signer, logger *slog.Logger, opts Options) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.TTL <= 0 {
		opts.TTL = 7 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{store: store, signer: signer, logger: logger, opts: opts}
}

// CookieName returns the configured session cookie name.
func (r *Resolver) CookieName() string { return r.opts.CookieName }

// TTL returns the session lifetime.
func (r *Resolver) TTL() time.Duration { return r.opts.TTL }

// TokenFromHeader extracts the signed session token from the session cookie,
// falling back to an Authorization bearer token.
func (r *Resolver) TokenFromHeader(header http.Header) string {
	for _, line := range header.Values("Cookie") {
		cookies, err := http.ParseCookie(line)
		if err != nil {
			continue
		}
		for _, c := range cookies {
			if c.Name == r.opts.CookieName && c.Value != "" {
				return c.Value
			}
		}
	}
	return bearerToken(header.Get("Authorization"))
}

func bearerToken(h string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// ResolveSession returns the identity behind the request's session token, or
// nil when the request is anonymous. Missing, tampered, unknown and expired
// tokens and banned identities all resolve to nil; store failures are logged
// and also resolve to nil.
func (r *Resolver) ResolveSession(ctx context.Context, header http.Header) *Resolution {
	start := r.opts.Now()
	res, result := r.resolve(ctx, header)
	if r.opts.Observer != nil {
		r.opts.Observer.ObserveResolution(result, r.opts.Now().Sub(start))
	}
	return res
}

func (r *Resolver) resolve(ctx context.Context, header http.Header) (*Resolution, string) {
	signed := r.TokenFromHeader(header)
	if signed == "" {
		return nil, ResultNoToken
	}

	claims, err := r.signer.Verify(signed)
	if err != nil {
		return nil, ResultInvalid
	}

	sess, identity, err := r.store.FindSessionByToken(ctx, claims.Token)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, ResultNotFound
		}
		if ctx.Err() == nil {
			r.logger.Error("session lookup failed", "error", err)
		}
		return nil, ResultError
	}
	if sess.IdentityID != claims.IdentityID || identity.ID != sess.IdentityID {
		r.logger.Warn("session token subject mismatch", "session_id", sess.ID)
		return nil, ResultInvalid
	}

	now := r.opts.Now()
	if sess.Expired(now) {
		return nil, ResultExpired
	}
	if identity.IsBanned(now) {
		r.logger.Debug("session owner is banned", "identity_id", identity.ID)
		return nil, ResultBanned
	}

	res := &Resolution{Identity: identity, Session: sess, Token: signed}
	if r.shouldSlide(sess, now) {
		expires := now.Add(r.opts.TTL)
		if err := r.store.TouchSession(ctx, sess.ID, expires); err != nil {
			r.logger.Warn("extend session failed", "session_id", sess.ID, "error", err)
		} else {
			sess.ExpiresAt = expires
			sess.UpdatedAt = now
			res.Refreshed = true
		}
	}
	return res, ResultAuthenticated
}

// shouldSlide reports whether at least UpdateAge has passed since the expiry
// was last set.
func (r *Resolver) shouldSlide(sess *model.Session, now time.Time) bool {
	if r.opts.UpdateAge <= 0 {
		return false
	}
	return sess.ExpiresAt.Sub(now) < r.opts.TTL-r.opts.UpdateAge
}

// SetCookie writes the session cookie.
func (r *Resolver) SetCookie(w http.ResponseWriter, signed string, expires time.Time) {
	http.SetCookie(w, r.Cookie(signed, expires))
}

// Cookie builds the session cookie for a signed token.
func (r *Resolver) Cookie(signed string, expires time.Time) *http.Cookie {
	maxAge := int(expires.Sub(r.opts.Now()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     r.opts.CookieName,
		Value:    signed,
		Path:     "/",
		Expires:  expires.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie expires the session cookie.
func (r *Resolver) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, r.ExpiredCookie())
}

// ExpiredCookie builds a cookie that removes the session cookie.
func (r *Resolver) ExpiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     r.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
