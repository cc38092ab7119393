package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/smartclin/smart-app-clinic-sub000/internal/authz"
	"github.com/smartclin/smart-app-clinic-sub000/internal/session"
)

// Surfaces label where a decision was taken.
const (
	SurfacePage      = "page"
	SurfaceProcedure = "procedure"
	SurfaceHTTP      = "http"
)

// Observer receives every decision the gate takes.
type Observer interface {
	ObserveDecision(surface, outcome, kind string)
}

// Options configures a Gate.
type Options struct {
	Logger *slog.Logger
	// FreshAge bounds how old a session may be for requirements marked Fresh.
	FreshAge time.Duration
	Observer Observer
	Now      func() time.Time
}

// Gate is the single enforcement point for protected operations. It holds no
// per-request state and is safe for concurrent use.
type Gate struct {
	logger   *slog.Logger
	freshAge time.Duration
	observer Observer
	now      func() time.Time
}

// New creates a Gate.
func New(opts Options) *Gate {
	g := &Gate{
		logger:   opts.Logger,
		freshAge: opts.FreshAge,
		observer: opts.Observer,
		now:      opts.Now,
	}
	if g.logger == nil {
		g.logger = slog.New(slog.DiscardHandler)
	}
	if g.freshAge <= 0 {
		g.freshAge = 24 * time.Hour
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Requirement declares what an operation needs. Roles are alternatives: any
// one of them satisfies the requirement. A non-empty Roles, Permission or
// Fresh implies Authenticated.
type Requirement struct {
	Authenticated bool
	Roles         []string
	Permission    string
	Fresh         bool
}

// Rule is a validated Requirement.
type Rule struct {
	authenticated bool
	roles         []authz.Role
	permission    authz.Statement
	hasPermission bool
	fresh         bool
}

// Compile validates a requirement against the static permission model.
// Unknown roles return authz.ErrInvalidRoleReference; unknown statements
// return authz.ErrInvalidStatement.
func (r Requirement) Compile() (Rule, error) {
	rule := Rule{authenticated: r.Authenticated, fresh: r.Fresh}
	for _, name := range r.Roles {
		role, err := authz.Lookup(name)
		if err != nil {
			return Rule{}, err
		}
		rule.roles = append(rule.roles, role)
	}
	if r.Permission != "" {
		s, err := authz.ParseStatement(r.Permission)
		if err != nil {
			return Rule{}, err
		}
		rule.permission = s
		rule.hasPermission = true
	}
	if len(rule.roles) > 0 || rule.hasPermission || rule.fresh {
		rule.authenticated = true
	}
	return rule, nil
}

// MustCompile is Compile for package-level rules.
func (r Requirement) MustCompile() Rule {
	rule, err := r.Compile()
	if err != nil {
		panic(err)
	}
	return rule
}

// Authenticated reports whether the rule needs a resolved identity.
func (r Rule) Authenticated() bool { return r.authenticated }

// Roles returns the alternative roles the rule accepts.
func (r Rule) Roles() []authz.Role { return r.roles }

// Permission returns the statement the rule requires, if any.
func (r Rule) Permission() (authz.Statement, bool) { return r.permission, r.hasPermission }

func (r Rule) String() string {
	var parts []string
	if len(r.roles) > 0 {
		parts = append(parts, "role "+strings.Join(authz.Names(r.roles), "|"))
	}
	if r.hasPermission {
		parts = append(parts, "permission "+r.permission.String())
	}
	if r.fresh {
		parts = append(parts, "fresh session")
	}
	if len(parts) == 0 {
		if r.authenticated {
			return "authenticated"
		}
		return "public"
	}
	return strings.Join(parts, ", ")
}

// Decision is the outcome of one gate check. Denial is nil when the check
// passed. Principal is set whenever an identity was resolved, including on
// FORBIDDEN denials.
type Decision struct {
	// Ctx carries the principal when the decision is authorized.
	Ctx       context.Context
	Principal *Principal
	Denial    *Denial
}

// Authorized reports whether the operation may proceed.
func (d Decision) Authorized() bool { return d.Denial == nil }

// Err returns the denial as an error, or nil.
func (d Decision) Err() error {
	if d.Denial == nil {
		return nil
	}
	return d.Denial
}

// State names the terminal state of the decision.
func (d Decision) State() string {
	if d.Authorized() {
		return "authorized"
	}
	return "denied"
}

// Check compiles req and enforces it. An invalid requirement is denied with
// KindInvalidRoleReference.
func (g *Gate) Check(ctx context.Context, surface string, req Requirement) Decision {
	rule, err := req.Compile()
	if err != nil {
		g.logger.Error("invalid authorization requirement", "surface", surface, "error", err)
		return g.finish(ctx, surface, Decision{Ctx: ctx, Denial: invalidReference(err)})
	}
	return g.Enforce(ctx, surface, rule)
}

// Enforce checks a compiled rule against the request's session.
func (g *Gate) Enforce(ctx context.Context, surface string, rule Rule) Decision {
	res := session.Current(ctx)

	if !rule.authenticated {
		d := Decision{Ctx: ctx}
		if res != nil {
			d.Principal = &Principal{Identity: res.Identity, Session: res.Session}
			d.Ctx = ContextWithPrincipal(ctx, d.Principal)
		}
		return g.finish(ctx, surface, d)
	}

	if res == nil {
		return g.finish(ctx, surface, Decision{Ctx: ctx, Denial: deny(KindUnauthenticated, "sign in required")})
	}

	p := &Principal{Identity: res.Identity, Session: res.Session}
	if len(rule.roles) > 0 && !holdsAny(p, rule.roles) {
		return g.finish(ctx, surface, Decision{Ctx: ctx, Principal: p,
			Denial: deny(KindForbidden, "requires role "+strings.Join(authz.Names(rule.roles), " or "))})
	}
	if rule.hasPermission && !p.Can(rule.permission) {
		return g.finish(ctx, surface, Decision{Ctx: ctx, Principal: p,
			Denial: deny(KindForbidden, "missing permission "+rule.permission.String())})
	}
	if rule.fresh && !res.Session.IsFresh(g.now(), g.freshAge) {
		return g.finish(ctx, surface, Decision{Ctx: ctx, Principal: p,
			Denial: deny(KindForbidden, "session not fresh")})
	}

	return g.finish(ctx, surface, Decision{Ctx: ContextWithPrincipal(ctx, p), Principal: p})
}

// RequireAuthenticated denies anonymous callers.
func (g *Gate) RequireAuthenticated(ctx context.Context) Decision {
	return g.Check(ctx, SurfaceHTTP, Requirement{Authenticated: true})
}

// RequireRole denies callers that do not hold role. An unknown role name is
// denied with KindInvalidRoleReference.
func (g *Gate) RequireRole(ctx context.Context, role string) Decision {
	return g.Check(ctx, SurfaceHTTP, Requirement{Roles: []string{role}})
}

// RequirePermission denies callers whose roles do not authorize s.
func (g *Gate) RequirePermission(ctx context.Context, s authz.Statement) Decision {
	return g.Check(ctx, SurfaceHTTP, Requirement{Permission: s.String()})
}

// Optional attaches the principal when there is one and never denies.
func (g *Gate) Optional(ctx context.Context) Decision {
	return g.Check(ctx, SurfaceHTTP, Requirement{})
}

func holdsAny(p *Principal, roles []authz.Role) bool {
	for _, r := range roles {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}

func invalidReference(err error) *Denial {
	reason := err.Error()
	if errors.Is(err, authz.ErrInvalidStatement) {
		reason = fmt.Sprintf("requirement names an unknown statement (%v)", err)
	}
	return deny(KindInvalidRoleReference, reason)
}

func (g *Gate) finish(ctx context.Context, surface string, d Decision) Decision {
	kind := ""
	if d.Denial != nil {
		kind = string(d.Denial.Kind)
		attrs := []any{"surface", surface, "kind", kind, "reason", d.Denial.Reason}
		if d.Principal != nil {
			attrs = append(attrs, "identity_id", d.Principal.ID())
		}
		g.logger.DebugContext(ctx, "authorization denied", attrs...)
	}
	if g.observer != nil {
		g.observer.ObserveDecision(surface, d.State(), kind)
	}
	return d
}
