package gate

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/smartclin/smart-app-clinic-sub000/internal/authz"
	"github.com/smartclin/smart-app-clinic-sub000/internal/model"
)

// Entry binds a path pattern to the roles allowed to reach it. A pattern
// ending in "/*" matches the prefix and everything below it on segment
// boundaries; any other pattern matches exactly.
type Entry struct {
	Pattern string   `json:"pattern" yaml:"pattern"`
	Roles   []string `json:"roles" yaml:"roles"`
}

// PolicyConfig is the declarative form of a route policy.
type PolicyConfig struct {
	// Public paths bypass the gate entirely.
	Public []string
	// AuthPages are sign-in style pages that redirect authenticated callers
	// to their landing route.
	AuthPages []string
	Entries   []Entry
	// SignInPath receives anonymous callers, with callbackUrl set.
	SignInPath string
}

type pattern struct {
	raw     string
	literal string
	prefix  bool
}

func compilePattern(raw string) (pattern, error) {
	if !strings.HasPrefix(raw, "/") {
		return pattern{}, fmt.Errorf("route pattern %q must start with /", raw)
	}
	p := pattern{raw: raw}
	if lit, ok := strings.CutSuffix(raw, "/*"); ok {
		p.prefix = true
		p.literal = NormalizePath(lit)
	} else {
		p.literal = NormalizePath(raw)
	}
	if strings.Contains(p.literal, "*") {
		return pattern{}, fmt.Errorf("route pattern %q: wildcard is only allowed as a trailing /*", raw)
	}
	return p, nil
}

func (p pattern) matches(normalized string) bool {
	if !p.prefix {
		return normalized == p.literal
	}
	if p.literal == "/" {
		return true
	}
	return normalized == p.literal || strings.HasPrefix(normalized, p.literal+"/")
}

// more reports whether p is more specific than q.
func (p pattern) more(q pattern) bool {
	if len(p.literal) != len(q.literal) {
		return len(p.literal) > len(q.literal)
	}
	return !p.prefix && q.prefix
}

type policyEntry struct {
	pattern pattern
	rule    Rule
	roles   []authz.Role
}

// Policy is an immutable, compiled route policy.
type Policy struct {
	public     []pattern
	authPages  []pattern
	entries    []policyEntry
	signInPath string
	fallback   Rule
}

// NewPolicy compiles cfg. Unknown role names fail with
// authz.ErrInvalidRoleReference.
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	p := &Policy{
		signInPath: cfg.SignInPath,
		fallback:   Requirement{Authenticated: true}.MustCompile(),
	}
	if p.signInPath == "" {
		p.signInPath = "/sign-in"
	}
	for _, raw := range cfg.Public {
		pt, err := compilePattern(raw)
		if err != nil {
			return nil, err
		}
		p.public = append(p.public, pt)
	}
	for _, raw := range cfg.AuthPages {
		pt, err := compilePattern(raw)
		if err != nil {
			return nil, err
		}
		p.authPages = append(p.authPages, pt)
	}
	for _, e := range cfg.Entries {
		pt, err := compilePattern(e.Pattern)
		if err != nil {
			return nil, err
		}
		if len(e.Roles) == 0 {
			return nil, fmt.Errorf("route pattern %q: no roles declared", e.Pattern)
		}
		rule, err := Requirement{Authenticated: true, Roles: e.Roles}.Compile()
		if err != nil {
			return nil, fmt.Errorf("route pattern %q: %w", e.Pattern, err)
		}
		p.entries = append(p.entries, policyEntry{pattern: pt, rule: rule, roles: rule.Roles()})
	}
	return p, nil
}

// DefaultPolicyConfig returns the clinic's route table.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Public: []string{
			"/",
			"/healthz",
			"/readyz",
			"/metrics",
			"/openapi.json",
			"/assets/*",
			"/api/auth/*",
		},
		AuthPages:  []string{"/sign-in", "/sign-up"},
		SignInPath: "/sign-in",
		Entries: []Entry{
			{Pattern: "/admin/*", Roles: []string{"admin"}},
			{Pattern: "/patient/*", Roles: []string{"patient", "admin", "doctor", "staff"}},
			{Pattern: "/doctor/*", Roles: []string{"doctor", "admin"}},
			{Pattern: "/staff/*", Roles: []string{"staff", "admin"}},
			{Pattern: "/record/users", Roles: []string{"admin"}},
			{Pattern: "/record/doctors", Roles: []string{"admin"}},
			{Pattern: "/record/doctors/*", Roles: []string{"admin", "doctor"}},
			{Pattern: "/record/staffs", Roles: []string{"admin", "doctor"}},
			{Pattern: "/record/patients", Roles: []string{"admin", "doctor", "staff"}},
			{Pattern: "/patient/registration", Roles: []string{"patient", "admin"}},
		},
	}
}

// DefaultPolicy compiles DefaultPolicyConfig.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(DefaultPolicyConfig())
	if err != nil {
		panic(err)
	}
	return p
}

// NormalizePath strips route-group segments such as "(protected)", resolves
// dot segments, drops a trailing slash and lowercases the result.
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	segs := strings.Split(p, "/")
	kept := segs[:0]
	for _, s := range segs {
		if len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
			continue
		}
		kept = append(kept, s)
	}
	out := path.Clean("/" + strings.Join(kept, "/"))
	return strings.ToLower(out)
}

// Class is the coarse classification of a path.
type Class int

const (
	ClassProtected Class = iota
	ClassPublic
	ClassAuthPage
)

func (c Class) String() string {
	switch c {
	case ClassPublic:
		return "public"
	case ClassAuthPage:
		return "auth-page"
	default:
		return "protected"
	}
}

// Match is the result of classifying a path.
type Match struct {
	Path  string
	Class Class
	// Pattern is the policy entry that matched, or "" for the fallback.
	Pattern string
	Rule    Rule
}

// Fallback reports whether no entry matched a protected path.
func (m Match) Fallback() bool { return m.Class == ClassProtected && m.Pattern == "" }

// Classify matches a request path against the policy. Public paths win over
// auth pages, which win over entries. Among entries the most specific
// pattern wins: longest literal, then exact over prefix, then declaration
// order. Unmatched paths require authentication.
func (p *Policy) Classify(rawPath string) Match {
	n := NormalizePath(rawPath)
	for _, pt := range p.public {
		if pt.matches(n) {
			return Match{Path: n, Class: ClassPublic, Pattern: pt.raw}
		}
	}
	for _, pt := range p.authPages {
		if pt.matches(n) {
			return Match{Path: n, Class: ClassAuthPage, Pattern: pt.raw}
		}
	}

	var best *policyEntry
	for i := range p.entries {
		e := &p.entries[i]
		if !e.pattern.matches(n) {
			continue
		}
		if best == nil || e.pattern.more(best.pattern) {
			best = e
		}
	}
	if best == nil {
		return Match{Path: n, Class: ClassProtected, Rule: p.fallback}
	}
	return Match{Path: n, Class: ClassProtected, Pattern: best.pattern.raw, Rule: best.rule}
}

// Entries returns the declared entries in declaration order.
func (p *Policy) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	for i, e := range p.entries {
		out[i] = Entry{Pattern: e.pattern.raw, Roles: authz.Names(e.roles)}
	}
	return out
}

// SignInPath returns where anonymous callers are sent.
func (p *Policy) SignInPath() string { return p.signInPath }

// LandingRoute is the dashboard of the highest-ranked role.
func LandingRoute(roles []authz.Role) string {
	switch authz.Primary(roles) {
	case authz.RoleAdmin:
		return "/admin"
	case authz.RoleDoctor:
		return "/doctor"
	case authz.RoleStaff:
		return "/staff"
	default:
		return "/patient"
	}
}

// PageOutcome is what the page layer should do with a request.
type PageOutcome int

const (
	PageAllow PageOutcome = iota
	PageRedirectSignIn
	PageRedirectAway
	PageForbidden
)

func (o PageOutcome) String() string {
	switch o {
	case PageAllow:
		return "allow"
	case PageRedirectSignIn:
		return "redirect-sign-in"
	case PageRedirectAway:
		return "redirect-away"
	default:
		return "forbidden"
	}
}

// PageDecision is the gate's answer for one page request.
type PageDecision struct {
	Outcome  PageOutcome
	Match    Match
	Decision Decision
	// Location is set for redirect outcomes.
	Location string
}

// Page decides a page request. It is consulted once per request.
func (g *Gate) Page(ctx context.Context, policy *Policy, rawPath, rawQuery string) PageDecision {
	m := policy.Classify(rawPath)
	switch m.Class {
	case ClassPublic:
		d := g.Enforce(ctx, SurfacePage, Rule{})
		return PageDecision{Outcome: PageAllow, Match: m, Decision: d}

	case ClassAuthPage:
		d := g.Enforce(ctx, SurfacePage, Rule{})
		if d.Principal != nil {
			return PageDecision{Outcome: PageRedirectAway, Match: m, Decision: d, Location: LandingRoute(d.Principal.Roles())}
		}
		return PageDecision{Outcome: PageAllow, Match: m, Decision: d}
	}

	d := g.Enforce(ctx, SurfacePage, m.Rule)
	switch {
	case d.Authorized():
		return PageDecision{Outcome: PageAllow, Match: m, Decision: d}
	case d.Denial.Kind == KindUnauthenticated:
		return PageDecision{
			Outcome:  PageRedirectSignIn,
			Match:    m,
			Decision: d,
			Location: signInLocation(policy.signInPath, rawPath, rawQuery),
		}
	default:
		return PageDecision{Outcome: PageForbidden, Match: m, Decision: d}
	}
}

// signInLocation builds the sign-in URL. Only a local path is ever placed in
// callbackUrl.
func signInLocation(signIn, rawPath, rawQuery string) string {
	callback := rawPath
	if !strings.HasPrefix(callback, "/") || strings.HasPrefix(callback, "//") {
		callback = "/"
	}
	if rawQuery != "" {
		callback += "?" + rawQuery
	}
	return signIn + "?" + url.Values{"callbackUrl": {callback}}.Encode()
}

// SafeCallback returns target when it is a local path, otherwise fallback.
// Sign-in handlers use it to honor callbackUrl without open redirects.
func SafeCallback(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return fallback
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return target
}

// Evaluate reports how Page would treat a caller holding roles, without a
// request or session. Nil roles means an anonymous caller. Freshness is not
// evaluated since it depends on the session.
func (p *Policy) Evaluate(rawPath, rawQuery string, roles []authz.Role) PageDecision {
	m := p.Classify(rawPath)
	signedIn := roles != nil
	switch m.Class {
	case ClassPublic:
		return PageDecision{Outcome: PageAllow, Match: m}
	case ClassAuthPage:
		if signedIn {
			return PageDecision{Outcome: PageRedirectAway, Match: m, Location: LandingRoute(roles)}
		}
		return PageDecision{Outcome: PageAllow, Match: m}
	}

	if !m.Rule.authenticated {
		return PageDecision{Outcome: PageAllow, Match: m}
	}
	if !signedIn {
		return PageDecision{Outcome: PageRedirectSignIn, Match: m, Location: signInLocation(p.signInPath, rawPath, rawQuery)}
	}
	caller := &Principal{Identity: &model.Identity{Roles: roles}}
	if len(m.Rule.roles) > 0 && !holdsAny(caller, m.Rule.roles) {
		return PageDecision{Outcome: PageForbidden, Match: m}
	}
	if m.Rule.hasPermission && !caller.Can(m.Rule.permission) {
		return PageDecision{Outcome: PageForbidden, Match: m}
	}
	return PageDecision{Outcome: PageAllow, Match: m}
}
