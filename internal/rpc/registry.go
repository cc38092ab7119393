// Package rpc is the remote procedure surface. Every procedure declares its
// exposure at registration and runs behind the authorization gate.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"sync"

	"github.com/smartclin/smart-app-clinic-sub000/internal/gate"
)

// Exposure is the access level a procedure declares.
type Exposure int

const (
	// Public procedures run without a gate check.
	Public Exposure = iota
	// Authenticated procedures require a resolved identity.
	Authenticated
	// RoleRestricted procedures require a resolved identity holding Role.
	RoleRestricted
)

func (e Exposure) String() string {
	switch e {
	case Public:
		return "public"
	case Authenticated:
		return "authenticated"
	case RoleRestricted:
		return "role-restricted"
	default:
		return fmt.Sprintf("exposure(%d)", int(e))
	}
}

// MarshalText encodes the exposure by name.
func (e Exposure) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// HandlerFunc runs a procedure body. input is the raw JSON request body,
// which may be empty.
type HandlerFunc func(ctx context.Context, input json.RawMessage) (any, error)

// Procedure is a named remote operation.
type Procedure struct {
	Name        string
	Description string
	Exposure    Exposure
	// Role is required for RoleRestricted procedures.
	Role string
	// Permission optionally adds a statement check, e.g. "patient:read-own".
	Permission string
	// Fresh requires a session created within the gate's freshness window.
	Fresh bool
	// Input is an example value of the request body type, used to document
	// the procedure. Nil means the procedure takes no input.
	Input   any
	Handler HandlerFunc
}

// Descriptor is the public, serializable view of a procedure.
type Descriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Exposure    Exposure `json:"exposure"`
	Role        string   `json:"role,omitempty"`
	Permission  string   `json:"permission,omitempty"`
	Fresh       bool     `json:"fresh,omitempty"`
	Input       any      `json:"-"`
}

type registered struct {
	proc Procedure
	rule gate.Rule
}

var (
	// ErrProcedureNotFound is returned by Call for unknown procedure names.
	ErrProcedureNotFound = errors.New("procedure not found")

	// ErrDuplicateProcedure is returned when a name is registered twice.
	ErrDuplicateProcedure = errors.New("procedure already registered")

	procedureName = regexp.MustCompile(`^[a-z][a-zA-Z0-9]*(\.[a-z][a-zA-Z0-9]*)+$`)
)

// Registry holds procedures and dispatches calls through the gate.
type Registry struct {
	gate *gate.Gate

	mu    sync.RWMutex
	procs map[string]*registered
}

// NewRegistry creates an empty registry enforcing through g.
func NewRegistry(g *gate.Gate) *Registry {
	return &Registry{gate: g, procs: make(map[string]*registered)}
}

// Register validates and adds a procedure. Unknown roles fail with
// authz.ErrInvalidRoleReference and unknown statements with
// authz.ErrInvalidStatement, so misdeclared procedures never reach runtime.
func (r *Registry) Register(p Procedure) error {
	if !procedureName.MatchString(p.Name) {
		return fmt.Errorf("procedure name %q must look like router.procedure", p.Name)
	}
	if p.Handler == nil {
		return fmt.Errorf("procedure %s: nil handler", p.Name)
	}

	req := gate.Requirement{Permission: p.Permission, Fresh: p.Fresh}
	switch p.Exposure {
	case Public:
		if p.Role != "" || p.Permission != "" || p.Fresh {
			return fmt.Errorf("procedure %s: public procedures cannot declare a role, permission or freshness", p.Name)
		}
	case Authenticated:
		if p.Role != "" {
			return fmt.Errorf("procedure %s: role %q declared on an authenticated procedure; use RoleRestricted", p.Name, p.Role)
		}
		req.Authenticated = true
	case RoleRestricted:
		if p.Role == "" {
			return fmt.Errorf("procedure %s: role-restricted procedure without a role", p.Name)
		}
		req.Authenticated = true
		req.Roles = []string{p.Role}
	default:
		return fmt.Errorf("procedure %s: unknown exposure %d", p.Name, int(p.Exposure))
	}

	rule, err := req.Compile()
	if err != nil {
		return fmt.Errorf("procedure %s: %w", p.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.procs[p.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProcedure, p.Name)
	}
	r.procs[p.Name] = &registered{proc: p, rule: rule}
	return nil
}

// MustRegister registers every procedure and panics on the first error.
func (r *Registry) MustRegister(ps ...Procedure) {
	for _, p := range ps {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
}

// Procedures lists registered procedures sorted by name.
func (r *Registry) Procedures() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.procs))
	for _, reg := range r.procs {
		p := reg.proc
		out = append(out, Descriptor{
			Name:        p.Name,
			Description: p.Description,
			Exposure:    p.Exposure,
			Role:        p.Role,
			Permission:  p.Permission,
			Fresh:       p.Fresh,
			Input:       p.Input,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call enforces the procedure's rule and, when authorized, runs its handler
// with the principal attached to ctx. A denial is returned as *gate.Denial
// and the handler does not run.
func (r *Registry) Call(ctx context.Context, name string, input json.RawMessage) (any, error) {
	r.mu.RLock()
	reg, ok := r.procs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProcedureNotFound, name)
	}

	d := r.gate.Enforce(ctx, gate.SurfaceProcedure, reg.rule)
	if !d.Authorized() {
		return nil, d.Denial
	}
	return reg.proc.Handler(d.Ctx, input)
}

type callKey struct{}

type call struct {
	req     *http.Request
	cookies []*http.Cookie
}

// sets reports whether the procedure queued a cookie called name.
func (cl *call) sets(name string) bool {
	for _, c := range cl.cookies {
		if c.Name == name {
			return true
		}
	}
	return false
}

// SetCookie asks the transport to send c with the procedure's response.
// Outside an HTTP call it does nothing.
func SetCookie(ctx context.Context, c *http.Cookie) {
	if cl, ok := ctx.Value(callKey{}).(*call); ok {
		cl.cookies = append(cl.cookies, c)
	}
}

// HTTPRequest returns the request a procedure is being called over, or nil.
func HTTPRequest(ctx context.Context) *http.Request {
	if cl, ok := ctx.Value(callKey{}).(*call); ok {
		return cl.req
	}
	return nil
}

func withCall(req *http.Request) (context.Context, *call) {
	cl := &call{req: req}
	return context.WithValue(req.Context(), callKey{}, cl), cl
}
