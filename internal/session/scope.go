package session

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
)

// State is the resolution state of one request.
type State int32

const (
	StateUnresolved State = iota
	StateResolving
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateResolving:
		return "resolving"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Scope memoizes session resolution for a single request. It is created per
// request and must not be shared between requests; it is dropped with the
// request context.
type Scope struct {
	resolver *Resolver
	header   http.Header

	once  sync.Once
	state atomic.Int32
	res   *Resolution
}

// NewScope binds a request's headers to the resolver without resolving yet.
func (r *Resolver) NewScope(header http.Header) *Scope {
	return &Scope{resolver: r, header: header}
}

// Resolve runs the resolver at most once per scope. Later calls, including
// concurrent ones, return the first result.
func (s *Scope) Resolve(ctx context.Context) *Resolution {
	s.once.Do(func() {
		s.state.Store(int32(StateResolving))
		s.res = s.resolver.ResolveSession(ctx, s.header)
		if s.res != nil {
			s.state.Store(int32(StateAuthenticated))
		} else {
			s.state.Store(int32(StateAnonymous))
		}
	})
	return s.res
}

// State reports how far resolution has progressed.
func (s *Scope) State() State {
	return State(s.state.Load())
}

type scopeKey struct{}

// WithScope attaches a scope to ctx.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFromContext returns the scope attached to ctx, or nil.
func ScopeFromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// Current resolves the session for the request carried by ctx. Without a
// scope the request is anonymous.
func Current(ctx context.Context) *Resolution {
	s := ScopeFromContext(ctx)
	if s == nil {
		return nil
	}
	return s.Resolve(ctx)
}

// StateFromContext reports the resolution state of the request carried by
// ctx without triggering resolution.
func StateFromContext(ctx context.Context) State {
	s := ScopeFromContext(ctx)
	if s == nil {
		return StateUnresolved
	}
	return s.State()
}

// Middleware attaches a fresh scope to each request. Resolution is lazy:
// requests that never consult the gate never touch the credential store.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		scope := r.NewScope(req.Header)
		next.ServeHTTP(w, req.WithContext(WithScope(req.Context(), scope)))
	})
}
