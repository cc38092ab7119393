package gate

import (
	"context"

	"github.com/smartclin/smart-app-clinic-sub000/internal/authz"
	"github.com/smartclin/smart-app-clinic-sub000/internal/model"
)

// Principal is the identity an authorized operation runs as.
type Principal struct {
	Identity *model.Identity
	Session  *model.Session
}

// ID returns the identity id.
func (p *Principal) ID() string { return p.Identity.ID }

// Roles returns the identity's role set.
func (p *Principal) Roles() []authz.Role { return p.Identity.Roles }

// HasRole reports whether the principal holds r.
func (p *Principal) HasRole(r authz.Role) bool { return p.Identity.HasRole(r) }

// Can reports whether the principal's roles authorize s.
func (p *Principal) Can(s authz.Statement) bool { return authz.HasPermission(p.Identity.Roles, s) }

type principalKey struct{}

// ContextWithPrincipal attaches p to ctx.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached by an authorized
// decision, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
