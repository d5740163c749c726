package auth

import (
	"context"

	"github.com/ppdb-id/ppdb-backend/internal/model"
)

// Principal is the authenticated caller: identity, role, and tenant. It is
// resolved once per request from a fresh user lookup, then bound into the
// store scope so individual handlers cannot forget tenant filtering.
type Principal struct {
	UserID   int64
	Role     model.Role
	SchoolID *int64 // nil for super_admin and unaffiliated parents
}

// Tenant returns the caller's school id, or 0 when the caller is not bound
// to one.
func (p Principal) Tenant() int64 {
	if p.SchoolID == nil {
		return 0
	}
	return *p.SchoolID
}

func (p Principal) IsSuperAdmin() bool { return p.Role == model.RoleSuperAdmin }
func (p Principal) IsParent() bool     { return p.Role == model.RoleParent }

type ctxKey struct{}

var principalKey ctxKey

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
