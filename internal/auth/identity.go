package auth

import (
	"context"
	"strings"
)

// Role constants used when checking authorisation boundaries.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Principal is the authenticated caller. CustomerID is set only for callers that have a
// customer record.
type Principal struct {
	UserID     string
	Email      string
	Role       string
	CustomerID int64
}

// IsAdmin reports whether the principal is an operator.
func (p *Principal) IsAdmin() bool {
	return p != nil && strings.EqualFold(p.Role, RoleAdmin)
}

// IsCustomer reports whether the principal acts as a resolved customer.
func (p *Principal) IsCustomer() bool {
	return p != nil && strings.EqualFold(p.Role, RoleCustomer) && p.CustomerID > 0
}

type contextKey string

const principalContextKey contextKey = "github.com/imrishuroy/marketplace-orderflow/internal/auth/principal"

// WithPrincipal stores the principal within the context for downstream handlers.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext retrieves the principal previously stored in context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}
