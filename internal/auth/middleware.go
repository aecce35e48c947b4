package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/customers"
)

// CustomerResolver maps an authenticated user to their customer record.
type CustomerResolver interface {
	ResolveCustomer(ctx context.Context, userID string) (*customers.Customer, error)
}

const ginPrincipalKey = "auth.principal"

// Middleware verifies bearer tokens and attaches the Principal. Customers are resolved on
// every request; a customer token without a customer record is rejected.
func Middleware(issuer *Issuer, resolver CustomerResolver, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abort(c, http.StatusUnauthorized, "unauthenticated", "authorization header missing")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abort(c, http.StatusUnauthorized, "unauthenticated", "invalid authorization header format")
			return
		}

		claims, err := issuer.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, ErrTokenExpired) {
				msg = "token expired"
			}
			abort(c, http.StatusUnauthorized, "unauthenticated", msg)
			return
		}

		p := &Principal{
			UserID: claims.Subject,
			Email:  claims.Email,
			Role:   strings.ToLower(strings.TrimSpace(claims.Role)),
		}
		if p.Role == "" {
			p.Role = RoleCustomer
		}

		if p.Role == RoleCustomer {
			customer, err := resolver.ResolveCustomer(c.Request.Context(), p.UserID)
			if err != nil {
				if errors.Is(err, customers.ErrNotFound) {
					abort(c, http.StatusForbidden, "forbidden", "no customer profile for this account")
					return
				}
				logger.Error("resolve customer failed", zap.String("user_id", p.UserID), zap.Error(err))
				abort(c, http.StatusInternalServerError, "internal_error", "could not resolve customer")
				return
			}
			p.CustomerID = customer.ID
			if customer.Email != "" {
				p.Email = customer.Email
			}
		}

		c.Set(ginPrincipalKey, p)
		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

// RequireAdmin ensures that the caller has admin privileges.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := FromGin(c)
		if !ok || !p.IsAdmin() {
			abort(c, http.StatusForbidden, "forbidden", "admins only")
			return
		}
		c.Next()
	}
}

// FromGin returns the principal attached by Middleware.
func FromGin(c *gin.Context) (*Principal, bool) {
	v, ok := c.Get(ginPrincipalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok && p != nil
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": code, "message": msg})
}
