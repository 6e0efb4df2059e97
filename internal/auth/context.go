// ABOUTME: Authentication context for tracking the acting user through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// Actor types
const (
	ActorUser   = "user"
	ActorSystem = "system"
)

// AuthContext holds the authenticated identity extracted from a request.
// Background jobs run with a system actor that has no UserID.
type AuthContext struct {
	UserID         string
	OrganizationID string
	ActorType      string // "user" | "system"
	IsSuperAdmin   bool
}

// IsSystem reports whether the caller is an internal job rather than a person.
func (a *AuthContext) IsSystem() bool {
	return a != nil && a.ActorType == ActorSystem
}

// SystemContext returns an AuthContext for background jobs acting on one organization.
func SystemContext(organizationID string) *AuthContext {
	return &AuthContext{OrganizationID: organizationID, ActorType: ActorSystem}
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	val := ctx.Value(authContextKey{})
	if val == nil {
		return nil
	}
	auth, ok := val.(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
