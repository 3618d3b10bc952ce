// ABOUTME: Authenticated caller identity carried through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating the token subject via context

package auth

import (
	"context"
)

// AuthContext holds the identity extracted from a verified token.
type AuthContext struct {
	Subject string
}

type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}
