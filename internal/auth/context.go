// ABOUTME: Request-context plumbing for the authenticated user
// ABOUTME: Provides WithUser/FromContext used by handlers after the middleware runs

package auth

import (
	"context"

	"github.com/localloop/localloop/internal/store"
)

// userContextKey is the key type for storing the user in context.Context.
type userContextKey struct{}

// WithUser returns a new context with the authenticated user attached.
func WithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// FromContext retrieves the authenticated user, returning nil if not present.
func FromContext(ctx context.Context) *store.User {
	user, ok := ctx.Value(userContextKey{}).(*store.User)
	if !ok {
		return nil
	}
	return user
}

// MustFromContext retrieves the authenticated user, panicking if not present.
// Only for handlers behind the auth middleware.
func MustFromContext(ctx context.Context) *store.User {
	user := FromContext(ctx)
	if user == nil {
		panic("auth: user not found in context")
	}
	return user
}
