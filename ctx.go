package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

var userCtxKey = &contextKey{"user"}

type contextKey struct {
	name string
}

// TemplateUserKey is the router locals key holding the current user
var TemplateUserKey = "current_user"

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok && raw != nil
}

// CurrentUser returns the user loaded for this request, if any
func CurrentUser(c router.Context) (*User, bool) {
	if raw := c.Locals(TemplateUserKey); raw != nil {
		if user, ok := raw.(*User); ok && user != nil {
			return user, true
		}
	}
	return FromContext(c.Context())
}

// IsAuthenticated reports whether a user was loaded for this request
func IsAuthenticated(c router.Context) bool {
	_, ok := CurrentUser(c)
	return ok
}

func setCurrentUser(c router.Context, user *User) {
	c.Locals(TemplateUserKey, user)
	c.SetContext(WithContext(c.Context(), user))
}
