package guard

import (
	"context"
	"net/http"
)

// Provider reports the authentication state of a request. The guard only
// consumes this state; how it is computed is the provider's business.
type Provider interface {
	AuthState(r *http.Request) AuthState
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(r *http.Request) AuthState

// AuthState calls f.
func (f ProviderFunc) AuthState(r *http.Request) AuthState {
	return f(r)
}

type userKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom returns the user stored by WithUser.
func UserFrom(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userKey{}).(*User)
	return u, ok && u != nil
}
