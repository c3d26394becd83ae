// Package guard gates access on an externally supplied authentication state.
//
// The guard holds no state of its own. It maps an AuthState to what should be
// shown and, for unauthenticated users, a single navigation to the login
// destination:
//
//	loading          → placeholder, no navigation
//	unauthenticated  → nothing, navigate to login
//	authenticated    → children
package guard

import (
	"context"

	"github.com/zoobzio/capitan"
)

// DefaultLoginPath is the login destination used when none is configured.
const DefaultLoginPath = "/login"

// User identifies an authenticated principal.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// AuthState is what an authentication provider reports.
type AuthState struct {
	User    *User `json:"user"`
	Loading bool  `json:"loading"`
}

// Status is the guard's view of an AuthState.
type Status int

const (
	// StatusLoading means the provider has not resolved the user yet.
	StatusLoading Status = iota

	// StatusAuthenticated means a user is present.
	StatusAuthenticated

	// StatusUnauthenticated means resolution finished without a user.
	StatusUnauthenticated
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Status classifies the state. Loading wins over a present user so that a
// provider refreshing its session does not flash protected content.
func (a AuthState) Status() Status {
	switch {
	case a.Loading:
		return StatusLoading
	case a.User != nil:
		return StatusAuthenticated
	default:
		return StatusUnauthenticated
	}
}

// View is what the guarded subtree should render.
type View int

const (
	// ViewPlaceholder renders a loading placeholder instead of the children.
	ViewPlaceholder View = iota

	// ViewChildren renders the guarded children unchanged.
	ViewChildren

	// ViewNone renders nothing.
	ViewNone
)

// String returns the string representation of the view.
func (v View) String() string {
	switch v {
	case ViewPlaceholder:
		return "placeholder"
	case ViewChildren:
		return "children"
	case ViewNone:
		return "none"
	default:
		return "unknown"
	}
}

// Navigator performs an application-level redirect. It is fire-and-forget.
type Navigator interface {
	Navigate(ctx context.Context, path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, path string)

// Navigate calls f.
func (f NavigatorFunc) Navigate(ctx context.Context, path string) {
	f(ctx, path)
}

// Guard maps authentication state to a View and a navigation side effect.
type Guard struct {
	navigator Navigator
	loginPath string
}

// Option configures a Guard.
type Option func(*Guard)

// WithLoginPath sets the navigation destination for unauthenticated users.
func WithLoginPath(path string) Option {
	return func(g *Guard) {
		g.loginPath = path
	}
}

// New creates a Guard that redirects through nav.
func New(nav Navigator, opts ...Option) *Guard {
	g := &Guard{
		navigator: nav,
		loginPath: DefaultLoginPath,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// LoginPath returns the configured login destination.
func (g *Guard) LoginPath() string {
	return g.loginPath
}

// Resolve returns the View for state. For an unauthenticated state it
// navigates to the login path exactly once per call.
func (g *Guard) Resolve(ctx context.Context, state AuthState) View {
	return g.resolve(ctx, state, g.navigator)
}

// Follow resolves every state received from states and passes the View to
// render. Navigation happens when the status becomes unauthenticated, not
// again for repeated unauthenticated states. Follow returns when ctx is done
// or states is closed.
func (g *Guard) Follow(ctx context.Context, states <-chan AuthState, render func(View)) {
	last := Status(-1)
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			nav := g.navigator
			if state.Status() == StatusUnauthenticated && last == StatusUnauthenticated {
				nav = nil
			}
			last = state.Status()
			view := g.resolve(ctx, state, nav)
			if render != nil {
				render(view)
			}
		}
	}
}

func (g *Guard) resolve(ctx context.Context, state AuthState, nav Navigator) View {
	status := state.Status()
	capitan.Emit(ctx, GuardResolved,
		KeyStatus.Field(status.String()),
	)

	switch status {
	case StatusLoading:
		return ViewPlaceholder
	case StatusAuthenticated:
		return ViewChildren
	default:
		if nav != nil {
			capitan.Emit(ctx, GuardRedirected,
				KeyPath.Field(g.loginPath),
			)
			nav.Navigate(ctx, g.loginPath)
		}
		return ViewNone
	}
}
