package guard

import (
	"context"
	"net/http"
)

// DefaultRetryAfter is the Retry-After value, in seconds, sent while the
// provider is still loading.
const DefaultRetryAfter = "1"

// redirect is a per-request Navigator that answers with 302 Found.
type redirect struct {
	w http.ResponseWriter
	r *http.Request
}

func (n redirect) Navigate(_ context.Context, path string) {
	http.Redirect(n.w, n.r, path, http.StatusFound)
}

// Middleware applies the guard to HTTP requests:
//
//	loading          → 503 Service Unavailable with Retry-After
//	unauthenticated  → 302 Found to the login path
//	authenticated    → next, with the user available via UserFrom
//
// The Guard's own Navigator is not used; the redirect is the response.
func (g *Guard) Middleware(p Provider, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := p.AuthState(r)
		switch g.resolve(r.Context(), state, redirect{w: w, r: r}) {
		case ViewPlaceholder:
			w.Header().Set("Retry-After", DefaultRetryAfter)
			http.Error(w, "authentication pending", http.StatusServiceUnavailable)
		case ViewChildren:
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), state.User)))
		}
	})
}
