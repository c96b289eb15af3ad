package sessions

import (
	"context"
	"strings"
)

// GuardKind selects the policy a Guard applies.
type GuardKind int

const (
	// Protected routes require an authenticated session.
	Protected GuardKind = iota
	// PublicOnly routes (login, registration) send authenticated users home.
	PublicOnly
)

// DefaultPublicPaths are the routes reachable without a session.
var DefaultPublicPaths = []string{"/login", "/register", "/signup", "/forgot-password", "/reset-password"}

// Decision is the outcome of a guard check.
type Decision struct {
	Allow    bool
	Redirect string
}

// Guard gates a route against the session.
type Guard struct {
	Kind        GuardKind
	Store       *Store
	LoginPath   string
	PublicPaths []string
}

func (g Guard) loginPath() string {
	if g.LoginPath == "" {
		return "/login"
	}
	return g.LoginPath
}

// Check decides whether path may be shown.
func (g Guard) Check(ctx context.Context, path string) Decision {
	switch g.Kind {
	case PublicOnly:
		if g.Store.IsAuthenticated(ctx) && IsPublicPath(path, g.PublicPaths) {
			return Decision{Redirect: g.Store.HomePage(ctx)}
		}
		return Decision{Allow: true}
	default:
		if g.Store.IsAuthenticated(ctx) {
			return Decision{Allow: true}
		}
		return Decision{Redirect: g.loginPath()}
	}
}

// IsPublicPath reports whether path is, or is beneath, one of the public
// routes. A nil list means DefaultPublicPaths.
func IsPublicPath(path string, public []string) bool {
	if public == nil {
		public = DefaultPublicPaths
	}
	for _, p := range public {
		if path == p || strings.HasPrefix(path, p+"/") || strings.HasPrefix(path, p+"?") {
			return true
		}
	}
	return false
}
