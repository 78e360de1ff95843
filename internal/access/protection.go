// Package access guards the server's mutating endpoints with HTTP Basic
// credentials backed by a bcrypt password hash. Read-only endpoints and the
// event WebSocket are covered by API keys instead.
package access

import (
	"crypto/subtle"
	"net/http"

	"github.com/jjnetworks/notify/internal/auth"
)

// Guard authenticates operators for billing and client mutations.
type Guard struct {
	user         string
	passwordHash string
}

// New creates a Guard. Empty credentials disable the guard, which is the
// expected setup on a trusted LAN.
func New(user, passwordHash string) *Guard {
	return &Guard{user: user, passwordHash: passwordHash}
}

// Enabled reports whether credentials were configured.
func (g *Guard) Enabled() bool {
	return g.user != "" && g.passwordHash != ""
}

// Require wraps next with a Basic auth check. When the guard is disabled the
// handler passes through untouched.
func (g *Guard) Require(next http.Handler) http.Handler {
	if !g.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(g.user)) != 1 ||
			!auth.VerifyPasswordHash(g.passwordHash, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="notify"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
