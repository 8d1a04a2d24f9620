package casbin

import (
	"net/http"

	"github.com/casarerpa/orchestrator/internal/auth/jwt"
)

// Require returns middleware that denies the request with 403 unless the
// authenticated subject (set by auth/jwt.Middleware) is allowed to
// perform action on resource. A request with no subject gets 401, and an
// enforcer error gets 500. Intended to wrap one Admin API route at a
// time, since resource/action are fixed per call site.
func Require(e *Enforcer, resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := jwt.Subject(r)
			if subject == "" {
				http.Error(w, "unauthenticated", http.StatusUnauthorized)
				return
			}
			allowed, err := e.Allow(subject, resource, action)
			if err != nil {
				http.Error(w, "authorization error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(r.Context()))
		})
	}
}
