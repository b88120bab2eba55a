package httpapi

import (
	"net/http"
)

// withAuth enforces the external-interface credential contract (spec
// §6): a session cookie, or an X-API-Key header accompanied by
// X-Org-Id. Full session/membership validation is an explicit Non-goal
// (session/magic-link auth is out of scope); this middleware only
// enforces the header/cookie contract so every downstream handler can
// assume a credential was presented.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("session"); err == nil {
			next(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != "" && r.Header.Get("X-Org-Id") != "" {
			next(w, r)
			return
		}
		respondError(w, http.StatusUnauthorized, errUnauthorized)
	}
}
