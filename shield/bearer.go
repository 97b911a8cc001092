package shield

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// BearerAuth requires "Authorization: Bearer <token>" where token matches
// the bcrypt hash tokenHash. Requests whose path is in public, and every
// request when tokenHash is empty, pass through.
func BearerAuth(tokenHash string, public ...string) func(http.Handler) http.Handler {
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}
	return func(next http.Handler) http.Handler {
		if tokenHash == "" {
			return next
		}
		hash := []byte(tokenHash)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" || bcrypt.CompareHashAndPassword(hash, []byte(token)) != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="pinstay"`)
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HashToken returns the bcrypt hash to put in configuration for token.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	return string(h), err
}
