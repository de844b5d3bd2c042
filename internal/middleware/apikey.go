package middleware

import (
	"crypto/subtle"
	"net/http"
)

// RequireAPIKey guards admin routes with a shared secret carried in the
// X-API-Key header. An empty configured key disables the routes entirely
// rather than leaving them open.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				http.Error(w, `{"error":"admin api disabled"}`, http.StatusServiceUnavailable)
				return
			}
			got := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
