package middleware

import "net/http"

// DefaultUser returns middleware that fills in the X-User-ID header when the
// caller sent none. Single-operator deployments configure one default user and
// skip the header entirely.
func DefaultUser(user string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-User-ID") == "" {
				r.Header.Set("X-User-ID", user)
			}
			next.ServeHTTP(w, r)
		})
	}
}
