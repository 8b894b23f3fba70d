// Package authmiddleware provides the fabric's optional bearer-token auth
// (spec §9 Open Question: auth is opt-in, default disabled for local dev),
// in the style of chi's middleware signature (func(http.Handler) http.Handler).
package authmiddleware

import "net/http"

// RequireToken returns middleware that rejects requests lacking an exact
// "Authorization: Bearer <token>" match with 401, mutating no state. If
// token is empty, the returned middleware is a no-op, matching the
// default-disabled posture.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		expected := "Bearer " + token
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != expected {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
