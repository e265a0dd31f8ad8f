// ABOUTME: HTTP middleware for bearer-token authentication on API endpoints
// ABOUTME: Extracts the token from the Authorization header and adds the user to context

package auth

import (
	"net/http"
	"strings"
)

// BearerToken extracts a bearer token from an Authorization header value.
// Returns the empty string when the header is missing or malformed.
func BearerToken(authHeader string) string {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authHeader, "Bearer ")
}

// Middleware authenticates every request and attaches the user to the
// request context. Requests without a live session get 401 with a uniform
// body regardless of why the token failed.
func Middleware(authenticator *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r.Header.Get("Authorization"))

			user, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				WriteUnauthenticated(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// WriteUnauthenticated writes the uniform 401 response.
func WriteUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthenticated"}` + "\n"))
}
