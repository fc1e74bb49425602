// ABOUTME: HTTP middleware for JWT authentication on gateway endpoints
// ABOUTME: Reads the bearer token, verifies it, and checks one capability

package auth

import (
	"errors"
	"net/http"
	"strings"
)

// Authorization header errors
var (
	ErrNoAuthorization = errors.New("missing authorization header")
	ErrNotBearer       = errors.New("authorization header is not a bearer token")
)

// BearerToken returns the token of an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrNoAuthorization
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", ErrNotBearer
	}
	return token, nil
}

// Middleware requires a valid bearer JWT holding capability (if non-empty).
// The verified principal is attached to the request context.
func Middleware(verifier TokenVerifier, capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, status := authorize(verifier, r.Header.Get("Authorization"), capability)
			if principal == nil {
				http.Error(w, http.StatusText(status), status)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// authorize returns the principal for header, or the status to refuse with.
func authorize(verifier TokenVerifier, header, capability string) (*Principal, int) {
	token, err := BearerToken(header)
	if err != nil {
		return nil, http.StatusUnauthorized
	}
	principal, err := verifier.Verify(token)
	if err != nil {
		return nil, http.StatusUnauthorized
	}
	if capability != "" && !principal.HasCapability(capability) {
		return nil, http.StatusForbidden
	}
	return principal, http.StatusOK
}
