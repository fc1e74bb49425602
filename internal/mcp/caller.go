// ABOUTME: Resolves who is calling the MCP endpoint from the request's credentials.
// ABOUTME: Path token, then ?token=, then Authorization: Bearer <JWT>.

package mcp

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/2389/roborock-gateway/internal/auth"
)

var (
	// errInvalidToken means a credential was presented and rejected. It never
	// falls back to anonymous access.
	errInvalidToken = errors.New("invalid or expired token")

	// errNoCredentials means the request carried nothing to verify.
	errNoCredentials = errors.New("no credentials")
)

// caller is the identity an MCP session acts as.
type caller struct {
	id   string
	caps []string
}

// presentedCredential returns the raw credential on the request and whether
// it is a bearer token. The path form /mcp/<token> must be a single segment.
func presentedCredential(r *http.Request) (cred string, bearer bool, err error) {
	if rest, ok := strings.CutPrefix(r.URL.Path, "/mcp/"); ok {
		rest = strings.TrimRight(rest, "/")
		if strings.Contains(rest, "/") {
			return "", false, errInvalidToken
		}
		if rest != "" {
			return rest, false, nil
		}
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, false, nil
	}
	if h := r.Header.Get("Authorization"); h != "" {
		tok, err := auth.BearerToken(h)
		if err != nil {
			return "", true, errInvalidToken
		}
		return tok, true, nil
	}
	return "", false, nil
}

// authenticate resolves the caller and the credential that identifies it.
// A bearer token with no JWT verifier configured counts as no credentials.
func (s *Server) authenticate(r *http.Request) (caller, string, error) {
	cred, bearer, err := presentedCredential(r)
	switch {
	case err != nil:
		return caller{}, "", err
	case cred == "":
		return caller{}, "", errNoCredentials
	case bearer && s.verifier == nil:
		return caller{}, cred, errNoCredentials
	case bearer:
		p, err := s.verifier.Verify(cred)
		if err != nil {
			return caller{}, "", errInvalidToken
		}
		return caller{id: "jwt:" + p.ID, caps: p.Capabilities}, cred, nil
	}

	if s.tokenStore != nil {
		if entry, ok := s.tokenStore.Lookup(cred); ok {
			return caller{id: "token:" + entry.Name, caps: entry.Capabilities}, cred, nil
		}
	}
	return caller{}, "", errInvalidToken
}

// allows reports whether the caller holds every required capability.
func (c caller) allows(required []string) bool {
	for _, want := range required {
		if !slices.Contains(c.caps, want) {
			return false
		}
	}
	return true
}
