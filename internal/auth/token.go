// SPDX-License-Identifier: MIT

// Package auth implements bearer-token authentication for the v2d API.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ExtractToken retrieves the API token from the request.
// Only the Authorization header is honored; query-parameter tokens leak into
// proxy logs and are not supported.
func ExtractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// AuthorizeToken returns true if got matches expected using constant-time
// comparison. Empty tokens are always treated as unauthorized.
func AuthorizeToken(got, expected string) bool {
	if strings.TrimSpace(expected) == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// Authenticator resolves bearer tokens to user identities.
type Authenticator struct {
	tokens map[string]string // token -> user id
}

// NewAuthenticator builds an Authenticator from a token -> user map.
func NewAuthenticator(tokens map[string]string) *Authenticator {
	cp := make(map[string]string, len(tokens))
	for tok, user := range tokens {
		cp[tok] = user
	}
	return &Authenticator{tokens: cp}
}

// Enabled reports whether any credentials are configured. When false the API
// must fail closed.
func (a *Authenticator) Enabled() bool {
	return len(a.tokens) > 0
}

// Resolve returns the user ID owning the given token. The scan is
// constant-time per candidate so a mismatch cannot be timed against a match.
func (a *Authenticator) Resolve(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	user := ""
	found := false
	for candidate, owner := range a.tokens {
		if AuthorizeToken(token, candidate) {
			user = owner
			found = true
		}
	}
	return user, found
}
