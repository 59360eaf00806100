package auth

import (
	"net/http"
	"strings"
)

// BearerToken returns the credential of an "Authorization: Bearer" header.
// present is false when the request carries no bearer credential, so an
// authenticator can abstain; an empty token with present set is a
// malformed credential.
func BearerToken(r *http.Request) (token string, present bool) {
	scheme, rest, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
