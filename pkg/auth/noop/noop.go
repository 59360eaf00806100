// Package noop provides an authenticator that accepts all requests as a
// single fixed user. Used for local single-user deployments.
package noop

import (
	"context"
	"net/http"

	"github.com/rhuss/codeact/pkg/auth"
)

// DefaultSubject is used when Subject is empty.
const DefaultSubject = "anonymous"

// Authenticator always returns Yes with the configured identity.
type Authenticator struct {
	// Subject is the user ID every request runs as.
	Subject string
}

var _ auth.Authenticator = (*Authenticator)(nil)

func (a *Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.AuthResult {
	subject := a.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	return auth.AuthResult{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject:     subject,
			LoginMethod: "none",
			ServiceTier: "default",
		},
	}
}
