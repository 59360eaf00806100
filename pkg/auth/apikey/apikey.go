// Package apikey authenticates callers by static API keys from the server
// configuration. Keys arrive as a bearer token or in the X-API-Key header.
// Only SHA-256 digests of the keys are kept in memory.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rhuss/codeact/pkg/auth"
	"github.com/rhuss/codeact/pkg/debug"
)

// LoginMethod is recorded on users authenticated by an API key.
const LoginMethod = "apikey"

// HeaderName is the header checked when no bearer credential is sent.
const HeaderName = "X-API-Key"

// Key binds a secret to the user it signs in.
type Key struct {
	Secret   string
	Identity auth.Identity
}

type entry struct {
	digest [sha256.Size]byte
	// fingerprint names the key in logs and user metadata.
	fingerprint string
	identity    auth.Identity
}

// Authenticator matches presented keys against the configured set.
type Authenticator struct {
	entries []entry
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New hashes keys and returns an authenticator for them. Every key needs a
// secret and a subject, and no secret may appear twice.
func New(keys []Key) (*Authenticator, error) {
	a := &Authenticator{entries: make([]entry, 0, len(keys))}
	seen := make(map[[sha256.Size]byte]int, len(keys))

	var errs []error
	for i, k := range keys {
		if k.Secret == "" {
			errs = append(errs, fmt.Errorf("api key %d: empty secret", i))
			continue
		}
		if k.Identity.Subject == "" {
			errs = append(errs, fmt.Errorf("api key %d: empty subject", i))
			continue
		}
		digest := sha256.Sum256([]byte(k.Secret))
		if prev, dup := seen[digest]; dup {
			errs = append(errs, fmt.Errorf("api key %d: same secret as key %d", i, prev))
			continue
		}
		seen[digest] = i

		id := k.Identity
		if id.LoginMethod == "" {
			id.LoginMethod = LoginMethod
		}
		a.entries = append(a.entries, entry{
			digest:      digest,
			fingerprint: hex.EncodeToString(digest[:4]),
			identity:    id,
		})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return a, nil
}

// Authenticate abstains when the request carries no key, votes No for an
// unknown or empty key and Yes with the key's user otherwise.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	secret, present := auth.BearerToken(r)
	if !present {
		if v := r.Header.Values(HeaderName); len(v) > 0 {
			secret, present = strings.TrimSpace(v[0]), true
		}
	}
	if !present {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	if secret == "" {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	e := a.match(sha256.Sum256([]byte(secret)))
	if e == nil {
		debug.Log("auth", "api key rejected")
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	id := e.identity
	id.Metadata = make(map[string]string, len(e.identity.Metadata)+1)
	for k, v := range e.identity.Metadata {
		id.Metadata[k] = v
	}
	id.Metadata["key_fingerprint"] = e.fingerprint
	debug.Log("auth", "api key accepted", "subject", id.Subject, "key", e.fingerprint)
	return auth.AuthResult{Decision: auth.Yes, Identity: &id}
}

// match compares digest with every entry, so timing does not reveal which
// position matched.
func (a *Authenticator) match(digest [sha256.Size]byte) *entry {
	var found *entry
	for i := range a.entries {
		if subtle.ConstantTimeCompare(digest[:], a.entries[i].digest[:]) == 1 {
			found = &a.entries[i]
		}
	}
	return found
}
