// Package jwt authenticates callers by RSA-signed bearer tokens whose
// signing keys are published at a JWKS endpoint.
//
// Token claims fill the user profile recorded on sign-in: the subject
// becomes the user ID, and display name, email, scopes and the service
// tier used for usage limits come from configurable claims.
package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rhuss/codeact/pkg/auth"
	"github.com/rhuss/codeact/pkg/debug"
)

// LoginMethod is recorded on users authenticated by this package.
const LoginMethod = "jwt"

// maxJWKSBytes caps the JWKS document size.
const maxJWKSBytes = 1 << 20

// Config holds the JWT authenticator configuration.
type Config struct {
	// Issuer and Audience are checked when set.
	Issuer   string
	Audience string

	// JWKSURL serves the signing keys.
	JWKSURL string

	// Claim names. Defaults: "sub", "name", "email" and "scope". The
	// scopes claim may be a space-separated string or an array.
	UserClaim   string
	NameClaim   string
	EmailClaim  string
	ScopesClaim string

	// TierClaim names the claim holding the caller's service tier. Empty
	// leaves the tier unset.
	TierClaim string

	// Leeway tolerates clock skew on exp, nbf and iat. Default: 30s.
	Leeway time.Duration

	// CacheTTL is how long fetched keys are trusted. Default: 1h.
	CacheTTL time.Duration

	// MinRefresh is the shortest interval between two JWKS fetches caused
	// by unknown key IDs. Default: 1m.
	MinRefresh time.Duration

	// HTTPClient fetches the JWKS. Default: http.DefaultClient.
	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.NameClaim == "" {
		c.NameClaim = "name"
	}
	if c.EmailClaim == "" {
		c.EmailClaim = "email"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.Leeway == 0 {
		c.Leeway = 30 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.MinRefresh <= 0 {
		c.MinRefresh = time.Minute
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Authenticator validates bearer tokens against a JWKS endpoint.
type Authenticator struct {
	cfg    Config
	parser *jwtlib.Parser
	keys   *keySet
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New creates a JWT authenticator.
func New(cfg Config) *Authenticator {
	cfg.applyDefaults()

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}

	return &Authenticator{
		cfg:    cfg,
		parser: jwtlib.NewParser(opts...),
		keys: &keySet{
			url:        cfg.JWKSURL,
			client:     cfg.HTTPClient,
			ttl:        cfg.CacheTTL,
			minRefresh: cfg.MinRefresh,
		},
	}
}

// Authenticate abstains without a bearer credential, votes No for a token
// that fails validation and Yes with the token's identity otherwise.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.AuthResult {
	raw, present := auth.BearerToken(r)
	if !present {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	if raw == "" {
		return reject(errors.New("empty bearer token"))
	}

	claims := jwtlib.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return a.keys.key(ctx, kid)
	})
	if err != nil {
		debug.Log("auth", "jwt rejected", "error", err)
		return reject(fmt.Errorf("invalid JWT: %w", err))
	}

	id, err := a.identity(claims)
	if err != nil {
		return reject(err)
	}
	return auth.AuthResult{Decision: auth.Yes, Identity: id}
}

func reject(err error) auth.AuthResult {
	return auth.AuthResult{Decision: auth.No, Err: err}
}

// identity builds the caller's profile from validated claims.
func (a *Authenticator) identity(claims jwtlib.MapClaims) (*auth.Identity, error) {
	subject := stringClaim(claims, a.cfg.UserClaim)
	if subject == "" {
		return nil, fmt.Errorf("JWT missing %q claim", a.cfg.UserClaim)
	}

	id := &auth.Identity{
		Subject:     subject,
		Name:        stringClaim(claims, a.cfg.NameClaim),
		Email:       stringClaim(claims, a.cfg.EmailClaim),
		LoginMethod: LoginMethod,
		Scopes:      scopesClaim(claims, a.cfg.ScopesClaim),
	}
	if a.cfg.TierClaim != "" {
		id.ServiceTier = stringClaim(claims, a.cfg.TierClaim)
	}
	if iss := stringClaim(claims, "iss"); iss != "" {
		id.Metadata = map[string]string{"issuer": iss}
	}
	return id, nil
}

func stringClaim(claims jwtlib.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}

func scopesClaim(claims jwtlib.MapClaims, name string) []string {
	var scopes []string
	switch v := claims[name].(type) {
	case string:
		scopes = strings.Fields(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				scopes = append(scopes, s)
			}
		}
	}
	if len(scopes) == 0 {
		return nil
	}
	return scopes
}

// keySet caches the RSA signing keys of a JWKS endpoint.
type keySet struct {
	url        string
	client     *http.Client
	ttl        time.Duration
	minRefresh time.Duration

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// key returns the key for kid, fetching the JWKS when the cache expired or
// kid is unknown. Unknown IDs trigger at most one fetch per minRefresh. If
// a fetch fails, a key from the expired set is still served.
func (s *keySet) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	age := time.Since(s.fetchedAt)
	k, known := s.keys[kid]
	if known && age < s.ttl {
		return k, nil
	}
	if !known && !s.fetchedAt.IsZero() && age < s.minRefresh {
		return nil, fmt.Errorf("key %q not in JWKS", kid)
	}

	if err := s.refresh(ctx); err != nil {
		if known {
			slog.Warn("JWKS refresh failed, using cached key", "kid", kid, "error", err)
			return k, nil
		}
		return nil, err
	}

	if k, ok := s.keys[kid]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("key %q not in JWKS", kid)
}

// refresh replaces the cached keys. Caller holds s.mu.
func (s *keySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("creating JWKS request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBytes)).Decode(&doc); err != nil {
		return fmt.Errorf("parsing JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			slog.Warn("skipping JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}

	s.keys = keys
	s.fetchedAt = time.Now()
	debug.Log("auth", "JWKS refreshed", "keys", len(keys), "url", s.url)
	return nil
}

// jwk is one entry of a JSON Web Key Set.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k jwk) publicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() > 1<<31-1 {
		return nil, errors.New("RSA exponent too large")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
