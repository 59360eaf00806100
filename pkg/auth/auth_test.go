package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/codeact/pkg/api"
)

// mockAuthn is a test authenticator with configurable behavior.
type mockAuthn struct {
	result AuthResult
}

func (m *mockAuthn) Authenticate(_ context.Context, _ *http.Request) AuthResult {
	return m.result
}

func TestAuthChain_FirstYesStops(t *testing.T) {
	chain := &AuthChain{
		Authenticators: []Authenticator{
			&mockAuthn{result: AuthResult{Decision: Yes, Identity: &Identity{Subject: "alice"}}},
			&mockAuthn{result: AuthResult{Decision: No, Err: ErrUnauthenticated}},
		},
		DefaultDecision: No,
	}

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(context.Background(), r)

	if result.Decision != Yes {
		t.Errorf("Decision = %d, want Yes", result.Decision)
	}
	if result.Identity.Subject != "alice" {
		t.Errorf("Subject = %q, want %q", result.Identity.Subject, "alice")
	}
}

func TestAuthChain_FirstNoStops(t *testing.T) {
	chain := &AuthChain{
		Authenticators: []Authenticator{
			&mockAuthn{result: AuthResult{Decision: No, Err: ErrUnauthenticated}},
			&mockAuthn{result: AuthResult{Decision: Yes, Identity: &Identity{Subject: "bob"}}},
		},
		DefaultDecision: No,
	}

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(context.Background(), r)

	if result.Decision != No {
		t.Errorf("Decision = %d, want No", result.Decision)
	}
}

func TestAuthChain_AllAbstain_DefaultReject(t *testing.T) {
	chain := &AuthChain{
		Authenticators: []Authenticator{
			&mockAuthn{result: AuthResult{Decision: Abstain}},
			&mockAuthn{result: AuthResult{Decision: Abstain}},
		},
		DefaultDecision: No,
	}

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(context.Background(), r)

	if result.Decision != No {
		t.Errorf("Decision = %d, want No (default reject)", result.Decision)
	}
}

func TestAuthChain_AllAbstain_DefaultAccept(t *testing.T) {
	chain := &AuthChain{
		Authenticators: []Authenticator{
			&mockAuthn{result: AuthResult{Decision: Abstain}},
		},
		DefaultDecision: Yes,
	}

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(context.Background(), r)

	if result.Decision != Yes {
		t.Errorf("Decision = %d, want Yes (default accept)", result.Decision)
	}
	if result.Identity.Subject != "anonymous" {
		t.Errorf("Subject = %q, want %q", result.Identity.Subject, "anonymous")
	}
}

func TestAuthChain_Empty_DefaultReject(t *testing.T) {
	chain := &AuthChain{DefaultDecision: No}

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(context.Background(), r)

	if result.Decision != No {
		t.Errorf("Decision = %d, want No (empty chain)", result.Decision)
	}
}

func TestAuthChain_AbstainThenYes(t *testing.T) {
	chain := &AuthChain{
		Authenticators: []Authenticator{
			&mockAuthn{result: AuthResult{Decision: Abstain}},
			&mockAuthn{result: AuthResult{Decision: Yes, Identity: &Identity{Subject: "jwt-user"}}},
		},
		DefaultDecision: No,
	}

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(context.Background(), r)

	if result.Decision != Yes {
		t.Errorf("Decision = %d, want Yes", result.Decision)
	}
	if result.Identity.Subject != "jwt-user" {
		t.Errorf("Subject = %q, want %q", result.Identity.Subject, "jwt-user")
	}
}

func TestIdentity_User(t *testing.T) {
	tests := []struct {
		name     string
		id       *Identity
		wantRole api.UserRole
	}{
		{"plain", &Identity{Subject: "alice", Name: "Alice", Email: "a@example.com", LoginMethod: "jwt"}, ""},
		{"admin scope", &Identity{Subject: "root", Scopes: []string{"read", ScopeAdmin}}, api.UserRoleAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := tt.id.User()
			if u.ID != tt.id.Subject {
				t.Errorf("ID = %q, want %q", u.ID, tt.id.Subject)
			}
			if u.Name != tt.id.Name || u.Email != tt.id.Email || u.LoginMethod != tt.id.LoginMethod {
				t.Errorf("profile not copied: %+v", u)
			}
			if u.Role != tt.wantRole {
				t.Errorf("Role = %q, want %q", u.Role, tt.wantRole)
			}
		})
	}

	var nilID *Identity
	if nilID.HasScope(ScopeAdmin) {
		t.Error("nil identity should have no scopes")
	}
}

func TestUserIDFromContext(t *testing.T) {
	tests := []struct {
		name   string
		ctx    context.Context
		wantID string
		wantOK bool
	}{
		{"no identity", context.Background(), "", false},
		{"empty subject", SetIdentity(context.Background(), &Identity{}), "", false},
		{"authenticated", SetIdentity(context.Background(), &Identity{Subject: "alice"}), "alice", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := UserID(tt.ctx)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("UserID = %q, %v; want %q, %v", id, ok, tt.wantID, tt.wantOK)
			}
		})
	}

	if IdentityFromContext(context.Background()) != nil {
		t.Error("expected nil identity from empty context")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		wantToken   string
		wantPresent bool
	}{
		{"missing", "", "", false},
		{"basic scheme", "Basic dXNlcjpwYXNz", "", false},
		{"scheme only", "Bearer", "", false},
		{"empty token", "Bearer ", "", true},
		{"token", "Bearer sk-1", "sk-1", true},
		{"lowercase scheme", "bearer sk-1", "sk-1", true},
		{"padded token", "Bearer   sk-1 ", "sk-1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			token, present := BearerToken(r)
			if token != tt.wantToken || present != tt.wantPresent {
				t.Errorf("BearerToken = %q, %v; want %q, %v", token, present, tt.wantToken, tt.wantPresent)
			}
		})
	}
}
