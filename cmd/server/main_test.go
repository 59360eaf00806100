package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/codeact/pkg/auth"
	"github.com/rhuss/codeact/pkg/config"
	"github.com/rhuss/codeact/pkg/provider/openai"
	"github.com/rhuss/codeact/pkg/transport"
)

func TestNewAuthChain(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.AuthConfig
		header      string
		wantErr     bool
		wantYes     bool
		wantSubject string
	}{
		{
			name:        "none uses anonymous subject",
			cfg:         config.AuthConfig{Type: "none", AnonymousSubject: "local"},
			wantYes:     true,
			wantSubject: "local",
		},
		{
			name: "apikey accepts known key",
			cfg: config.AuthConfig{Type: "apikey", APIKeys: []config.APIKeyConfig{
				{Key: "secret", Subject: "alice"},
			}},
			header:      "Bearer secret",
			wantYes:     true,
			wantSubject: "alice",
		},
		{
			name: "apikey rejects missing credentials",
			cfg: config.AuthConfig{Type: "apikey", APIKeys: []config.APIKeyConfig{
				{Key: "secret", Subject: "alice"},
			}},
		},
		{
			name:    "unknown type",
			cfg:     config.AuthConfig{Type: "ldap"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, err := newAuthChain(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}

			r := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			res := chain.Authenticate(context.Background(), r)
			if got := res.Decision == auth.Yes; got != tt.wantYes {
				t.Fatalf("decision = %v, want yes=%v", res.Decision, tt.wantYes)
			}
			if tt.wantYes && res.Identity.Subject != tt.wantSubject {
				t.Errorf("subject = %q, want %q", res.Identity.Subject, tt.wantSubject)
			}
		})
	}
}

func TestNewSandboxBackend(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.SandboxConfig
		want string
	}{
		{"mock", config.SandboxConfig{Backend: "mock"}, "mock"},
		{"remote url", config.SandboxConfig{Backend: "remote", Remote: config.RemoteSandboxConfig{URL: "http://sandbox:8080"}}, "remote"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := newSandboxBackend(tt.cfg)
			if err != nil {
				t.Fatal(err)
			}
			if b.Name() != tt.want {
				t.Errorf("backend = %q, want %q", b.Name(), tt.want)
			}
		})
	}
}

func TestNewStoreMemory(t *testing.T) {
	s, err := newStore(context.Background(), config.StorageConfig{Type: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check: %v", err)
	}
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"healthy", nil, http.StatusOK},
		{"unhealthy", errors.New("db down"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := readyHandler(transport.HealthCheckFunc(func(context.Context) error { return tt.err }))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCheckModel(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"id":"served","object":"model","owned_by":"test"}]}`))
	}))
	defer backend.Close()

	prov := openai.New(openai.Config{BaseURL: backend.URL + "/v1"})
	defer prov.Close()

	// Neither call may fail or block; mismatches only log.
	checkModel(context.Background(), prov, "served")
	checkModel(context.Background(), prov, "missing")

	down := openai.New(openai.Config{BaseURL: "http://127.0.0.1:1/v1"})
	checkModel(context.Background(), down, "served")
}
