package noop

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/codeact/pkg/auth"
)

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		want    string
	}{
		{"default subject", "", DefaultSubject},
		{"configured subject", "local", "local"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Authenticator{Subject: tt.subject}
			res := a.Authenticate(context.Background(), httptest.NewRequest("GET", "/", nil))
			if res.Decision != auth.Yes {
				t.Fatalf("decision = %v, want Yes", res.Decision)
			}
			if res.Identity.Subject != tt.want {
				t.Errorf("subject = %q, want %q", res.Identity.Subject, tt.want)
			}
			if res.Identity.ServiceTier != "default" {
				t.Errorf("tier = %q", res.Identity.ServiceTier)
			}
		})
	}
}
