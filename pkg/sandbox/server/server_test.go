package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rhuss/codeact/pkg/sandbox"
	"github.com/rhuss/codeact/pkg/sandbox/mock"
)

func newTestServer(t *testing.T, mcfg mock.Config, cfg Config) (*Server, *httptest.Server, *mock.Backend) {
	t.Helper()
	backend := mock.New(mcfg)
	srv := New(backend, cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts, backend
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStatelessExecute(t *testing.T) {
	var seen sandbox.Program
	_, ts, backend := newTestServer(t, mock.Config{RunFunc: func(_ context.Context, p sandbox.Program) (*sandbox.Output, error) {
		seen = p
		return &sandbox.Output{Stdout: "42\n"}, nil
	}}, Config{MaxTimeout: 10 * time.Second})

	resp := doJSON(t, http.MethodPost, ts.URL+"/execute", ExecuteRequest{Code: "print(42)", TimeoutMs: 60_000})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out ExecuteResponse
	json.NewDecoder(resp.Body).Decode(&out)
	if out.Status != "success" || out.Stdout != "42\n" {
		t.Errorf("response = %+v", out)
	}
	if seen.Timeout != 10*time.Second {
		t.Errorf("timeout = %v, want capped 10s", seen.Timeout)
	}
	if seen.Language != sandbox.Python {
		t.Errorf("language = %q, want python default", seen.Language)
	}
	if backend.Opened() != 1 || backend.Closed() != 1 {
		t.Errorf("opened=%d closed=%d, want instance torn down", backend.Opened(), backend.Closed())
	}
}

func TestExecuteValidation(t *testing.T) {
	_, ts, _ := newTestServer(t, mock.Config{}, Config{})

	tests := []struct {
		name string
		body any
	}{
		{"missing code", ExecuteRequest{}},
		{"unsupported language", ExecuteRequest{Code: "x", Language: "ruby"}},
		{"malformed json", "{not json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, ts.URL+"/execute", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestExecuteAtCapacity(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	_, ts, _ := newTestServer(t, mock.Config{RunFunc: func(context.Context, sandbox.Program) (*sandbox.Output, error) {
		close(started)
		<-release
		return &sandbox.Output{}, nil
	}}, Config{MaxConcurrent: 1})

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := http.Post(ts.URL+"/execute", "application/json", bytes.NewBufferString(`{"code":"x"}`))
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-started

	resp := doJSON(t, http.MethodPost, ts.URL+"/execute", ExecuteRequest{Code: "y"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
	close(release)
	<-done
}

func TestSessionLifecycle(t *testing.T) {
	srv, ts, backend := newTestServer(t, mock.Config{}, Config{})

	resp := doJSON(t, http.MethodPost, ts.URL+"/sessions", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var sess SessionResponse
	json.NewDecoder(resp.Body).Decode(&sess)
	if sess.ID == "" {
		t.Fatal("empty session id")
	}
	base := ts.URL + "/sessions/" + sess.ID

	resp = doJSON(t, http.MethodPut, base+"/file?path=/notes/a.txt", FileContent{Content: "hi"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("write status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, base+"/file?path=notes/a.txt", nil)
	var fc FileContent
	json.NewDecoder(resp.Body).Decode(&fc)
	if fc.Content != "hi" {
		t.Errorf("read content = %q, want hi", fc.Content)
	}

	resp = doJSON(t, http.MethodGet, base+"/files?path=/", nil)
	var files FilesResponse
	json.NewDecoder(resp.Body).Decode(&files)
	if len(files.Files) != 1 || files.Files[0] != "notes" {
		t.Errorf("files = %v, want [notes]", files.Files)
	}

	resp = doJSON(t, http.MethodGet, base+"/file?path=missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing read status = %d, want 404", resp.StatusCode)
	}
	var e ErrorResponse
	json.NewDecoder(resp.Body).Decode(&e)
	if e.Code != CodeNotFound {
		t.Errorf("error code = %q, want %q", e.Code, CodeNotFound)
	}

	resp = doJSON(t, http.MethodGet, base+"/file?path=../../etc/passwd", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("escaping read status = %d, want 400", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, base+"/install", InstallRequest{Package: "numpy", Version: "2.0.0"})
	var inst ExecuteResponse
	json.NewDecoder(resp.Body).Decode(&inst)
	if inst.Status != "success" {
		t.Errorf("install response = %+v", inst)
	}

	resp = doJSON(t, http.MethodDelete, base, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	if backend.Closed() != 1 {
		t.Errorf("closed = %d after delete, want 1", backend.Closed())
	}

	resp = doJSON(t, http.MethodPost, base+"/execute", ExecuteRequest{Code: "x"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("execute on deleted session status = %d, want 404", resp.StatusCode)
	}

	srv.mu.Lock()
	n := len(srv.sessions)
	srv.mu.Unlock()
	if n != 0 {
		t.Errorf("sessions = %d, want 0", n)
	}
}

func TestSessionLimit(t *testing.T) {
	_, ts, _ := newTestServer(t, mock.Config{}, Config{MaxSessions: 1})
	if resp := doJSON(t, http.MethodPost, ts.URL+"/sessions", nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first session status = %d", resp.StatusCode)
	}
	if resp := doJSON(t, http.MethodPost, ts.URL+"/sessions", nil); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second session status = %d, want 429", resp.StatusCode)
	}
}

func TestReapIdle(t *testing.T) {
	srv, ts, backend := newTestServer(t, mock.Config{}, Config{IdleTimeout: time.Minute})
	doJSON(t, http.MethodPost, ts.URL+"/sessions", nil)

	srv.reapIdle(time.Now())
	if backend.Closed() != 0 {
		t.Fatal("fresh session was reaped")
	}
	srv.reapIdle(time.Now().Add(2 * time.Minute))
	if backend.Closed() != 1 {
		t.Errorf("closed = %d, want idle session reaped", backend.Closed())
	}
}

func TestHealth(t *testing.T) {
	_, ts, _ := newTestServer(t, mock.Config{}, Config{MaxConcurrent: 7, RuntimeVersion: "Python 3.12"})
	resp := doJSON(t, http.MethodGet, ts.URL+"/health", nil)
	var h HealthResponse
	json.NewDecoder(resp.Body).Decode(&h)
	if h.Status != "healthy" || h.Backend != "mock" || h.Capacity != 7 || h.RuntimeVersion != "Python 3.12" {
		t.Errorf("health = %+v", h)
	}
}
