// Package remote implements a sandbox backend that delegates to a sandbox
// server over HTTP. Each instance is a server-side session.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/codeact/pkg/debug"
	"github.com/rhuss/codeact/pkg/sandbox"
	"github.com/rhuss/codeact/pkg/sandbox/server"
)

// ErrAtCapacity is returned when the sandbox server rejects work with HTTP 429.
var ErrAtCapacity = errors.New("sandbox at capacity")

// Backend provisions sessions on remote sandbox servers.
type Backend struct {
	acquirer   Acquirer
	httpClient *http.Client
}

var _ sandbox.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.httpClient = c }
}

// New creates a remote backend.
func New(acquirer Acquirer, opts ...Option) *Backend {
	b := &Backend{
		acquirer: acquirer,
		httpClient: &http.Client{
			// Execution timeouts are enforced by the server.
			Timeout: 10 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns "remote".
func (b *Backend) Name() string { return "remote" }

// Open acquires a sandbox server and creates a session on it.
func (b *Backend) Open(ctx context.Context) (sandbox.Instance, error) {
	base, release, err := b.acquirer.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring sandbox: %w", err)
	}
	inst := &instance{backend: b, base: strings.TrimRight(base, "/"), release: release}

	var resp server.SessionResponse
	if err := inst.call(ctx, http.MethodPost, "/sessions", nil, nil, &resp); err != nil {
		release()
		return nil, err
	}
	inst.id = resp.ID
	debug.Log("sandbox", "remote session created", "url", inst.base, "session", resp.ID)
	return inst, nil
}

type instance struct {
	backend *Backend
	base    string
	id      string
	release func()

	mu     sync.Mutex
	closed bool
}

func (i *instance) sessionPath(suffix string) string {
	return "/sessions/" + url.PathEscape(i.id) + suffix
}

func (i *instance) Run(ctx context.Context, p sandbox.Program) (*sandbox.Output, error) {
	if err := i.check(); err != nil {
		return nil, err
	}
	req := server.ExecuteRequest{
		Code:          p.Code,
		Language:      string(p.Language),
		TimeoutMs:     p.Timeout.Milliseconds(),
		MemoryLimitMB: p.MemoryLimitMB,
	}
	var resp server.ExecuteResponse
	if err := i.call(ctx, http.MethodPost, i.sessionPath("/execute"), nil, req, &resp); err != nil {
		return nil, err
	}
	return toOutput(&resp), nil
}

func (i *instance) Install(ctx context.Context, name, version string) (*sandbox.Output, error) {
	if err := i.check(); err != nil {
		return nil, err
	}
	var resp server.ExecuteResponse
	req := server.InstallRequest{Package: name, Version: version}
	if err := i.call(ctx, http.MethodPost, i.sessionPath("/install"), nil, req, &resp); err != nil {
		return nil, err
	}
	return toOutput(&resp), nil
}

func (i *instance) List(ctx context.Context, dir string) ([]string, error) {
	if err := i.check(); err != nil {
		return nil, err
	}
	var resp server.FilesResponse
	q := url.Values{"path": {dir}}
	if err := i.call(ctx, http.MethodGet, i.sessionPath("/files"), q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

func (i *instance) Read(ctx context.Context, p string) (string, error) {
	if err := i.check(); err != nil {
		return "", err
	}
	var resp server.FileContent
	q := url.Values{"path": {p}}
	if err := i.call(ctx, http.MethodGet, i.sessionPath("/file"), q, nil, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (i *instance) Write(ctx context.Context, p, content string) error {
	if err := i.check(); err != nil {
		return err
	}
	q := url.Values{"path": {p}}
	return i.call(ctx, http.MethodPut, i.sessionPath("/file"), q, server.FileContent{Content: content}, nil)
}

// Close deletes the server-side session and releases the server.
func (i *instance) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.mu.Unlock()

	defer i.release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return i.call(ctx, http.MethodDelete, i.sessionPath(""), nil, nil, nil)
}

func (i *instance) check() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return sandbox.ErrClosed
	}
	return nil
}

// call performs one JSON request against the sandbox server. A nil out
// discards the response body.
func (i *instance) call(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	target := i.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := i.backend.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(status int, body []byte) error {
	var e server.ErrorResponse
	_ = json.Unmarshal(body, &e)
	msg := e.Error
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrAtCapacity, msg)
	case e.Code == server.CodeNotFound:
		return fmt.Errorf("%s: %w", msg, sandbox.ErrNotFound)
	case e.Code == server.CodeInvalidPath:
		return fmt.Errorf("%s: %w", msg, sandbox.ErrInvalidPath)
	case e.Code == server.CodeSessionNotFound:
		return fmt.Errorf("sandbox session expired: %w", sandbox.ErrClosed)
	}
	return fmt.Errorf("sandbox returned HTTP %d: %s", status, msg)
}

func toOutput(r *server.ExecuteResponse) *sandbox.Output {
	return &sandbox.Output{
		Stdout:   r.Stdout,
		Stderr:   r.Stderr,
		ExitCode: r.ExitCode,
		TimedOut: r.TimedOut,
	}
}
