// Package mock provides an in-memory sandbox backend for tests and local
// development. It never runs code: executions return canned output after
// a fixed delay, and files live in a per-instance map.
package mock

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rhuss/codeact/pkg/sandbox"
)

// CannedOutput is returned by Run when no RunFunc is configured.
const CannedOutput = "This is a mock output. In production, this would be the actual execution result from the sandbox."

// Config controls the simulated behavior.
type Config struct {
	ExecuteDelay time.Duration
	InstallDelay time.Duration
	WriteDelay   time.Duration

	// Files seeds every new instance's file tree, keyed by sandbox path.
	Files map[string]string

	// RunFunc, when set, replaces the canned Run behavior.
	RunFunc func(ctx context.Context, p sandbox.Program) (*sandbox.Output, error)

	// OpenErr, when set, makes every Open fail with this error.
	OpenErr error
}

// DefaultConfig returns the delays and seed files used by the development
// server.
func DefaultConfig() Config {
	return Config{
		ExecuteDelay: 500 * time.Millisecond,
		InstallDelay: time.Second,
		WriteDelay:   100 * time.Millisecond,
		Files: map[string]string{
			"main.py":    "print('hello from the sandbox')\n",
			"data.csv":   "x,y\n1,2\n",
			"output.txt": "",
		},
	}
}

// Backend is an in-memory sandbox.Backend.
type Backend struct {
	cfg    Config
	opened atomic.Int64
	closed atomic.Int64
}

var _ sandbox.Backend = (*Backend)(nil)

// New creates a mock backend.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

// Name returns "mock".
func (b *Backend) Name() string { return "mock" }

// Opened returns how many instances have been provisioned.
func (b *Backend) Opened() int64 { return b.opened.Load() }

// Closed returns how many instances have been torn down.
func (b *Backend) Closed() int64 { return b.closed.Load() }

// Open provisions an instance seeded with the configured files.
func (b *Backend) Open(ctx context.Context) (sandbox.Instance, error) {
	if b.cfg.OpenErr != nil {
		return nil, b.cfg.OpenErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inst := &instance{backend: b, files: make(map[string]string, len(b.cfg.Files))}
	for p, content := range b.cfg.Files {
		clean, err := sandbox.CleanPath(p)
		if err != nil {
			return nil, fmt.Errorf("seed file %q: %w", p, err)
		}
		inst.files[clean] = content
	}
	b.opened.Add(1)
	return inst, nil
}

type instance struct {
	backend  *Backend
	mu       sync.Mutex
	files    map[string]string
	packages []string
	closed   bool
}

func (i *instance) Run(ctx context.Context, p sandbox.Program) (*sandbox.Output, error) {
	if err := i.check(); err != nil {
		return nil, err
	}
	if err := sleep(ctx, i.backend.cfg.ExecuteDelay); err != nil {
		return nil, err
	}
	if i.backend.cfg.RunFunc != nil {
		return i.backend.cfg.RunFunc(ctx, p)
	}
	return &sandbox.Output{Stdout: CannedOutput}, nil
}

func (i *instance) Install(ctx context.Context, name, version string) (*sandbox.Output, error) {
	if err := i.check(); err != nil {
		return nil, err
	}
	if err := sleep(ctx, i.backend.cfg.InstallDelay); err != nil {
		return nil, err
	}
	spec := name
	if version != "" {
		spec += "==" + version
	}
	i.mu.Lock()
	i.packages = append(i.packages, spec)
	i.mu.Unlock()
	return &sandbox.Output{Stdout: "Installed " + spec}, nil
}

func (i *instance) List(ctx context.Context, dir string) ([]string, error) {
	if err := i.check(); err != nil {
		return nil, err
	}
	clean, err := sandbox.CleanPath(dir)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	prefix := ""
	if clean != "." {
		prefix = clean + "/"
	}
	seen := make(map[string]bool)
	var found bool
	for p := range i.files {
		if p == clean {
			return nil, fmt.Errorf("%s is not a directory", dir)
		}
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		found = true
		name, _, _ := strings.Cut(strings.TrimPrefix(p, prefix), "/")
		seen[name] = true
	}
	if !found && clean != "." {
		return nil, fmt.Errorf("%s: %w", dir, sandbox.ErrNotFound)
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (i *instance) Read(ctx context.Context, p string) (string, error) {
	if err := i.check(); err != nil {
		return "", err
	}
	clean, err := sandbox.CleanPath(p)
	if err != nil {
		return "", err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	content, ok := i.files[clean]
	if !ok {
		return "", fmt.Errorf("%s: %w", p, sandbox.ErrNotFound)
	}
	return content, nil
}

func (i *instance) Write(ctx context.Context, p, content string) error {
	if err := i.check(); err != nil {
		return err
	}
	clean, err := sandbox.CleanPath(p)
	if err != nil {
		return err
	}
	if clean == "." {
		return errors.New("cannot write to the sandbox root")
	}
	if err := sleep(ctx, i.backend.cfg.WriteDelay); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	// A file cannot shadow a directory that already has entries.
	for existing := range i.files {
		if strings.HasPrefix(existing, clean+"/") {
			return fmt.Errorf("%s is a directory", p)
		}
	}
	for dir := path.Dir(clean); dir != "."; dir = path.Dir(dir) {
		if _, ok := i.files[dir]; ok {
			return fmt.Errorf("%s is a file", dir)
		}
	}
	i.files[clean] = content
	return nil
}

func (i *instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	i.files = nil
	i.backend.closed.Add(1)
	return nil
}

func (i *instance) check() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return sandbox.ErrClosed
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
