// Package process implements a sandbox backend that runs each program as a
// local subprocess inside a private working directory.
//
// Each instance owns a temporary directory that serves as the sandbox root.
// File operations are confined to it through os.Root. Programs run with a
// minimal environment, a wall-clock timeout that kills the whole process
// group, and an address-space limit set by the interpreter before the
// program is loaded.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rhuss/codeact/pkg/debug"
	"github.com/rhuss/codeact/pkg/sandbox"
)

const (
	// internalDir holds scripts written by Run; it is hidden from List.
	internalDir = ".codeact"
	// libDir is the per-instance package install target.
	libDir = ".pylibs"
)

// limitedLauncher caps the interpreter's address space before the script
// is loaded. Arguments: limit in MiB, script path.
const limitedLauncher = `import resource, runpy, sys
limit = int(sys.argv[1]) << 20
_, hard = resource.getrlimit(resource.RLIMIT_AS)
if hard != resource.RLIM_INFINITY:
    limit = min(limit, hard)
resource.setrlimit(resource.RLIMIT_AS, (limit, limit))
script = sys.argv[2]
sys.argv = sys.argv[2:]
runpy.run_path(script, run_name="__main__")
`

// Config controls the process backend.
type Config struct {
	// Python is the interpreter binary (default: python3).
	Python string

	// BaseDir is where instance directories are created (default: os.TempDir()).
	BaseDir string

	// PackageIndex is the Python package index URL. Empty uses the installer default.
	PackageIndex string

	// InstallTimeout bounds a single package installation (default: 5m).
	InstallTimeout time.Duration

	// MaxOutputBytes caps captured stdout and stderr each (default: 1MiB).
	MaxOutputBytes int
}

func (c *Config) applyDefaults() {
	if c.Python == "" {
		c.Python = "python3"
	}
	if c.InstallTimeout <= 0 {
		c.InstallTimeout = 5 * time.Minute
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = 1 << 20
	}
}

// Backend provisions subprocess sandboxes.
type Backend struct {
	cfg Config
}

var _ sandbox.Backend = (*Backend)(nil)

// New creates a process backend.
func New(cfg Config) *Backend {
	cfg.applyDefaults()
	return &Backend{cfg: cfg}
}

// Name returns "process".
func (b *Backend) Name() string { return "process" }

// Available reports whether the configured interpreter is on PATH.
func (b *Backend) Available() error {
	if _, err := exec.LookPath(b.cfg.Python); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", b.cfg.Python, err)
	}
	return nil
}

// RuntimeVersion returns the interpreter's version line, or "unknown".
func (b *Backend) RuntimeVersion() string {
	out, err := exec.Command(b.cfg.Python, "--version").CombinedOutput()
	if err != nil {
		return "unknown"
	}
	v, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return v
}

// Open creates a fresh instance directory.
func (b *Backend) Open(ctx context.Context) (sandbox.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(b.cfg.BaseDir, "codeact-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("creating sandbox dir: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("opening sandbox root: %w", err)
	}
	for _, d := range []string{internalDir, libDir} {
		if err := root.Mkdir(d, 0o755); err != nil {
			root.Close()
			os.RemoveAll(dir)
			return nil, fmt.Errorf("creating %s: %w", d, err)
		}
	}
	debug.Log("sandbox", "process instance created", "dir", dir)
	return &instance{cfg: b.cfg, dir: dir, root: root}, nil
}

type instance struct {
	cfg    Config
	dir    string
	root   *os.Root
	runs   atomic.Int64
	mu     sync.Mutex
	closed bool
}

func (i *instance) Run(ctx context.Context, p sandbox.Program) (*sandbox.Output, error) {
	if err := i.check(); err != nil {
		return nil, err
	}
	if p.Language != sandbox.Python {
		return nil, fmt.Errorf("process backend cannot run %q", p.Language)
	}

	script := filepath.Join(internalDir, "script-"+strconv.FormatInt(i.runs.Add(1), 10)+".py")
	if err := i.root.WriteFile(script, []byte(p.Code), 0o644); err != nil {
		return nil, fmt.Errorf("writing script: %w", err)
	}
	defer i.root.Remove(script)

	args := []string{script}
	if p.MemoryLimitMB > 0 {
		args = []string{"-c", limitedLauncher, strconv.Itoa(p.MemoryLimitMB), script}
	}
	return i.command(ctx, p.Timeout, i.cfg.Python, args...)
}

func (i *instance) Install(ctx context.Context, name, version string) (*sandbox.Output, error) {
	if err := i.check(); err != nil {
		return nil, err
	}
	spec := name
	if version != "" {
		spec += "==" + version
	}

	var args []string
	if uv, err := exec.LookPath("uv"); err == nil {
		args = []string{uv, "pip", "install", "--python", i.cfg.Python, "--target", libDir}
	} else {
		args = []string{i.cfg.Python, "-m", "pip", "install", "--disable-pip-version-check", "--no-input", "--target", libDir}
	}
	if i.cfg.PackageIndex != "" {
		args = append(args, "--index-url", i.cfg.PackageIndex)
	}
	args = append(args, spec)

	debug.Log("sandbox", "installing package", "spec", spec, "installer", args[0])
	return i.command(ctx, i.cfg.InstallTimeout, args[0], args[1:]...)
}

// command runs name with args inside the instance directory. A timeout
// expiry is reported as Output.TimedOut; cancellation of ctx itself is
// returned as an error.
func (i *instance) command(ctx context.Context, timeout time.Duration, name string, args ...string) (*sandbox.Output, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = i.dir
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + i.dir,
		"LANG=C.UTF-8",
		"PYTHONPATH=" + filepath.Join(i.dir, libDir),
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONUNBUFFERED=1",
	}
	stdout := &cappedBuffer{max: i.cfg.MaxOutputBytes}
	stderr := &cappedBuffer{max: i.cfg.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	isolate(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}
	waitErr := cmd.Wait()

	out := &sandbox.Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if waitErr == nil {
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if runCtx.Err() == context.DeadlineExceeded {
		out.TimedOut = true
		out.ExitCode = -1
		return out, nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		if out.ExitCode == -1 && out.Stderr == "" {
			// Killed by a signal.
			out.Stderr = exitErr.Error()
		}
		return out, nil
	}
	return nil, fmt.Errorf("running %s: %w", name, waitErr)
}

func (i *instance) List(ctx context.Context, dir string) ([]string, error) {
	if err := i.check(); err != nil {
		return nil, err
	}
	clean, err := sandbox.CleanPath(dir)
	if err != nil {
		return nil, err
	}
	f, err := i.root.Open(clean)
	if err != nil {
		return nil, mapNotExist(dir, err)
	}
	defer f.Close()
	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if clean == "." && (e.Name() == internalDir || e.Name() == libDir) {
			continue
		}
		names = append(names, e.Name())
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
	data, err := i.root.ReadFile(clean)
	if err != nil {
		return "", mapNotExist(p, err)
	}
	return string(data), nil
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
	if parent := filepath.Dir(clean); parent != "." {
		if err := i.root.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", parent, err)
		}
	}
	return i.root.WriteFile(clean, []byte(content), 0o644)
}

func (i *instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	i.root.Close()
	if err := os.RemoveAll(i.dir); err != nil {
		return fmt.Errorf("removing sandbox dir: %w", err)
	}
	debug.Log("sandbox", "process instance removed", "dir", i.dir)
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

func mapNotExist(p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", p, sandbox.ErrNotFound)
	}
	return err
}

// cappedBuffer keeps at most max bytes and silently drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.max - c.buf.Len()
	if room <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + "\n[output truncated]"
	}
	return c.buf.String()
}
