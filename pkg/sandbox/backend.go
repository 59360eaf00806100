package sandbox

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// Language identifies a sandbox runtime.
type Language string

// Python is the only runtime the sandbox accepts.
const Python Language = "python"

// Languages returns the supported runtimes.
func Languages() []Language { return []Language{Python} }

// Supported reports whether l is an accepted runtime.
func (l Language) Supported() bool { return l == Python }

// Default resource bounds applied when Options leaves them unset.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultMemoryLimitMB = 512
)

var (
	// ErrNotFound is returned when a sandbox path does not exist.
	ErrNotFound = errors.New("sandbox: file not found")

	// ErrInvalidPath is returned for paths that escape the sandbox root.
	ErrInvalidPath = errors.New("sandbox: path escapes sandbox root")

	// ErrClosed is returned by operations on a closed session or instance.
	ErrClosed = errors.New("sandbox: closed")
)

// Options bounds a single execution. Zero values select the defaults.
type Options struct {
	Timeout       time.Duration
	MemoryLimitMB int
}

// Program is a validated execution request handed to a backend instance.
type Program struct {
	Code          string
	Language      Language
	Timeout       time.Duration
	MemoryLimitMB int
}

// Output is what a backend instance captured from a run or install.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Backend is an isolation primitive that provisions execution contexts.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Open provisions a fresh, isolated instance.
	Open(ctx context.Context) (Instance, error)
}

// Instance is one provisioned execution context with a private file tree.
// An instance is used by one caller at a time.
type Instance interface {
	Run(ctx context.Context, p Program) (*Output, error)

	// Install adds a package to the instance's runtime. An empty version
	// selects the latest release.
	Install(ctx context.Context, name, version string) (*Output, error)

	// List returns the entry names directly under dir.
	List(ctx context.Context, dir string) ([]string, error)

	// Read returns the content of the file at p, or ErrNotFound.
	Read(ctx context.Context, p string) (string, error)

	// Write creates or overwrites the file at p.
	Write(ctx context.Context, p, content string) error

	// Close tears the instance down and releases its resources.
	Close() error
}

// CleanPath maps a caller-supplied sandbox path onto a slash-separated path
// relative to the sandbox root. "" and "/" both name the root, returned as ".".
func CleanPath(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", ErrInvalidPath
	}
	p = strings.ReplaceAll(p, "\\", "/")
	rel := path.Clean(strings.TrimLeft(p, "/"))
	if rel == "" || rel == "." {
		return ".", nil
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", ErrInvalidPath
	}
	return rel, nil
}
