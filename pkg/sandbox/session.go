package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/codeact/pkg/debug"
)

var (
	packageNamePattern    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*(\[[A-Za-z0-9,._-]+\])?$`)
	packageVersionPattern = regexp.MustCompile(`^[A-Za-z0-9.*+!_-]+$`)
)

// Session keeps one backend instance alive across calls so that installed
// packages and written files persist between executions. Calls on a
// session are serialized.
type Session struct {
	sb   *Sandbox
	mu   sync.Mutex
	inst Instance
}

// OpenSession provisions an instance for a multi-call session. The caller
// must Close the session.
func (s *Sandbox) OpenSession(ctx context.Context) (*Session, error) {
	inst, err := s.backend.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("provisioning sandbox session: %w", err)
	}
	debug.Log("sandbox", "session opened", "backend", s.backend.Name())
	return &Session{sb: s, inst: inst}, nil
}

// Execute runs code in the session's instance. Validation and fault
// handling match Sandbox.Execute; the instance is kept afterwards.
func (ss *Session) Execute(ctx context.Context, code string, lang Language, opts Options) Result {
	start := time.Now()
	if msg := validate(code, lang); msg != "" {
		return Failure{Message: msg, ExecutionTime: time.Since(start)}
	}
	prog := ss.sb.program(code, lang, opts)
	return ss.do(ctx, "execute", start, func(inst Instance) Result {
		out, err := inst.Run(ctx, prog)
		return outcome(out, err, prog.Timeout, time.Since(start))
	})
}

// Install adds a package, optionally pinned to version, to the session's
// runtime. Installation failures are reported as a Failure.
func (ss *Session) Install(ctx context.Context, name, version string) Result {
	start := time.Now()
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	if name == "" {
		return Failure{Message: "Package name cannot be empty", ExecutionTime: time.Since(start)}
	}
	if !packageNamePattern.MatchString(name) {
		return Failure{Message: fmt.Sprintf("Invalid package name: %s", name), ExecutionTime: time.Since(start)}
	}
	if version != "" && !packageVersionPattern.MatchString(version) {
		return Failure{Message: fmt.Sprintf("Invalid package version: %s", version), ExecutionTime: time.Since(start)}
	}

	return ss.do(ctx, "install", start, func(inst Instance) Result {
		out, err := inst.Install(ctx, name, version)
		if err == nil && out != nil && out.ExitCode == 0 && !out.TimedOut {
			msg := "Successfully installed " + name
			if version != "" {
				msg += " version " + version
			}
			return Success{Output: msg, ExecutionTime: time.Since(start)}
		}
		return outcome(out, err, ss.sb.cfg.DefaultTimeout, time.Since(start))
	})
}

// List returns the entry names under dir. An empty dir lists the sandbox root.
func (ss *Session) List(ctx context.Context, dir string) ([]string, error) {
	if dir == "" {
		dir = "/"
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.inst == nil {
		return nil, ErrClosed
	}
	return ss.inst.List(ctx, dir)
}

// Read returns the content of the file at p. It returns an error wrapping
// ErrNotFound when the file does not exist.
func (ss *Session) Read(ctx context.Context, p string) (string, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.inst == nil {
		return "", ErrClosed
	}
	return ss.inst.Read(ctx, p)
}

// Write creates or overwrites the file at p.
func (ss *Session) Write(ctx context.Context, p, content string) Result {
	start := time.Now()
	return ss.do(ctx, "write", start, func(inst Instance) Result {
		if err := inst.Write(ctx, p, content); err != nil {
			return Failure{Message: fmt.Sprintf("Failed to write file %s: %v", p, err), ExecutionTime: time.Since(start)}
		}
		return Success{Output: "File written successfully: " + p, ExecutionTime: time.Since(start)}
	})
}

// Close tears down the session's instance. Closing twice is a no-op.
func (ss *Session) Close() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.inst == nil {
		return nil
	}
	err := ss.inst.Close()
	ss.inst = nil
	debug.Log("sandbox", "session closed", "backend", ss.sb.backend.Name())
	return err
}

// do runs fn against the live instance under the session lock, converting
// panics and a closed session into a Failure.
func (ss *Session) do(ctx context.Context, op string, start time.Time, fn func(Instance) Result) (res Result) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("sandbox session operation panicked", "op", op, "backend", ss.sb.backend.Name(), "panic", r)
			res = Failure{Message: fmt.Sprintf("sandbox fault: %v", r), ExecutionTime: time.Since(start)}
		}
		ss.sb.observe(op, res)
	}()

	if ss.inst == nil {
		return Failure{Message: ErrClosed.Error(), ExecutionTime: time.Since(start)}
	}
	if err := ctx.Err(); err != nil {
		return Failure{Message: err.Error(), ExecutionTime: time.Since(start)}
	}
	return fn(ss.inst)
}
