package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rhuss/codeact/pkg/debug"
	"github.com/rhuss/codeact/pkg/observability"
)

// Failure messages for requests rejected before a backend is touched.
const (
	msgEmptyCode = "Code cannot be empty"
	msgTimedOut  = "Execution timed out after %s"
)

// Config holds the defaults a Sandbox applies to every request.
type Config struct {
	DefaultTimeout       time.Duration
	DefaultMemoryLimitMB int

	// MaxTimeout caps caller-requested timeouts. Zero means no cap.
	MaxTimeout time.Duration
}

// Sandbox validates execution requests and runs them on a Backend.
// It is safe for concurrent use; each Execute call provisions its own
// instance.
type Sandbox struct {
	backend Backend
	cfg     Config
}

// New creates a Sandbox on top of backend.
func New(backend Backend, cfg Config) *Sandbox {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.DefaultMemoryLimitMB <= 0 {
		cfg.DefaultMemoryLimitMB = DefaultMemoryLimitMB
	}
	return &Sandbox{backend: backend, cfg: cfg}
}

// Backend returns the backend the sandbox runs on.
func (s *Sandbox) Backend() Backend { return s.backend }

// Execute runs code in a freshly provisioned instance that is torn down
// before Execute returns. It never returns an error and never panics:
// validation errors and backend faults are reported as a Failure.
func (s *Sandbox) Execute(ctx context.Context, code string, lang Language, opts Options) (res Result) {
	start := time.Now()
	if msg := validate(code, lang); msg != "" {
		return Failure{Message: msg, ExecutionTime: time.Since(start)}
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("sandbox execution panicked", "backend", s.backend.Name(), "panic", r)
			res = Failure{Message: fmt.Sprintf("sandbox fault: %v", r), ExecutionTime: time.Since(start)}
		}
		s.observe("execute", res)
	}()

	prog := s.program(code, lang, opts)
	debug.Log("sandbox", "execute",
		"backend", s.backend.Name(),
		"timeout", prog.Timeout,
		"memory_mb", prog.MemoryLimitMB,
		"code", debug.Truncate(code, 120),
	)

	out, err := s.runOnce(ctx, prog)
	return outcome(out, err, prog.Timeout, time.Since(start))
}

// runOnce provisions an instance, runs prog, and closes the instance
// whatever the run outcome.
func (s *Sandbox) runOnce(ctx context.Context, prog Program) (*Output, error) {
	inst, err := s.backend.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("provisioning sandbox: %w", err)
	}
	defer func() {
		if cerr := inst.Close(); cerr != nil {
			slog.Warn("sandbox teardown failed", "backend", s.backend.Name(), "error", cerr)
		}
	}()
	return inst.Run(ctx, prog)
}

// ExecuteFunction composes a program that defines functionCode, calls
// functionName with args, and prints the result, then runs it through
// Execute.
func (s *Sandbox) ExecuteFunction(ctx context.Context, functionCode, functionName string, args []any, opts Options) Result {
	start := time.Now()
	code, err := ComposeCall(functionCode, functionName, args)
	if err != nil {
		return Failure{Message: err.Error(), ExecutionTime: time.Since(start)}
	}
	return s.Execute(ctx, code, Python, opts)
}

func (s *Sandbox) program(code string, lang Language, opts Options) Program {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	if s.cfg.MaxTimeout > 0 && timeout > s.cfg.MaxTimeout {
		timeout = s.cfg.MaxTimeout
	}
	mem := opts.MemoryLimitMB
	if mem <= 0 {
		mem = s.cfg.DefaultMemoryLimitMB
	}
	return Program{Code: code, Language: lang, Timeout: timeout, MemoryLimitMB: mem}
}

func (s *Sandbox) observe(op string, r Result) {
	status := "success"
	if !Succeeded(r) {
		status = "failure"
	}
	observability.SandboxExecutionsTotal.WithLabelValues(s.backend.Name(), op, status).Inc()
	observability.SandboxDuration.WithLabelValues(s.backend.Name(), op).Observe(r.Elapsed().Seconds())
}

// validate returns a failure message, or "" when the request may run.
func validate(code string, lang Language) string {
	if strings.TrimSpace(code) == "" {
		return msgEmptyCode
	}
	if !lang.Supported() {
		return fmt.Sprintf("Unsupported language: %s. Only Python is currently supported.", lang)
	}
	return ""
}

// outcome maps a backend run onto a Result.
func outcome(out *Output, err error, timeout, elapsed time.Duration) Result {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Failure{Message: fmt.Sprintf(msgTimedOut, timeout), ExecutionTime: elapsed}
	case err != nil:
		return Failure{Message: err.Error(), ExecutionTime: elapsed}
	case out == nil:
		return Failure{Message: "sandbox returned no output", ExecutionTime: elapsed}
	case out.TimedOut:
		msg := fmt.Sprintf(msgTimedOut, timeout)
		if stderr := strings.TrimSpace(out.Stderr); stderr != "" {
			msg += ": " + stderr
		}
		return Failure{Message: msg, ExecutionTime: elapsed}
	case out.ExitCode != 0:
		msg := strings.TrimSpace(out.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("process exited with code %d", out.ExitCode)
		}
		return Failure{Message: msg, ExecutionTime: elapsed}
	}
	return Success{Output: out.Stdout, ExecutionTime: elapsed}
}
