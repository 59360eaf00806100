package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// UsageClass groups API requests by the backend work they trigger.
type UsageClass string

const (
	// UsageFree covers reads and bookkeeping. It is never metered.
	UsageFree UsageClass = ""

	// UsageMessage is a user turn that invokes the model.
	UsageMessage UsageClass = "message"

	// UsageTool is a direct tool invocation, usually sandbox work.
	UsageTool UsageClass = "tool"

	// UsageMCP is a request on the MCP endpoint. It draws on the tool
	// allowance.
	UsageMCP UsageClass = "mcp"
)

// ClassifyRequest maps r to its usage class. mcpPath is where the MCP
// endpoint is mounted; empty means MCP is not served.
func ClassifyRequest(r *http.Request, mcpPath string) UsageClass {
	if r.Method != http.MethodPost {
		return UsageFree
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	if mcpPath = strings.TrimSuffix(mcpPath, "/"); mcpPath != "" {
		if path == mcpPath || strings.HasPrefix(path, mcpPath+"/") {
			return UsageMCP
		}
	}

	// POST /v1/conversations/{id}/messages and POST /v1/tools/{name}/invoke
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) != 4 || parts[0] != "v1" || parts[2] == "" {
		return UsageFree
	}
	switch {
	case parts[1] == "conversations" && parts[3] == "messages":
		return UsageMessage
	case parts[1] == "tools" && parts[3] == "invoke":
		return UsageTool
	}
	return UsageFree
}

// Budget is the per-minute allowance of a service tier. A zero field
// leaves that class unmetered.
type Budget struct {
	MessagesPerMinute  int
	ToolCallsPerMinute int
}

// IsZero reports whether b meters nothing.
func (b Budget) IsZero() bool {
	return b.MessagesPerMinute <= 0 && b.ToolCallsPerMinute <= 0
}

func (b Budget) perMinute(c UsageClass) int {
	switch c {
	case UsageMessage:
		return b.MessagesPerMinute
	case UsageTool, UsageMCP:
		return b.ToolCallsPerMinute
	}
	return 0
}

// LimitError reports a request refused because its caller spent the
// allowance for a usage class. It matches ErrTooManyRequests.
type LimitError struct {
	Class      UsageClass
	Tier       string
	PerMinute  int
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit of %d per minute reached", e.Class, e.PerMinute)
}

func (e *LimitError) Unwrap() error { return ErrTooManyRequests }

// RateLimiter decides whether identity may issue another request of class.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity, class UsageClass) error
}

// DefaultTier names the tier of identities that carry none.
const DefaultTier = "default"

func tierOf(id *Identity) string {
	if id.ServiceTier == "" {
		return DefaultTier
	}
	return id.ServiceTier
}

// sweepThreshold is the window count above which expired windows are
// dropped before a new one is added.
const sweepThreshold = 4096

// UsageLimiter meters each subject in fixed one-minute windows, separately
// for model turns and tool calls. State lives in process memory.
type UsageLimiter struct {
	fallback Budget
	tiers    map[string]Budget
	now      func() time.Time

	mu      sync.Mutex
	windows map[usageKey]*usageWindow
}

var _ RateLimiter = (*UsageLimiter)(nil)

type usageKey struct {
	subject string
	class   UsageClass
}

type usageWindow struct {
	start time.Time
	used  int
}

// NewUsageLimiter creates a limiter. Identities whose tier has no entry in
// tiers get fallback.
func NewUsageLimiter(fallback Budget, tiers map[string]Budget) *UsageLimiter {
	return &UsageLimiter{
		fallback: fallback,
		tiers:    tiers,
		now:      time.Now,
		windows:  make(map[usageKey]*usageWindow),
	}
}

// Budget returns the allowance that applies to tier.
func (l *UsageLimiter) Budget(tier string) Budget {
	if b, ok := l.tiers[tier]; ok {
		return b
	}
	return l.fallback
}

// Allow admits the request unless the subject already used its allowance
// for class in the current window. Refused requests are not counted.
func (l *UsageLimiter) Allow(_ context.Context, id *Identity, class UsageClass) error {
	tier := tierOf(id)
	limit := l.Budget(tier).perMinute(class)
	if limit <= 0 {
		return nil
	}

	bucket := class
	if bucket == UsageMCP {
		bucket = UsageTool
	}
	key := usageKey{subject: id.Subject, class: bucket}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= time.Minute {
		if !ok && len(l.windows) >= sweepThreshold {
			l.sweep(now)
		}
		l.windows[key] = &usageWindow{start: now, used: 1}
		return nil
	}
	if w.used >= limit {
		return &LimitError{
			Class:      class,
			Tier:       tier,
			PerMinute:  limit,
			RetryAfter: w.start.Add(time.Minute).Sub(now),
		}
	}
	w.used++
	return nil
}

// sweep drops windows that have ended. Caller holds l.mu.
func (l *UsageLimiter) sweep(now time.Time) {
	for k, w := range l.windows {
		if now.Sub(w.start) >= time.Minute {
			delete(l.windows, k)
		}
	}
}
