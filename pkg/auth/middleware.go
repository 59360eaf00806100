package auth

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rhuss/codeact/pkg/api"
	"github.com/rhuss/codeact/pkg/observability"
	"github.com/rhuss/codeact/pkg/transport"
)

// SignInRecorder stores the user behind an authenticated request.
type SignInRecorder interface {
	SignIn(ctx context.Context, u *api.User) (*api.User, error)
}

// DefaultSignInInterval bounds how often the same subject is recorded.
const DefaultSignInInterval = 5 * time.Minute

// Options configures Middleware.
type Options struct {
	// Limiter meters model turns and tool calls per tier. Nil disables
	// limiting.
	Limiter RateLimiter

	// MCPPath is where the MCP endpoint is mounted, so calls on it count
	// as tool usage.
	MCPPath string

	// Bypass lists exact paths that skip authentication.
	Bypass []string

	// Users, when set, records each subject as a user on its first request
	// and again after SignInInterval has passed.
	Users          SignInRecorder
	SignInInterval time.Duration
}

// Middleware creates HTTP middleware from an AuthChain. It checks the
// bypass list, runs authentication, meters expensive requests, records
// the user, and stores the identity in the request context.
func Middleware(chain *AuthChain, opts Options) func(http.Handler) http.Handler {
	bypass := make(map[string]bool, len(opts.Bypass))
	for _, ep := range opts.Bypass {
		bypass[ep] = true
	}
	interval := opts.SignInInterval
	if interval <= 0 {
		interval = DefaultSignInInterval
	}
	recent := &signIns{last: make(map[string]time.Time), interval: interval}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			result := chain.Authenticate(r.Context(), r)

			if result.Decision != Yes || result.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", result.Err,
				)
				transport.WriteAPIError(w, api.NewUnauthorizedError("authentication required"))
				return
			}

			id := result.Identity
			if id.Subject == "" {
				slog.Error("authenticator returned identity with empty subject")
				transport.WriteAPIError(w, api.NewServerError("internal authentication error"))
				return
			}

			slog.Debug("authentication succeeded",
				"subject", id.Subject,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)

			if opts.Limiter != nil {
				if class := ClassifyRequest(r, opts.MCPPath); class != UsageFree {
					if err := opts.Limiter.Allow(r.Context(), id, class); err != nil {
						rejectOverLimit(w, id, class, err)
						return
					}
				}
			}

			if opts.Users != nil && recent.due(id.Subject) {
				if _, err := opts.Users.SignIn(r.Context(), id.User()); err != nil {
					slog.Error("recording sign-in failed", "subject", id.Subject, "error", err)
					recent.forget(id.Subject)
					transport.WriteAPIError(w, api.NewServerError("internal authentication error"))
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(SetIdentity(r.Context(), id)))
		})
	}
}

func rejectOverLimit(w http.ResponseWriter, id *Identity, class UsageClass, err error) {
	msg := "rate limit exceeded"
	var le *LimitError
	if errors.As(err, &le) {
		msg = le.Error()
		if secs := int(math.Ceil(le.RetryAfter.Seconds())); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	tier := tierOf(id)
	slog.Warn("usage limit reached", "subject", id.Subject, "tier", tier, "class", class)
	observability.RateLimitRejectedTotal.WithLabelValues(tier, string(class)).Inc()
	transport.WriteAPIError(w, api.NewTooManyRequestsError(msg))
}

// signIns remembers when each subject was last recorded.
type signIns struct {
	mu       sync.Mutex
	last     map[string]time.Time
	interval time.Duration
}

// due reports whether subject should be recorded now and, if so, marks it.
func (s *signIns) due(subject string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if t, ok := s.last[subject]; ok && now.Sub(t) < s.interval {
		return false
	}
	s.last[subject] = now
	return true
}

func (s *signIns) forget(subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, subject)
}

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}
