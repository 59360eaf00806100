package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Model.BaseURL == "" && c.Model.APIKey == "" {
		errs = append(errs, fmt.Errorf("model.base_url or model.api_key is required"))
	}
	if c.Model.Name == "" {
		errs = append(errs, fmt.Errorf("model.name is required"))
	}

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	if c.Agent.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("agent.history_limit must be >= 0, got %d", c.Agent.HistoryLimit))
	}
	if c.Agent.MaxToolTurns < 0 {
		errs = append(errs, fmt.Errorf("agent.max_tool_turns must be >= 0, got %d", c.Agent.MaxToolTurns))
	}

	switch c.Sandbox.Backend {
	case "process", "mock":
	case "remote":
		if c.Sandbox.Remote.URL == "" && c.Sandbox.Remote.Kubernetes.Template == "" {
			errs = append(errs, fmt.Errorf("sandbox.remote.url or sandbox.remote.kubernetes.template is required when sandbox.backend is \"remote\""))
		}
	default:
		errs = append(errs, fmt.Errorf("sandbox.backend must be \"process\", \"remote\", or \"mock\", got %q", c.Sandbox.Backend))
	}
	if c.Sandbox.MaxTimeout > 0 && c.Sandbox.DefaultTimeout > c.Sandbox.MaxTimeout {
		errs = append(errs, fmt.Errorf("sandbox.default_timeout %v exceeds sandbox.max_timeout %v", c.Sandbox.DefaultTimeout, c.Sandbox.MaxTimeout))
	}
	if c.Sandbox.MemoryLimitMB < 0 {
		errs = append(errs, fmt.Errorf("sandbox.memory_limit_mb must be >= 0, got %d", c.Sandbox.MemoryLimitMB))
	}

	switch c.Tools.WebSearch.Backend {
	case "":
	case "searxng":
		if c.Tools.WebSearch.URL == "" {
			errs = append(errs, fmt.Errorf("tools.web_search.url is required when tools.web_search.backend is \"searxng\""))
		}
	default:
		errs = append(errs, fmt.Errorf("tools.web_search.backend must be empty or \"searxng\", got %q", c.Tools.WebSearch.Backend))
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}

	switch c.Auth.Type {
	case "none":
		if c.Auth.AnonymousSubject == "" {
			errs = append(errs, fmt.Errorf("auth.anonymous_subject is required when auth.type is \"none\""))
		}
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d]: key or key_file is required", i))
			}
			if k.Subject == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].subject is required", i))
			}
		}
	case "jwt":
		if c.Auth.JWT.JWKSURL == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.jwks_url is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	errs = append(errs, validateBudget("auth.rate_limit", c.Auth.RateLimit.UsageBudget)...)
	for tier, b := range c.Auth.RateLimit.Tiers {
		errs = append(errs, validateBudget("auth.rate_limit.tiers."+tier, b)...)
	}

	switch c.Observability.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("observability.logging.format must be \"text\" or \"json\", got %q", c.Observability.Logging.Format))
	}

	return errors.Join(errs...)
}

func validateBudget(path string, b UsageBudget) []error {
	var errs []error
	if b.MessagesPerMinute < 0 {
		errs = append(errs, fmt.Errorf("%s.messages_per_minute must be >= 0, got %d", path, b.MessagesPerMinute))
	}
	if b.ToolCallsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("%s.tool_calls_per_minute must be >= 0, got %d", path, b.ToolCallsPerMinute))
	}
	return errs
}
