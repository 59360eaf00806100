// Package config provides unified configuration for the codeact server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (CODEACT_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the codeact server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Model         ModelConfig         `yaml:"model"`
	Agent         AgentConfig         `yaml:"agent"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Tools         ToolsConfig         `yaml:"tools"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	MCP           MCPConfig           `yaml:"mcp"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 0 (streams run long)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 10 MiB
}

// ModelConfig holds the OpenAI-compatible model backend settings.
type ModelConfig struct {
	BaseURL     string        `yaml:"base_url"`     // e.g. http://localhost:8000/v1
	APIKey      string        `yaml:"api_key"`      // optional
	APIKeyFile  string        `yaml:"api_key_file"` // _file variant for api_key
	Name        string        `yaml:"name"`         // model identifier sent with each request
	Timeout     time.Duration `yaml:"timeout"`      // default: 120s
	Temperature *float64      `yaml:"temperature"`  // optional
	MaxTokens   int           `yaml:"max_tokens"`   // optional
}

// AgentConfig holds orchestration settings.
type AgentConfig struct {
	HistoryLimit int           `yaml:"history_limit"`  // 0 sends the whole conversation
	MaxToolTurns int           `yaml:"max_tool_turns"` // 0 disables the tool loop
	AllowedTools []string      `yaml:"allowed_tools"`  // empty allows every tool
	StreamDelay  time.Duration `yaml:"stream_delay"`   // 0 uses the agent default, negative disables
}

// SandboxConfig holds code execution settings.
type SandboxConfig struct {
	Backend        string        `yaml:"backend"`         // "process", "remote" or "mock", default: "process"
	DefaultTimeout time.Duration `yaml:"default_timeout"` // default: 30s
	MaxTimeout     time.Duration `yaml:"max_timeout"`     // default: 5m
	MemoryLimitMB  int           `yaml:"memory_limit_mb"` // default: 512

	Process ProcessSandboxConfig `yaml:"process"`
	Remote  RemoteSandboxConfig  `yaml:"remote"`
}

// ProcessSandboxConfig configures the local interpreter backend.
type ProcessSandboxConfig struct {
	Python         string        `yaml:"python"`          // default: python3
	BaseDir        string        `yaml:"base_dir"`        // default: os.TempDir()
	PackageIndex   string        `yaml:"package_index"`   // optional
	InstallTimeout time.Duration `yaml:"install_timeout"` // default: 5m
	MaxOutputBytes int           `yaml:"max_output_bytes"`
}

// RemoteSandboxConfig configures the sandbox-server backend. Either URL or
// Kubernetes.Template selects the server.
type RemoteSandboxConfig struct {
	URL        string           `yaml:"url"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
}

// KubernetesConfig configures SandboxClaim-managed sandbox pods.
type KubernetesConfig struct {
	Template     string        `yaml:"template"`
	Namespace    string        `yaml:"namespace"`     // default: "default"
	ClaimTimeout time.Duration `yaml:"claim_timeout"` // default: 30s
	Port         int           `yaml:"port"`          // default: 8080
}

// ToolsConfig holds built-in tool settings.
type ToolsConfig struct {
	WebSearch WebSearchConfig `yaml:"web_search"`
}

// WebSearchConfig selects the web_search backend.
type WebSearchConfig struct {
	Backend    string `yaml:"backend"` // "" (placeholder) or "searxng"
	URL        string `yaml:"url"`
	MaxResults int    `yaml:"max_results"` // default: 10
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	Type     string         `yaml:"type"` // "memory" or "postgres", default: "memory"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type"`     // "none", "apikey" or "jwt", default: "none"
	OwnerID   string          `yaml:"owner_id"` // subject promoted to admin on sign-in
	APIKeys   []APIKeyConfig  `yaml:"api_keys"` // API key entries for type=apikey
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// AnonymousSubject is the user every request runs as when type is "none".
	AnonymousSubject string `yaml:"anonymous_subject"` // default: "local"
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string   `yaml:"key" json:"key"`
	KeyFile     string   `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string   `yaml:"subject" json:"subject"`
	Name        string   `yaml:"name" json:"name"`
	Email       string   `yaml:"email" json:"email"`
	ServiceTier string   `yaml:"service_tier" json:"service_tier"`
	Scopes      []string `yaml:"scopes" json:"scopes"`
}

// JWTConfig holds JWT/JWKS validation settings.
type JWTConfig struct {
	Issuer      string        `yaml:"issuer"`
	Audience    string        `yaml:"audience"`
	JWKSURL     string        `yaml:"jwks_url"`
	UserClaim   string        `yaml:"user_claim"`   // default: "sub"
	NameClaim   string        `yaml:"name_claim"`   // default: "name"
	EmailClaim  string        `yaml:"email_claim"`  // default: "email"
	ScopesClaim string        `yaml:"scopes_claim"` // default: "scope"
	TierClaim   string        `yaml:"tier_claim"`   // service tier for usage limits; unset means none
	Leeway      time.Duration `yaml:"leeway"`       // clock skew tolerance, default: 30s
	CacheTTL    time.Duration `yaml:"cache_ttl"`    // default: 1h
}

// UsageBudget limits model turns and tool calls per user and minute. Zero
// leaves the class unmetered.
type UsageBudget struct {
	MessagesPerMinute  int `yaml:"messages_per_minute"`
	ToolCallsPerMinute int `yaml:"tool_calls_per_minute"`
}

// RateLimitConfig holds the default budget and per-tier overrides. With
// every budget zero, limiting is disabled.
type RateLimitConfig struct {
	UsageBudget `yaml:",inline"`
	Tiers       map[string]UsageBudget `yaml:"tiers"` // service tier -> budget
}

// Enabled reports whether any budget meters anything.
func (c RateLimitConfig) Enabled() bool {
	if c.MessagesPerMinute > 0 || c.ToolCallsPerMinute > 0 {
		return true
	}
	for _, b := range c.Tiers {
		if b.MessagesPerMinute > 0 || b.ToolCallsPerMinute > 0 {
			return true
		}
	}
	return false
}

// MCPConfig exposes the tool catalog as an MCP server.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/mcp"
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig holds slog settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error; default: info
	Format string `yaml:"format"` // text or json; default: text
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     10 << 20,
		},
		Model: ModelConfig{
			Timeout: 120 * time.Second,
		},
		Sandbox: SandboxConfig{
			Backend:        "process",
			DefaultTimeout: 30 * time.Second,
			MaxTimeout:     5 * time.Minute,
			MemoryLimitMB:  512,
			Process: ProcessSandboxConfig{
				Python:         "python3",
				InstallTimeout: 5 * time.Minute,
			},
			Remote: RemoteSandboxConfig{
				Kubernetes: KubernetesConfig{
					Namespace:    "default",
					ClaimTimeout: 30 * time.Second,
					Port:         8080,
				},
			},
		},
		Tools: ToolsConfig{
			WebSearch: WebSearchConfig{MaxResults: 10},
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Auth: AuthConfig{
			Type:             "none",
			AnonymousSubject: "local",
		},
		MCP: MCPConfig{
			Enabled: true,
			Path:    "/mcp",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
	}
}
