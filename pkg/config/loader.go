package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, CODEACT_CONFIG env, ./config.yaml, /etc/codeact/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. CODEACT_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/codeact/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("CODEACT_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/codeact/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// envString and envInt copy a set environment variable into dst.
func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = n
	return nil
}

// applyEnvOverrides maps CODEACT_* environment variables to config fields.
// Malformed numbers are errors; malformed JSON lists are logged and
// ignored, leaving the file values in place.
func applyEnvOverrides(cfg *Config) error {
	if err := envInt("CODEACT_PORT", &cfg.Server.Port); err != nil {
		return err
	}

	envString("CODEACT_MODEL_URL", &cfg.Model.BaseURL)
	envString("CODEACT_MODEL", &cfg.Model.Name)
	envString("CODEACT_MODEL_API_KEY", &cfg.Model.APIKey)

	if err := envInt("CODEACT_HISTORY_LIMIT", &cfg.Agent.HistoryLimit); err != nil {
		return err
	}
	if err := envInt("CODEACT_MAX_TOOL_TURNS", &cfg.Agent.MaxToolTurns); err != nil {
		return err
	}

	envString("CODEACT_SANDBOX_BACKEND", &cfg.Sandbox.Backend)
	envString("CODEACT_SANDBOX_URL", &cfg.Sandbox.Remote.URL)
	envString("CODEACT_SANDBOX_TEMPLATE", &cfg.Sandbox.Remote.Kubernetes.Template)
	envString("CODEACT_SANDBOX_NAMESPACE", &cfg.Sandbox.Remote.Kubernetes.Namespace)
	envString("CODEACT_PYTHON", &cfg.Sandbox.Process.Python)

	if v := os.Getenv("CODEACT_SEARXNG_URL"); v != "" {
		cfg.Tools.WebSearch.Backend = "searxng"
		cfg.Tools.WebSearch.URL = v
	}

	envString("CODEACT_STORAGE", &cfg.Storage.Type)
	envString("CODEACT_POSTGRES_DSN", &cfg.Storage.Postgres.DSN)

	envString("CODEACT_AUTH_TYPE", &cfg.Auth.Type)
	envString("CODEACT_OWNER_ID", &cfg.Auth.OwnerID)
	envString("CODEACT_JWT_ISSUER", &cfg.Auth.JWT.Issuer)
	envString("CODEACT_JWT_AUDIENCE", &cfg.Auth.JWT.Audience)
	envString("CODEACT_JWT_JWKS_URL", &cfg.Auth.JWT.JWKSURL)

	// CODEACT_API_KEYS: JSON array of API key configs.
	if v := os.Getenv("CODEACT_API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err != nil {
			slog.Warn("ignoring CODEACT_API_KEYS", "error", err)
		} else if len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}

	envString("CODEACT_LOG_LEVEL", &cfg.Observability.Logging.Level)
	envString("CODEACT_LOG_FORMAT", &cfg.Observability.Logging.Format)
	envString("CODEACT_DEBUG", &cfg.Observability.Logging.Debug)

	return nil
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing API keys JSON: %w", err)
	}
	return keys, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// model.api_key_file -> model.api_key
	if cfg.Model.APIKeyFile != "" && cfg.Model.APIKey == "" {
		val, err := readSecretFile(cfg.Model.APIKeyFile)
		if err != nil {
			return fmt.Errorf("model.api_key_file: %w", err)
		}
		cfg.Model.APIKey = val
	}

	// storage.postgres.dsn_file -> storage.postgres.dsn
	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	// auth.api_keys[*].key_file -> auth.api_keys[*].key
	for i := range cfg.Auth.APIKeys {
		if cfg.Auth.APIKeys[i].KeyFile != "" && cfg.Auth.APIKeys[i].Key == "" {
			val, err := readSecretFile(cfg.Auth.APIKeys[i].KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			cfg.Auth.APIKeys[i].Key = val
		}
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
