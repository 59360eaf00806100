// Command server runs the codeact gateway: the conversation API, the tool
// catalog over HTTP and MCP, and the agent orchestrator on top of an
// OpenAI-compatible model backend.
//
// Configuration is read from a YAML file (see -config) with CODEACT_*
// environment overrides; see pkg/config.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/rhuss/codeact/pkg/agent"
	"github.com/rhuss/codeact/pkg/api"
	"github.com/rhuss/codeact/pkg/auth"
	"github.com/rhuss/codeact/pkg/auth/apikey"
	"github.com/rhuss/codeact/pkg/auth/jwt"
	"github.com/rhuss/codeact/pkg/auth/noop"
	"github.com/rhuss/codeact/pkg/chat"
	"github.com/rhuss/codeact/pkg/config"
	"github.com/rhuss/codeact/pkg/debug"
	"github.com/rhuss/codeact/pkg/observability"
	"github.com/rhuss/codeact/pkg/provider"
	"github.com/rhuss/codeact/pkg/provider/openai"
	"github.com/rhuss/codeact/pkg/sandbox"
	"github.com/rhuss/codeact/pkg/sandbox/mock"
	"github.com/rhuss/codeact/pkg/sandbox/process"
	"github.com/rhuss/codeact/pkg/sandbox/remote"
	"github.com/rhuss/codeact/pkg/sandbox/remote/kubernetes"
	"github.com/rhuss/codeact/pkg/storage"
	"github.com/rhuss/codeact/pkg/storage/memory"
	"github.com/rhuss/codeact/pkg/storage/postgres"
	"github.com/rhuss/codeact/pkg/tools/builtins"
	"github.com/rhuss/codeact/pkg/tools/builtins/websearch"
	"github.com/rhuss/codeact/pkg/tools/mcp"
	"github.com/rhuss/codeact/pkg/transport"
	transporthttp "github.com/rhuss/codeact/pkg/transport/http"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logCfg := cfg.Observability.Logging
	debug.Init(logCfg.Debug, logCfg.Level, logCfg.Format)
	if cats := debug.Categories(); len(cats) > 0 {
		slog.Info("debug logging enabled", "categories", cats)
	}

	ctx := context.Background()

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	backend, err := newSandboxBackend(cfg.Sandbox)
	if err != nil {
		return err
	}
	sb := sandbox.New(backend, sandbox.Config{
		DefaultTimeout:       cfg.Sandbox.DefaultTimeout,
		DefaultMemoryLimitMB: cfg.Sandbox.MemoryLimitMB,
		MaxTimeout:           cfg.Sandbox.MaxTimeout,
	})

	set, err := builtins.New(sb, builtins.Config{
		Execution: sandbox.Options{
			Timeout:       cfg.Sandbox.DefaultTimeout,
			MemoryLimitMB: cfg.Sandbox.MemoryLimitMB,
		},
		WebSearch: websearchConfig(cfg.Tools.WebSearch),
	})
	if err != nil {
		return fmt.Errorf("building tool catalog: %w", err)
	}
	defer set.Close()

	prov := openai.New(openai.Config{
		BaseURL: cfg.Model.BaseURL,
		APIKey:  cfg.Model.APIKey,
		Timeout: cfg.Model.Timeout,
	})
	defer prov.Close()
	checkModel(ctx, prov, cfg.Model.Name)

	orch, err := agent.New(prov, agent.Config{
		Model:        cfg.Model.Name,
		Temperature:  cfg.Model.Temperature,
		MaxTokens:    cfg.Model.MaxTokens,
		StreamDelay:  cfg.Agent.StreamDelay,
		Tools:        set.Catalog,
		MaxToolTurns: cfg.Agent.MaxToolTurns,
		AllowedTools: cfg.Agent.AllowedTools,
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	svc, err := chat.New(store, orch, set.Catalog, chat.Config{
		HistoryLimit: cfg.Agent.HistoryLimit,
		Validation:   api.DefaultValidationConfig(),
		OwnerID:      cfg.Auth.OwnerID,
	})
	if err != nil {
		return fmt.Errorf("creating chat service: %w", err)
	}

	chain, err := newAuthChain(cfg.Auth)
	if err != nil {
		return err
	}
	var limiter auth.RateLimiter
	if rl := cfg.Auth.RateLimit; rl.Enabled() {
		tiers := make(map[string]auth.Budget, len(rl.Tiers))
		for name, b := range rl.Tiers {
			tiers[name] = auth.Budget(b)
		}
		limiter = auth.NewUsageLimiter(auth.Budget(rl.UsageBudget), tiers)
	}
	var mcpPath string
	if cfg.MCP.Enabled {
		mcpPath = cfg.MCP.Path
	}

	bypass := append([]string(nil), auth.DefaultBypassEndpoints...)
	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(":" + strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithRoute("GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok\n"))
		})),
		transporthttp.WithRoute("GET /readyz", readyHandler(store)),
	}

	if m := cfg.Observability.Metrics; m.Enabled {
		opts = append(opts, transporthttp.WithRoute("GET "+m.Path, promhttp.Handler()))
		if m.Path != "/metrics" {
			bypass = append(bypass, m.Path)
		}
	}

	if cfg.MCP.Enabled {
		mcpSrv, err := mcp.NewServer(set.Catalog, version)
		if err != nil {
			return fmt.Errorf("creating MCP server: %w", err)
		}
		opts = append(opts, transporthttp.WithRoute(cfg.MCP.Path, mcpSrv.Handler()))
	}

	// Metrics must wrap the mux directly so the matched pattern is visible.
	opts = append(opts, transporthttp.WithMiddleware(
		auth.Middleware(chain, auth.Options{
			Limiter: limiter,
			Bypass:  bypass,
			Users:   svc,
			MCPPath: mcpPath,
		}),
		observability.MetricsMiddleware,
	))

	srv := transporthttp.NewServer(svc, opts...)

	slog.Info("codeact starting",
		"version", version,
		"port", cfg.Server.Port,
		"model", cfg.Model.Name,
		"sandbox", backend.Name(),
		"storage", cfg.Storage.Type,
		"auth", cfg.Auth.Type,
		"tools", set.Catalog.Names(),
		"tool_turns", cfg.Agent.MaxToolTurns,
	)
	return srv.ListenAndServe()
}

// checkModel asks the backend for its models and warns when name is not
// served. Failures do not stop startup; the backend may come up later.
func checkModel(ctx context.Context, p provider.Provider, name string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	models, err := p.ListModels(ctx)
	if err != nil {
		slog.Warn("model backend not reachable", "error", err)
		return
	}
	for _, m := range models {
		if m.ID == name {
			return
		}
	}
	slog.Warn("configured model not listed by backend", "model", name, "available", len(models))
}

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("creating postgres store: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres")
		return s, nil
	default:
		slog.Info("storage enabled", "type", "memory")
		return memory.New(), nil
	}
}

func newSandboxBackend(cfg config.SandboxConfig) (sandbox.Backend, error) {
	switch cfg.Backend {
	case "mock":
		return mock.New(mock.DefaultConfig()), nil
	case "remote":
		if cfg.Remote.URL != "" {
			return remote.New(remote.StaticURL(cfg.Remote.URL)), nil
		}
		acq, err := newClaimAcquirer(cfg.Remote.Kubernetes)
		if err != nil {
			return nil, err
		}
		return remote.New(acq), nil
	default:
		b := process.New(process.Config{
			Python:         cfg.Process.Python,
			BaseDir:        cfg.Process.BaseDir,
			PackageIndex:   cfg.Process.PackageIndex,
			InstallTimeout: cfg.Process.InstallTimeout,
			MaxOutputBytes: cfg.Process.MaxOutputBytes,
		})
		if err := b.Available(); err != nil {
			return nil, fmt.Errorf("process sandbox: %w", err)
		}
		slog.Info("process sandbox ready", "runtime", b.RuntimeVersion())
		return b, nil
	}
}

func newClaimAcquirer(cfg config.KubernetesConfig) (*kubernetes.ClaimAcquirer, error) {
	restCfg, err := ctrlconfig.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig: %w", err)
	}
	scheme, err := kubernetes.NewScheme()
	if err != nil {
		return nil, err
	}
	c, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return kubernetes.NewClaimAcquirer(c, kubernetes.Config{
		Template:     cfg.Template,
		Namespace:    cfg.Namespace,
		ClaimTimeout: cfg.ClaimTimeout,
		Port:         cfg.Port,
	}), nil
}

func newAuthChain(cfg config.AuthConfig) (*auth.AuthChain, error) {
	switch cfg.Type {
	case "apikey":
		keys := make([]apikey.Key, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			keys = append(keys, apikey.Key{
				Secret: k.Key,
				Identity: auth.Identity{
					Subject:     k.Subject,
					Name:        k.Name,
					Email:       k.Email,
					ServiceTier: k.ServiceTier,
					Scopes:      k.Scopes,
				},
			})
		}
		authn, err := apikey.New(keys)
		if err != nil {
			return nil, fmt.Errorf("configuring api keys: %w", err)
		}
		return &auth.AuthChain{
			Authenticators:  []auth.Authenticator{authn},
			DefaultDecision: auth.No,
		}, nil
	case "jwt":
		return &auth.AuthChain{
			Authenticators: []auth.Authenticator{jwt.New(jwt.Config{
				Issuer:      cfg.JWT.Issuer,
				Audience:    cfg.JWT.Audience,
				JWKSURL:     cfg.JWT.JWKSURL,
				UserClaim:   cfg.JWT.UserClaim,
				NameClaim:   cfg.JWT.NameClaim,
				EmailClaim:  cfg.JWT.EmailClaim,
				ScopesClaim: cfg.JWT.ScopesClaim,
				TierClaim:   cfg.JWT.TierClaim,
				Leeway:      cfg.JWT.Leeway,
				CacheTTL:    cfg.JWT.CacheTTL,
			})},
			DefaultDecision: auth.No,
		}, nil
	case "", "none":
		return &auth.AuthChain{
			Authenticators:  []auth.Authenticator{&noop.Authenticator{Subject: cfg.AnonymousSubject}},
			DefaultDecision: auth.Yes,
		}, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}
}

func websearchConfig(cfg config.WebSearchConfig) websearch.Config {
	return websearch.Config{
		Backend:    cfg.Backend,
		URL:        cfg.URL,
		MaxResults: cfg.MaxResults,
	}
}

// readyHandler answers 200 while hc is healthy and 503 otherwise.
func readyHandler(hc transport.HealthChecker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := hc.HealthCheck(ctx); err != nil {
			slog.Warn("readiness check failed", "error", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
}
