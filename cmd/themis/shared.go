package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/themislabs/themis/internal/agent"
	"github.com/themislabs/themis/internal/config"
	"github.com/themislabs/themis/internal/docdetect"
	"github.com/themislabs/themis/internal/llm"
	"github.com/themislabs/themis/internal/llm/anthropic"
	"github.com/themislabs/themis/internal/llm/openai"
	"github.com/themislabs/themis/internal/observability"
	"github.com/themislabs/themis/internal/orchestrator"
	"github.com/themislabs/themis/internal/state"
	pgstate "github.com/themislabs/themis/internal/state/postgres"
	sqlitestate "github.com/themislabs/themis/internal/state/sqlite"
)

// SharedComponents holds all initialized subsystems that serve mode and
// the one-shot commands require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    *state.Store
	Registry *agent.Registry
	Service  *orchestrator.Service
	Metrics  *prometheus.Registry       // nil = metrics disabled.
	Tracing  *observability.TracerSetup // nil = tracing disabled.

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs all common initialization.
// Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Ensure data directory exists.
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", cfg.DataDir, err)
	}

	// Metrics registry.
	if cfg.MetricsEnabled() {
		sc.Metrics = prometheus.NewRegistry()
	}

	// Tracing.
	var tracingCfg *config.TracingConfig
	if cfg.Observability != nil {
		tracingCfg = cfg.Observability.Tracing
	}
	tracing, err := observability.NewTracerSetup(tracingCfg)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	sc.Tracing = tracing
	if tracing != nil {
		sc.addCleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracing.Shutdown(ctx)
		})
	}

	// State store.
	repo, err := openRepository(cfg, logger)
	if err != nil {
		return nil, err
	}
	store := state.NewStore(repo, cfg.Storage.CacheTTLDuration(), logger).
		WithMetrics(state.NewMetrics(sc.Metrics))
	sc.Store = store
	sc.addCleanup(func() { _ = store.Close() })

	// LLM provider chain.
	provider, err := buildProviderChain(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing llm provider: %w", err)
	}

	// Agents.
	detector := docdetect.New(provider, logger)
	registry, err := agent.NewRegistry(
		agent.NewFactsAgent(provider, logger),
		agent.NewDoctrineAgent(provider, logger),
		agent.NewStrategyAgent(provider, logger),
		agent.NewDrafterAgent(provider, detector, logger),
	)
	if err != nil {
		return nil, fmt.Errorf("building agent registry: %w", err)
	}
	sc.Registry = registry

	// Orchestrator.
	policy, err := orchestrator.NewRoutingPolicy(registry, logger)
	if err != nil {
		return nil, fmt.Errorf("building routing policy: %w", err)
	}
	service := orchestrator.NewService(policy, registry, store, orchestrator.ServiceConfig{
		StrictExitSignals:   cfg.Orchestrator.StrictExitSignals,
		ArtifactSearchDepth: cfg.Orchestrator.ArtifactSearchDepth,
	}, logger).
		WithMetrics(orchestrator.NewMetrics(sc.Metrics))
	if tracing != nil {
		service = service.WithTracer(tracing.Tracer())
	}
	sc.Service = service

	return sc, nil
}

// openRepository opens the configured persistence backend.
func openRepository(cfg *config.Config, logger *slog.Logger) (state.Repository, error) {
	switch cfg.Storage.StorageDriver() {
	case "postgres":
		pg := cfg.Storage.Postgres
		return pgstate.Open(pgstate.Config{
			DSN:             pg.DSN,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
		}, logger)
	default:
		var journalMode string
		if cfg.Storage != nil && cfg.Storage.SQLite != nil {
			journalMode = cfg.Storage.SQLite.JournalMode
		}
		return sqlitestate.Open(sqlitestate.Config{
			Path:        cfg.SQLitePath(),
			JournalMode: journalMode,
		}, logger)
	}
}

// buildProviderChain builds the default provider with the other
// configured providers as fallbacks.
func buildProviderChain(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	primary, err := buildProvider(cfg.Providers.DefaultProvider(), cfg, logger)
	if err != nil {
		return nil, err
	}

	providers := []llm.Provider{primary}
	for _, name := range []string{"anthropic", "openai", "ollama"} {
		if name == cfg.Providers.DefaultProvider() {
			continue
		}
		if !providerConfigured(name, cfg) {
			continue
		}
		fb, err := buildProvider(name, cfg, logger)
		if err != nil {
			logger.Warn("skipping fallback provider",
				slog.String("provider", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		providers = append(providers, fb)
	}

	if len(providers) > 1 {
		return llm.NewFallbackProvider(providers, logger), nil
	}
	return primary, nil
}

func providerConfigured(name string, cfg *config.Config) bool {
	switch name {
	case "anthropic":
		return cfg.Providers.Anthropic.APIKey != ""
	case "openai":
		return cfg.Providers.OpenAI.APIKey != ""
	case "ollama":
		return cfg.Providers.Ollama != nil
	}
	return false
}

// buildProvider creates a single LLM provider by name.
func buildProvider(name string, cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch name {
	case "anthropic", "":
		var opts []anthropic.Option
		if cfg.Providers.Anthropic.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.Providers.Anthropic.BaseURL))
		}
		return anthropic.NewClient(
			cfg.Providers.Anthropic.APIKey,
			cfg.Providers.Anthropic.Model,
			logger,
			opts...,
		), nil
	case "openai":
		var opts []openai.Option
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		return openai.NewClient(
			cfg.Providers.OpenAI.APIKey,
			cfg.Providers.OpenAI.Model,
			logger,
			opts...,
		), nil
	case "ollama":
		baseURL := ""
		model := ""
		if cfg.Providers.Ollama != nil {
			baseURL = cfg.Providers.Ollama.BaseURL
			model = cfg.Providers.Ollama.Model
		}
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return openai.NewClient(
			"",
			model,
			logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}

// newLogger builds the process logger: JSON to stderr.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
