// Package config handles loading and validating Themis configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Themis.
type Config struct {
	DataDir       string                `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.themis/data. Override: THEMIS_DATA_DIR env var.
	Storage       *StorageConfig        `json:"storage,omitempty" yaml:"storage,omitempty"`   // nil = SQLite default (derived from data dir)
	Providers     ProvidersConfig       `json:"providers" yaml:"providers"`
	Server        ServerConfig          `json:"server" yaml:"server"`
	Orchestrator  OrchestratorConfig    `json:"orchestrator" yaml:"orchestrator"`
	Retention     *RetentionConfig      `json:"retention,omitempty" yaml:"retention,omitempty"`         // nil = retention janitor disabled
	Observability *ObservabilityConfig  `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = tracing disabled, metrics on
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
	CacheTTL int                    `json:"cache_ttl_s" yaml:"cache_ttl_s"`               // Snapshot cache TTL in seconds. Default: 60.
}

// Driver returns the configured storage driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// CacheTTLDuration returns the snapshot cache TTL.
func (s *StorageConfig) CacheTTLDuration() time.Duration {
	if s != nil && s.CacheTTL > 0 {
		return time.Duration(s.CacheTTL) * time.Second
	}
	return 60 * time.Second
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Override: THEMIS_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ProvidersConfig holds LLM provider credentials and model selection.
type ProvidersConfig struct {
	Default   string          `json:"default,omitempty" yaml:"default,omitempty"` // "anthropic" (default), "openai", or "ollama".
	Anthropic ProviderConfig  `json:"anthropic" yaml:"anthropic"`
	OpenAI    ProviderConfig  `json:"openai" yaml:"openai"`
	Ollama    *ProviderConfig `json:"ollama,omitempty" yaml:"ollama,omitempty"` // nil = ollama disabled
}

// ProviderConfig holds one provider's settings.
type ProviderConfig struct {
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// DefaultProvider returns the configured default provider name.
func (p *ProvidersConfig) DefaultProvider() string {
	if p.Default != "" {
		return p.Default
	}
	return "anthropic"
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Addr       string           `json:"addr,omitempty" yaml:"addr,omitempty"`         // Default: ":8080".
	APIKey     string           `json:"api_key,omitempty" yaml:"api_key,omitempty"`   // Bearer token. Override: THEMIS_API_KEY env var. Empty = auth disabled.
	RateLimits *RateLimitConfig `json:"rate_limits,omitempty" yaml:"rate_limits,omitempty"` // nil = defaults
}

// ListenAddr returns the server address, defaulting to ":8080".
func (s *ServerConfig) ListenAddr() string {
	if s.Addr != "" {
		return s.Addr
	}
	return ":8080"
}

// RateLimitConfig holds per-route request budgets, in requests/minute.
type RateLimitConfig struct {
	Plan    int `json:"plan" yaml:"plan"`       // Default: 20.
	Execute int `json:"execute" yaml:"execute"` // Default: 10.
	Read    int `json:"read" yaml:"read"`       // Default: 60.
}

func (r *RateLimitConfig) PlanPerMinute() int {
	if r != nil && r.Plan > 0 {
		return r.Plan
	}
	return 20
}

func (r *RateLimitConfig) ExecutePerMinute() int {
	if r != nil && r.Execute > 0 {
		return r.Execute
	}
	return 10
}

func (r *RateLimitConfig) ReadPerMinute() int {
	if r != nil && r.Read > 0 {
		return r.Read
	}
	return 60
}

// OrchestratorConfig tunes plan execution.
type OrchestratorConfig struct {
	StrictExitSignals   bool `json:"strict_exit_signals" yaml:"strict_exit_signals"`     // Default: false (soft misses flag for attention).
	ArtifactSearchDepth int  `json:"artifact_search_depth" yaml:"artifact_search_depth"` // Default: 4.
}

// RetentionConfig controls the retention janitor. Nil disables it.
type RetentionConfig struct {
	Schedule   string `json:"schedule,omitempty" yaml:"schedule,omitempty"` // Cron expression. Default: "0 * * * *".
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`             // Default: 30.
	KeepMin    int    `json:"keep_min" yaml:"keep_min"`                     // Default: 20.
}

// MaxAge returns the retention age as a duration.
func (r *RetentionConfig) MaxAge() time.Duration {
	days := r.MaxAgeDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"` // nil = tracing disabled
	Metrics bool           `json:"metrics" yaml:"metrics"`                     // Expose /metrics. Default: true when section present.
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`                           // OTLP endpoint host:port.
	Protocol    string  `json:"protocol,omitempty" yaml:"protocol,omitempty"`       // "grpc" (default) or "http".
	SampleRatio float64 `json:"sample_ratio,omitempty" yaml:"sample_ratio,omitempty"` // Default: 1.0.
	Insecure    bool    `json:"insecure" yaml:"insecure"`
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML,
// everything else for JSON. Provider API keys and server settings can
// be set in the file or overridden by environment variables.
// Environment variables take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// DefaultConfigPath returns the conventional config location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".themis", "config.yaml")
}

// LoadOrDefault loads the config file at path when it exists and falls
// back to environment-only defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}
	if _, err := os.Stat(resolved); os.IsNotExist(err) {
		return Default()
	}
	return Load(resolved)
}

// Default returns the configuration used when no config file is given:
// SQLite under the data dir, credentials from the environment.
func Default() (*Config, error) {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		c.Providers.Anthropic.APIKey = envKey
	}
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		c.Providers.OpenAI.APIKey = envKey
	}
	if envDD := os.Getenv("THEMIS_DATA_DIR"); envDD != "" {
		c.DataDir = envDD
	}
	if envDSN := os.Getenv("THEMIS_DB_DSN"); envDSN != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Driver = "postgres"
		c.Storage.Postgres.DSN = envDSN
	}
	if envKey := os.Getenv("THEMIS_API_KEY"); envKey != "" {
		c.Server.APIKey = envKey
	}
	if envAddr := os.Getenv("THEMIS_ADDR"); envAddr != "" {
		c.Server.Addr = envAddr
	}
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.DataDir = filepath.Join(home, ".themis", "data")
		}
	}
}

// SQLitePath returns the database file path, derived from the data dir
// when not set explicitly.
func (c *Config) SQLitePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.DataDir, "themis.db")
}

// MetricsEnabled reports whether the /metrics endpoint is exposed.
// Metrics default on; an observability section can turn them off.
func (c *Config) MetricsEnabled() bool {
	if c.Observability == nil {
		return true
	}
	return c.Observability.Metrics
}

func (c *Config) validate() error {
	if c.Storage.StorageDriver() != "sqlite" && c.Storage.StorageDriver() != "postgres" {
		return fmt.Errorf("storage driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}
	if c.Storage.StorageDriver() == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("postgres storage requires a dsn")
		}
	}
	switch p := c.Providers.DefaultProvider(); p {
	case "anthropic", "openai", "ollama":
	default:
		return fmt.Errorf("default provider must be anthropic, openai, or ollama, got %q", p)
	}
	if c.Providers.DefaultProvider() == "ollama" && c.Providers.Ollama == nil {
		return fmt.Errorf("default provider is ollama but no ollama section is configured")
	}
	if c.Observability != nil && c.Observability.Tracing != nil {
		t := c.Observability.Tracing
		if t.Endpoint == "" {
			return fmt.Errorf("tracing requires an endpoint")
		}
		if t.Protocol != "" && t.Protocol != "grpc" && t.Protocol != "http" {
			return fmt.Errorf("tracing protocol must be grpc or http, got %q", t.Protocol)
		}
		if t.SampleRatio < 0 || t.SampleRatio > 1 {
			return fmt.Errorf("tracing sample ratio must be in [0, 1], got %v", t.SampleRatio)
		}
	}
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
