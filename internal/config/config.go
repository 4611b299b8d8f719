// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level Warden configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Stream    StreamConfig    `yaml:"stream"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Providers []ProviderEntry `yaml:"providers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StreamConfig controls the guarded SSE streaming path.
type StreamConfig struct {
	// KeepAliveInterval is the period between SSE comment frames on idle
	// streams (0 disables keep-alives).
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
	// MaxDuration is the hard cap on a single stream; when exceeded the
	// timeout trigger requests coordinated termination (0 = no cap).
	MaxDuration time.Duration `yaml:"max_duration"`
}

// DatabaseConfig holds SQLite settings for the stream audit store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// CacheConfig holds non-streaming response cache settings.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxSize    int           `yaml:"max_size"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// ProviderEntry is an upstream provider definition in the config file.
type ProviderEntry struct {
	Name      string     `yaml:"name"`
	Type      string     `yaml:"type"` // "openai" (OpenAI-compatible wire format)
	BaseURL   string     `yaml:"base_url"`
	APIKey    string     `yaml:"api_key"`
	Enabled   *bool      `yaml:"enabled"`
	TimeoutMs int        `yaml:"timeout_ms"`
	Auth      *AuthEntry `yaml:"auth"` // explicit auth; inferred from api_key when absent
}

// AuthEntry configures upstream authentication.
type AuthEntry struct {
	Type         string   `yaml:"type"`    // "api_key", "oauth"
	APIKey       string   `yaml:"api_key"` // explicit key (overrides top-level api_key)
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// IsEnabled reports whether the provider is enabled (defaults to true when nil).
func (p ProviderEntry) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// ResolvedType returns Type if set, otherwise falls back to Name.
func (p ProviderEntry) ResolvedType() string {
	if p.Type != "" {
		return p.Type
	}
	return p.Name
}

// ResolvedAuthType returns the auth type, defaulting to "api_key".
func (p ProviderEntry) ResolvedAuthType() string {
	if p.Auth != nil && p.Auth.Type != "" {
		return p.Auth.Type
	}
	return "api_key"
}

// ResolvedAPIKey returns the API key, preferring Auth.APIKey over the
// top-level APIKey.
func (p ProviderEntry) ResolvedAPIKey() string {
	if p.Auth != nil && p.Auth.APIKey != "" {
		return p.Auth.APIKey
	}
	return p.APIKey
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Stream: StreamConfig{
			KeepAliveInterval: 15 * time.Second,
			MaxDuration:       10 * time.Minute,
		},
		Database: DatabaseConfig{
			DSN: "warden.db",
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxSize:    10_000,
			DefaultTTL: 5 * time.Minute,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if p.ResolvedAuthType() == "oauth" {
			if p.Auth == nil || p.Auth.TokenURL == "" || p.Auth.ClientID == "" {
				return fmt.Errorf("provider %q: oauth auth requires token_url and client_id", p.Name)
			}
		}
	}
	if c.Stream.KeepAliveInterval < 0 || c.Stream.MaxDuration < 0 {
		return fmt.Errorf("stream durations must not be negative")
	}
	return nil
}
