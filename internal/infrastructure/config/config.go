package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all process configuration.
type Config struct {
	Server   ServerConfig
	Logging  LogConfig
	Prefetch PrefetchConfig
	Fetch    FetchConfig
	Sandbox  SandboxConfig
	CORS     CORSConfig
	Limits   LimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port     string `envconfig:"PORT" default:"8000"`
	Host     string `envconfig:"HOST" default:"0.0.0.0"`
	Manifest string `envconfig:"APPS_MANIFEST" default:""`
	// WatchManifest re-applies the manifest when the file changes
	WatchManifest bool `envconfig:"APPS_MANIFEST_WATCH" default:"false"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// PrefetchConfig holds idle prefetch scheduler configuration.
type PrefetchConfig struct {
	IdleWindow time.Duration `envconfig:"PREFETCH_IDLE_WINDOW" default:"200ms"`
	Workers    int           `envconfig:"PREFETCH_WORKERS" default:"2"`
	RPS        float64       `envconfig:"PREFETCH_RPS" default:"20"`
	MaxRetries uint64        `envconfig:"PREFETCH_MAX_RETRIES" default:"3"`
}

// FetchConfig holds asset fetcher configuration.
type FetchConfig struct {
	Timeout   time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	RPS       float64       `envconfig:"FETCH_RPS" default:"0"`
	Retries   int           `envconfig:"FETCH_RETRIES" default:"2"`
	UserAgent string        `envconfig:"FETCH_USER_AGENT" default:"microhost/1.0"`
}

// SandboxConfig holds script execution limits.
type SandboxConfig struct {
	ScriptTimeout time.Duration `envconfig:"SCRIPT_TIMEOUT" default:"5s"`
}

// CORSConfig holds cross-origin settings for the control API.
type CORSConfig struct {
	Origins []string      `envconfig:"CORS_ORIGINS" default:"*"`
	MaxAge  time.Duration `envconfig:"CORS_MAX_AGE" default:"12h"`
}

// LimitConfig holds per-client request limits for the control API.
// RPS of zero disables limiting.
type LimitConfig struct {
	RPS     float64       `envconfig:"API_RPS" default:"100"`
	Burst   int           `envconfig:"API_BURST" default:"200"`
	IdleTTL time.Duration `envconfig:"API_CLIENT_TTL" default:"10m"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Prefetch: PrefetchConfig{
			IdleWindow: 200 * time.Millisecond,
			Workers:    2,
			RPS:        20,
			MaxRetries: 3,
		},
		Fetch: FetchConfig{
			Timeout:   30 * time.Second,
			Retries:   2,
			UserAgent: "microhost/1.0",
		},
		Sandbox: SandboxConfig{
			ScriptTimeout: 5 * time.Second,
		},
		CORS: CORSConfig{
			Origins: []string{"*"},
			MaxAge:  12 * time.Hour,
		},
		Limits: LimitConfig{
			RPS:     100,
			Burst:   200,
			IdleTTL: 10 * time.Minute,
		},
	}
}
