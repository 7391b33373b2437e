package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Remote    RemoteConfig
	Session   SessionConfig
	Storage   StorageConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8600"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// RemoteConfig holds remote device endpoint configuration.
type RemoteConfig struct {
	URL string `envconfig:"REMOTE_WS_URL" default:"ws://localhost:9000/shell"`
}

// SessionConfig holds session and transport tuning.
type SessionConfig struct {
	MaxSessions       int           `envconfig:"MAX_SESSIONS" default:"10"`
	SubmitTimeout     time.Duration `envconfig:"SUBMIT_TIMEOUT" default:"5s"`
	MaxRetries        int           `envconfig:"CONNECT_MAX_RETRIES" default:"5"`
	InitialRetryDelay time.Duration `envconfig:"CONNECT_RETRY_DELAY" default:"1s"`
	MaxRetryDelay     time.Duration `envconfig:"CONNECT_RETRY_DELAY_MAX" default:"5s"`
	ResumeDelay       time.Duration `envconfig:"RESUME_DELAY" default:"2s"`
}

// StorageConfig holds snapshot persistence configuration.
type StorageConfig struct {
	Path     string        `envconfig:"SNAPSHOT_DB" default:"data/console.db"`
	Debounce time.Duration `envconfig:"SNAPSHOT_DEBOUNCE" default:"500ms"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8600",
			Host: "0.0.0.0",
		},
		Remote: RemoteConfig{
			URL: "ws://localhost:9000/shell",
		},
		Session: SessionConfig{
			MaxSessions:       10,
			SubmitTimeout:     5 * time.Second,
			MaxRetries:        5,
			InitialRetryDelay: time.Second,
			MaxRetryDelay:     5 * time.Second,
			ResumeDelay:       2 * time.Second,
		},
		Storage: StorageConfig{
			Path:     "data/console.db",
			Debounce: 500 * time.Millisecond,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
