// Package config provides 12-factor configuration management for the
// agentshell service.
//
// Configuration is loaded from environment variables with sensible
// defaults; CLI flags may override individual values in development.
//
// Environment Variables:
//   - PORT, HOST
//   - SHELL_PROGRAM, SHELL_WORKDIR, SHELL_TIMEOUT_MS, SHELL_PERSISTENT
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Shell     ShellConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// ShellConfig holds defaults for newly created shell sessions.
type ShellConfig struct {
	// Program is the shell spawned for sessions that do not name one.
	Program string `envconfig:"SHELL_PROGRAM" default:"bash"`
	// WorkDir is the default working directory ("" = process cwd).
	WorkDir string `envconfig:"SHELL_WORKDIR" default:""`
	// TimeoutMs bounds a single command when the caller sets none.
	TimeoutMs int `envconfig:"SHELL_TIMEOUT_MS" default:"30000"`
	// Persistent controls whether sessions reuse one live process.
	Persistent bool `envconfig:"SHELL_PERSISTENT" default:"true"`
}

// Timeout returns the configured default command timeout.
func (c ShellConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
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
			Port: "8000",
			Host: "0.0.0.0",
		},
		Shell: ShellConfig{
			Program:    "bash",
			TimeoutMs:  30000,
			Persistent: true,
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
