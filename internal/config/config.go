package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimitConfig configures the per-user request limiter.
type RateLimitConfig struct {
	Enabled         bool `yaml:"enabled"`
	RequestsPerHour int  `yaml:"requests_per_hour"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Requests bool   `yaml:"requests"`
}

// ParseLevel returns the configured slog level, defaulting to info.
func (l LoggingConfig) ParseLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./priceradar.db"},
		Server: ServerConfig{
			Port: 8080,
			AllowedOrigins: []string{
				"http://localhost:5000",
				"http://127.0.0.1:5000",
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			RequestsPerHour: 1000,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Requests: true,
		},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRICERADAR_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PRICERADAR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PRICERADAR_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.RequestsPerHour = n
		}
	}
	if v := os.Getenv("PRICERADAR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
