// Package config loads application configuration from an optional YAML file
// overlaid with FLOWDECK_* environment variables. Environment variables win
// over the file so deployments can patch single values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Authorization AuthorizationConfig `yaml:"authorization"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Type is one of memory, filesystem, sqlite, postgres.
	Type string `yaml:"type"`

	// FilesystemRoot is the document root for the filesystem backend.
	FilesystemRoot string `yaml:"filesystemRoot"`

	// DSN is the connection string for the sqlite and postgres backends.
	DSN string `yaml:"dsn"`
}

// AuthorizationConfig tunes the rule cache.
type AuthorizationConfig struct {
	CacheSize int `yaml:"cacheSize"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"logLevel"`
	MetricsEnabled bool   `yaml:"metricsEnabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Type:           "filesystem",
			FilesystemRoot: "/var/lib/flowdeck",
		},
		Authorization: AuthorizationConfig{
			CacheSize: 500,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("FLOWDECK_HOST", c.Server.Host)
	c.Server.Port = getEnv("FLOWDECK_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("FLOWDECK_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("FLOWDECK_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("FLOWDECK_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("FLOWDECK_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Storage.Type = getEnv("FLOWDECK_STORAGE_TYPE", c.Storage.Type)
	c.Storage.FilesystemRoot = getEnv("FLOWDECK_FILESYSTEM_ROOT", c.Storage.FilesystemRoot)
	c.Storage.DSN = getEnv("FLOWDECK_STORAGE_DSN", c.Storage.DSN)

	c.Authorization.CacheSize = getEnvInt("FLOWDECK_RULE_CACHE_SIZE", c.Authorization.CacheSize)

	c.Observability.LogLevel = getEnv("FLOWDECK_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("FLOWDECK_METRICS_ENABLED", c.Observability.MetricsEnabled)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Authorization.CacheSize <= 0 {
		return fmt.Errorf("rule cache size must be positive")
	}

	switch c.Storage.Type {
	case "memory":
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem storage")
		}
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage DSN is required for %s storage", c.Storage.Type)
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, filesystem, sqlite, or postgres)", c.Storage.Type)
	}

	switch strings.ToLower(c.Observability.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Observability.LogLevel)
	}
	return nil
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
