// Package config loads application configuration from KERNA_* environment
// variables with typed getters and startup validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kerna-app/kerna/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      storage.Config
	Redis         RedisConfig
	Gemini        GeminiConfig
	Auth          AuthConfig
	Archive       ArchiveConfig
	Observability ObservabilityConfig

	// PlanCatalogPath points to an optional YAML overrides file; empty
	// means built-in defaults
	PlanCatalogPath string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// RedisConfig holds rate-limiter Redis configuration
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// GeminiConfig holds the text-generation provider configuration
type GeminiConfig struct {
	APIKey string
}

// AuthConfig holds social-login provider configuration
type AuthConfig struct {
	OIDCIssuerURL    string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string
}

// ArchiveConfig holds the S3 document-archive configuration
type ArchiveConfig struct {
	Enabled   bool
	Region    string
	Bucket    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       string
	MetricsEnabled bool
}

// LoadConfig loads and validates configuration from the environment
func LoadConfig() (*Config, error) {
	db := storage.DefaultConfig()
	db.URL = getEnv("KERNA_POSTGRES_URL", "")
	if maxConns := getEnvInt("KERNA_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		db.MaxConns = maxConns
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("KERNA_HOST", "0.0.0.0"),
			Port:            getEnv("KERNA_PORT", "8080"),
			ReadTimeout:     getEnvDuration("KERNA_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("KERNA_WRITE_TIMEOUT", 120*time.Second),
			IdleTimeout:     getEnvDuration("KERNA_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("KERNA_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: db,
		Redis: RedisConfig{
			URL:      getEnv("KERNA_REDIS_URL", ""),
			Password: getEnv("KERNA_REDIS_PASSWORD", ""),
			DB:       getEnvInt("KERNA_REDIS_DB", 0),
		},
		Gemini: GeminiConfig{
			APIKey: getEnv("KERNA_GEMINI_API_KEY", ""),
		},
		Auth: AuthConfig{
			OIDCIssuerURL:    getEnv("KERNA_OIDC_ISSUER_URL", "https://accounts.google.com"),
			OIDCClientID:     getEnv("KERNA_OIDC_CLIENT_ID", ""),
			OIDCClientSecret: getEnv("KERNA_OIDC_CLIENT_SECRET", ""),
			OIDCRedirectURL:  getEnv("KERNA_OIDC_REDIRECT_URL", ""),
		},
		Archive: ArchiveConfig{
			Enabled:   getEnvBool("KERNA_ARCHIVE_ENABLED", false),
			Region:    getEnv("KERNA_S3_REGION", "us-east-1"),
			Bucket:    getEnv("KERNA_S3_BUCKET", ""),
			Endpoint:  getEnv("KERNA_S3_ENDPOINT", ""),
			AccessKey: getEnv("KERNA_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("KERNA_S3_SECRET_KEY", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("KERNA_LOG_LEVEL", "info"),
			MetricsEnabled: getEnvBool("KERNA_METRICS_ENABLED", true),
		},
		PlanCatalogPath: getEnv("KERNA_PLAN_CATALOG_PATH", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for startup-fatal problems
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("KERNA_POSTGRES_URL is required")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("KERNA_S3_BUCKET is required when the archive is enabled")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
