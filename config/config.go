// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	PBI      PBIConfig
	Webhook  WebhookConfig
	Export   ExportConfig
	RateLimit RateLimitConfig
	Sentry   SentryConfig
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Port        string
	GinMode     string
	Environment string
	LogLevel    string
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// GetDatabaseURL builds a postgres connection string. SSL is enabled
// automatically for non-local hosts unless the caller set sslmode=disable.
func (c DatabaseConfig) GetDatabaseURL() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		if c.Host == "localhost" || c.Host == "127.0.0.1" {
			sslMode = "disable"
		} else {
			sslMode = "require"
		}
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, sslMode)
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// Addr returns the host:port Redis address.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// PBIConfig holds attestation-core configuration (spec.md §6).
type PBIConfig struct {
	ReceiptSecret  string   // HMAC key for receipt hashes, >= 32 bytes
	AllowedOrigins []string // accepted WebAuthn origins
	PolicyVersion  string
	PolicyHash     string
	PolicyPath     string
	DefaultTTLSeconds int
	MinTTLSeconds     int
	MaxTTLSeconds     int
}

// WebhookConfig holds outbound webhook delivery configuration.
type WebhookConfig struct {
	SecretKeyBase64 string // 32-byte AES-GCM key (base64) for at-rest secret encryption
	MaxAttempts     int
	BaseBackoff     int // seconds
	MaxBackoff      int // seconds
	RequestTimeoutSeconds int
	WorkerTickSeconds     int
	WorkerBatchSize       int
}

// ExportConfig holds export-pack signing configuration.
type ExportConfig struct {
	SigningPrivateKeyPem string
	SigningPublicKeyPem  string
}

// RateLimitConfig holds the coarse in-memory rate-limit configuration.
type RateLimitConfig struct {
	WindowSeconds int
	MaxRequests   int
}

// SentryConfig holds error-reporting configuration.
type SentryConfig struct {
	DSN         string
	Environment string
	Enabled     bool
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func parseOrigins(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Load loads configuration from environment variables, with .env support.
func Load(loadDotenv func() error) (*Config, error) {
	if loadDotenv != nil {
		_ = loadDotenv()
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			GinMode:     getEnv("GIN_MODE", "release"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "pbi"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "pbi_attestation"),
			SSLMode:  getEnv("DB_SSLMODE", ""),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnvBool("REDIS_ENABLED", false),
		},
		PBI: PBIConfig{
			ReceiptSecret:     getEnv("RECEIPT_SECRET", ""),
			AllowedOrigins:    parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
			PolicyVersion:     getEnv("POLICY_VERSION", "pbi-policy-1.0"),
			PolicyHash:        getEnv("POLICY_HASH", ""),
			PolicyPath:        getEnv("POLICY_PATH", ""),
			DefaultTTLSeconds: getEnvInt("CHALLENGE_DEFAULT_TTL_SECONDS", 120),
			MinTTLSeconds:     getEnvInt("CHALLENGE_MIN_TTL_SECONDS", 10),
			MaxTTLSeconds:     getEnvInt("CHALLENGE_MAX_TTL_SECONDS", 600),
		},
		Webhook: WebhookConfig{
			SecretKeyBase64:       getEnv("WEBHOOK_SECRET_KEY", ""),
			MaxAttempts:           getEnvInt("WEBHOOK_MAX_ATTEMPTS", 8),
			BaseBackoff:           getEnvInt("WEBHOOK_BASE_BACKOFF_SECONDS", 30),
			MaxBackoff:            getEnvInt("WEBHOOK_MAX_BACKOFF_SECONDS", 3600),
			RequestTimeoutSeconds: getEnvInt("WEBHOOK_REQUEST_TIMEOUT_SECONDS", 10),
			WorkerTickSeconds:     getEnvInt("WEBHOOK_WORKER_TICK_SECONDS", 5),
			WorkerBatchSize:       getEnvInt("WEBHOOK_WORKER_BATCH_SIZE", 50),
		},
		Export: ExportConfig{
			SigningPrivateKeyPem: getEnv("EXPORT_SIGNING_PRIVATE_KEY_PEM", ""),
			SigningPublicKeyPem:  getEnv("EXPORT_SIGNING_PUBLIC_KEY_PEM", ""),
		},
		RateLimit: RateLimitConfig{
			WindowSeconds: getEnvInt("RL_WINDOW_SECONDS", 60),
			MaxRequests:   getEnvInt("RL_MAX_REQUESTS", 120),
		},
		Sentry: SentryConfig{
			DSN:         getEnv("SENTRY_DSN", ""),
			Environment: getEnv("SENTRY_ENVIRONMENT", getEnv("ENVIRONMENT", "development")),
			Enabled:     getEnv("SENTRY_DSN", "") != "",
		},
	}

	if len(cfg.PBI.ReceiptSecret) < 32 && cfg.Server.Environment == "production" {
		return nil, fmt.Errorf("RECEIPT_SECRET must be at least 32 bytes in production")
	}

	return cfg, nil
}
