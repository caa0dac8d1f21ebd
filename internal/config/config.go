// Package config validates the process environment into a typed Config,
// following the same required/conditional/optional-with-defaults layering
// regardless of whether values arrive via the environment or bound CLI flags.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated runtime configuration.
type Config struct {
	// Required
	Port            string
	AuthTokenSecret string

	// Hot store (Redis)
	RedisAddr     string
	RedisPassword string

	// Durable store (Postgres)
	DatabaseURL string

	// Optional with defaults
	Environment string
	LogLevel    string

	FrontendOrigin string

	RateLimitWsUser   string
	RateLimitChatUser string
}

// ValidateEnv validates all required environment variables and returns a Config.
// Returns an aggregate error naming every violation found.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = getEnvOrDefault("PORT", "4000")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got %q)", cfg.Port))
	}

	cfg.AuthTokenSecret = os.Getenv("AUTH_TOKEN_SECRET")
	if cfg.AuthTokenSecret == "" {
		errs = append(errs, "AUTH_TOKEN_SECRET is required")
	} else if len(cfg.AuthTokenSecret) < 32 {
		errs = append(errs, fmt.Sprintf("AUTH_TOKEN_SECRET must be at least 32 characters (got %d)", len(cfg.AuthTokenSecret)))
	}

	cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
	if !isValidHostPort(cfg.RedisAddr) {
		errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got %q)", cfg.RedisAddr))
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}

	cfg.Environment = getEnvOrDefault("ENVIRONMENT", "development")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.FrontendOrigin = getEnvOrDefault("FRONTEND_ORIGIN", "http://localhost:3000")

	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "50-M")
	cfg.RateLimitChatUser = getEnvOrDefault("RATE_LIMIT_CHAT_USER", "50-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

// IsProduction reports whether the process should enforce the frontend
// origin allow-list and skip development conveniences.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"auth_token_secret", redactSecret(cfg.AuthTokenSecret),
		"port", cfg.Port,
		"redis_addr", cfg.RedisAddr,
		"environment", cfg.Environment,
		"log_level", cfg.LogLevel,
		"frontend_origin", cfg.FrontendOrigin,
		"rate_limit_ws_user", cfg.RateLimitWsUser,
		"rate_limit_chat_user", cfg.RateLimitChatUser,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
