// Package config loads process configuration from the environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all environment configuration
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Logging   LoggingConfig
	Explorer  ExplorerConfig
	Metrics   MetricsConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds the history server configuration
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
	// APIKeys guard /api/v1 when non-empty: plaintext keys or "sha256:<hex>"
	APIKeys []string
}

// StorageConfig holds run ledger configuration
type StorageConfig struct {
	Enabled  bool
	Type     string // "sqlite" or "postgres"
	Postgres PostgresConfig
	SQLite   SQLiteConfig
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// ExplorerConfig holds block explorer client settings
type ExplorerConfig struct {
	URL            string  // overrides the network's API URL
	RequestsPerSec float64 // <= 0 disables pacing
	Burst          int
	TimeoutSeconds int
}

// RateLimitConfig holds per-client rate limiting settings for the history server
type RateLimitConfig struct {
	Enabled        bool
	RequestsPerMin int
	BurstSize      int
	CleanupMinutes int
	TrustedProxies []string // CIDR notation
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvInt("PORT", 8080),
			Host:         getEnv("HOST", "127.0.0.1"),
			ReadTimeout:  getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getEnvInt("SERVER_WRITE_TIMEOUT", 60),
			IdleTimeout:  getEnvInt("SERVER_IDLE_TIMEOUT", 120),
			APIKeys:      getEnvStringSlice("SERVER_API_KEYS", nil),
		},
		Storage: StorageConfig{
			Enabled: getEnvBool("LEDGER_ENABLED", true),
			Type:    getEnv("STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", defaultSQLitePath()),
			},
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Explorer: ExplorerConfig{
			URL:            getEnv("ETHERSCAN_API_URL", ""),
			RequestsPerSec: getEnvFloat("ETHERSCAN_RATE_LIMIT", 5),
			Burst:          getEnvInt("ETHERSCAN_RATE_BURST", 5),
			TimeoutSeconds: getEnvInt("ETHERSCAN_TIMEOUT", 30),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", false),
			Addr:    getEnv("METRICS_ADDR", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin: getEnvInt("RATE_LIMIT_RPM", 300),
			BurstSize:      getEnvInt("RATE_LIMIT_BURST", 50),
			CleanupMinutes: getEnvInt("RATE_LIMIT_CLEANUP_MINUTES", 10),
			TrustedProxies: getEnvStringSlice("TRUSTED_PROXIES", nil),
		},
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	// A metrics address implies metrics are wanted
	if cfg.Metrics.Addr != "" {
		cfg.Metrics.Enabled = true
	}

	return cfg, nil
}

// defaultSQLitePath keeps the ledger next to the CLI credentials.
func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".contraverify", "ledger.db")
	}
	return filepath.Join(home, ".contraverify", "ledger.db")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
