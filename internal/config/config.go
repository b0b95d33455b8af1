// Package config provides configuration management for the portfolio market-data engine.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Market    MarketConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds configuration of the optional price-history mirror
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CacheConfig holds quote cache configuration
type CacheConfig struct {
	// QuoteTTL bounds how long a resolved quote stays in Redis
	QuoteTTL time.Duration
	// FreshnessWindow decides whether a cached quote may be served without
	// contacting providers. Zero means "fetched on the same calendar day".
	FreshnessWindow time.Duration
	// FxMemoTTL bounds the in-process FX rate memo
	FxMemoTTL time.Duration
}

// MarketConfig holds market-data provider settings
type MarketConfig struct {
	BaseCurrency    string
	ProviderTimeout time.Duration
	ScrapeTimeout   time.Duration
	CryptoTimeout   time.Duration
	RefreshPacing   time.Duration
	SymbolMapFile   string
	CalendarMIC     string
}

// WorkerConfig holds the periodic refresh worker settings
type WorkerConfig struct {
	RefreshInterval time.Duration
	RefreshPeriod   string
	QueuePoll       time.Duration
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	JWTSecret     string
	DefaultUserID string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio"),
				User:           getEnv("POSTGRES_USER", "portfolio"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "portfolio"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Cache: CacheConfig{
			QuoteTTL:        getEnvAsDuration("CACHE_QUOTE_TTL", 24*time.Hour),
			FreshnessWindow: getEnvAsDuration("CACHE_FRESHNESS_WINDOW", 0),
			FxMemoTTL:       getEnvAsDuration("CACHE_FX_MEMO_TTL", time.Hour),
		},
		Market: MarketConfig{
			BaseCurrency:    strings.ToUpper(getEnv("BASE_CURRENCY", "CZK")),
			ProviderTimeout: getEnvAsDuration("PROVIDER_TIMEOUT", 15*time.Second),
			ScrapeTimeout:   getEnvAsDuration("SCRAPE_TIMEOUT", 8*time.Second),
			CryptoTimeout:   getEnvAsDuration("CRYPTO_TIMEOUT", 4*time.Second),
			RefreshPacing:   getEnvAsDuration("REFRESH_PACING", 300*time.Millisecond),
			SymbolMapFile:   getEnv("SYMBOL_MAP_FILE", ""),
			CalendarMIC:     strings.ToLower(getEnv("CALENDAR_MIC", "xnys")),
		},
		Worker: WorkerConfig{
			RefreshInterval: getEnvAsDuration("WORKER_REFRESH_INTERVAL", 6*time.Hour),
			RefreshPeriod:   getEnv("WORKER_REFRESH_PERIOD", ""),
			QueuePoll:       getEnvAsDuration("WORKER_QUEUE_POLL", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("JWT_SECRET", ""),
			DefaultUserID: getEnv("DEFAULT_USER_ID", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// Validate checks the settings the engine cannot run without
func (c *Config) Validate() error {
	if len(c.Market.BaseCurrency) != 3 {
		return fmt.Errorf("BASE_CURRENCY must be a 3-letter code, got %q", c.Market.BaseCurrency)
	}
	if c.Market.RefreshPacing <= 0 {
		return fmt.Errorf("REFRESH_PACING must be positive")
	}
	if c.Database.Postgres.Host == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.Cache.FreshnessWindow < 0 {
		return fmt.Errorf("CACHE_FRESHNESS_WINDOW must not be negative")
	}
	if f := c.Market.SymbolMapFile; f != "" {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("SYMBOL_MAP_FILE %q: %w", f, err)
		}
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
