// Package config provides configuration management for the air-quality reward agent.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/aqi-agent/internal/types"
	"github.com/joho/godotenv"
)

// Ledger drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Agent     AgentConfig
	Sweep     SweepConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration // deadline applied to every ledger call of a request
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver         string
	MigrationsPath string
	Postgres       PostgresConfig
	Redis          RedisConfig
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

// URL returns the connection URL used by the migration tool
func (c PostgresConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	StatsTTL time.Duration
}

// AgentConfig holds verification and reward configuration
type AgentConfig struct {
	MinInterval   time.Duration
	DefaultSource types.Source
}

// SweepConfig holds configuration for the pending-verification sweep
type SweepConfig struct {
	Schedule  string // cron spec, e.g. "@every 5m"
	BatchSize int
}

// RateLimitConfig holds HTTP throttling configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string // empty means trust the X-User-ID header
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 5*time.Second),
		},
		Database: DatabaseConfig{
			Driver:         getEnv("LEDGER_DRIVER", DriverPostgres),
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations/postgres"),
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "aqi_agent"),
				User:           getEnv("POSTGRES_USER", "agent"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			Redis: RedisConfig{
				Enabled:        getEnvAsBool("REDIS_ENABLED", false),
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Cache: CacheConfig{
			StatsTTL: getEnvAsDuration("CACHE_STATS_TTL", 20*time.Second),
		},
		Agent: AgentConfig{
			MinInterval:   getEnvAsDuration("AGENT_MIN_INTERVAL", types.DefaultMinInterval),
			DefaultSource: types.Source(getEnv("AGENT_DEFAULT_SOURCE", string(types.SourceSelfReported))),
		},
		Sweep: SweepConfig{
			Schedule:  getEnv("SWEEP_SCHEDULE", "@every 5m"),
			BatchSize: getEnvAsInt("SWEEP_BATCH_SIZE", 100),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 5),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that the configuration can run the agent
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown ledger driver: %s (must be '%s' or '%s')", c.Database.Driver, DriverPostgres, DriverMemory)
	}
	if c.Agent.MinInterval <= 0 {
		return fmt.Errorf("agent min interval must be positive, got %v", c.Agent.MinInterval)
	}
	if !c.Agent.DefaultSource.Valid() {
		return fmt.Errorf("agent default source %q is not a trusted source", c.Agent.DefaultSource)
	}
	if c.Sweep.BatchSize <= 0 {
		return fmt.Errorf("sweep batch size must be positive, got %d", c.Sweep.BatchSize)
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate limit must be positive (rps=%d, burst=%d)", c.RateLimit.RequestsPerSecond, c.RateLimit.Burst)
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

// getEnvAsBool gets an environment variable as a boolean with a default value
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
