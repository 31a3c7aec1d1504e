// Package config loads application configuration from environment
// variables with sensible defaults, plus an optional YAML tier-policy
// file for rate-limit quotas.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the root configuration.
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Redis     RedisConfig
	Log       LogConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Throttle  ThrottleConfig
	Session   SessionConfig
	Overload  OverloadConfig
	Jobs      JobsConfig
}

// AppConfig holds application metadata.
type AppConfig struct {
	Name  string
	Env   string
	Debug bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxBodySize     int64
}

// Addr returns the listen address.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisConfig holds Redis configuration. Read/write timeouts double as the
// per-operation budget for admission checks.
type RedisConfig struct {
	Host          string
	Port          int
	Password      string
	DB            int
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	TLSEnabled    bool
	TLSSkipVerify bool
	MaxRetries    int
	MinRetryDelay time.Duration
	MaxRetryDelay time.Duration
}

// Addr returns the Redis address.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// AuthConfig holds the bearer-token collaborator settings.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// RateLimitConfig holds tier quota enforcement configuration.
type RateLimitConfig struct {
	// PolicyFile optionally points to a YAML tier table; empty means the
	// built-in defaults.
	PolicyFile string

	// FailClosed rejects requests when the shared store is unavailable.
	FailClosed bool
}

// ThrottleConfig holds attack-pattern throttling configuration.
type ThrottleConfig struct {
	Retention         time.Duration
	MaxPerRetention   int
	BurstWindow       time.Duration
	MaxPerBurst       int
	BaseBlockDuration time.Duration
	EscalationFactor  float64
	MaxBlockDuration  time.Duration
	OffenceRetention  time.Duration
	FailClosed        bool
}

// SessionConfig holds session manager configuration.
type SessionConfig struct {
	TTL           time.Duration
	SlidingExpiry bool
	FailClosed    bool
}

// OverloadConfig holds the process-local token-bucket guard that shields
// the shared store itself from floods.
type OverloadConfig struct {
	Enabled         bool
	RequestsPerSec  float64
	Burst           int
	CleanupInterval time.Duration
}

// JobsConfig holds the security-event dispatch queue configuration.
type JobsConfig struct {
	Enabled     bool
	Concurrency int
	SIEMWebhook string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "gatekeeper"),
			Env:   getEnv("APP_ENV", "development"),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			RequestTimeout:  getEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodySize:     getEnvInt64("SERVER_MAX_BODY_SIZE", 1<<20),
		},
		Redis: RedisConfig{
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			PoolSize:      getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:  getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:   getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:   getEnvDuration("REDIS_READ_TIMEOUT", 50*time.Millisecond),
			WriteTimeout:  getEnvDuration("REDIS_WRITE_TIMEOUT", 50*time.Millisecond),
			TLSEnabled:    getEnvBool("REDIS_TLS_ENABLED", false),
			TLSSkipVerify: getEnvBool("REDIS_TLS_SKIP_VERIFY", false),
			MaxRetries:    getEnvInt("REDIS_MAX_RETRIES", 3),
			MinRetryDelay: getEnvDuration("REDIS_MIN_RETRY_DELAY", 100*time.Millisecond),
			MaxRetryDelay: getEnvDuration("REDIS_MAX_RETRY_DELAY", 3*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			Issuer:    getEnv("AUTH_JWT_ISSUER", "tourwise"),
			Audience:  getEnv("AUTH_JWT_AUDIENCE", "tourwise-api"),
		},
		RateLimit: RateLimitConfig{
			PolicyFile: getEnv("RATELIMIT_POLICY_FILE", ""),
			FailClosed: getEnvBool("RATELIMIT_FAIL_CLOSED", false),
		},
		Throttle: ThrottleConfig{
			Retention:         getEnvDuration("THROTTLE_RETENTION", 5*time.Minute),
			MaxPerRetention:   getEnvInt("THROTTLE_MAX_PER_RETENTION", 100),
			BurstWindow:       getEnvDuration("THROTTLE_BURST_WINDOW", time.Second),
			MaxPerBurst:       getEnvInt("THROTTLE_MAX_PER_BURST", 10),
			BaseBlockDuration: getEnvDuration("THROTTLE_BASE_BLOCK", time.Hour),
			EscalationFactor:  getEnvFloat("THROTTLE_ESCALATION_FACTOR", 2.0),
			MaxBlockDuration:  getEnvDuration("THROTTLE_MAX_BLOCK", 24*time.Hour),
			OffenceRetention:  getEnvDuration("THROTTLE_OFFENCE_RETENTION", 24*time.Hour),
			FailClosed:        getEnvBool("THROTTLE_FAIL_CLOSED", false),
		},
		Session: SessionConfig{
			TTL:           getEnvDuration("SESSION_TTL", 30*24*time.Hour),
			SlidingExpiry: getEnvBool("SESSION_SLIDING_EXPIRY", false),
			FailClosed:    getEnvBool("SESSION_FAIL_CLOSED", true),
		},
		Overload: OverloadConfig{
			Enabled:         getEnvBool("OVERLOAD_GUARD_ENABLED", true),
			RequestsPerSec:  getEnvFloat("OVERLOAD_GUARD_RPS", 50),
			Burst:           getEnvInt("OVERLOAD_GUARD_BURST", 100),
			CleanupInterval: getEnvDuration("OVERLOAD_GUARD_CLEANUP", time.Minute),
		},
		Jobs: JobsConfig{
			Enabled:     getEnvBool("JOBS_ENABLED", false),
			Concurrency: getEnvInt("JOBS_CONCURRENCY", 5),
			SIEMWebhook: getEnv("JOBS_SIEM_WEBHOOK", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for configuration that cannot possibly work.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Throttle.EscalationFactor < 1.0 {
		return fmt.Errorf("throttle escalation factor must be >= 1.0")
	}
	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required in production")
	}
	return nil
}

// IsProduction reports whether the app runs in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
