package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Security  SecurityConfig  `mapstructure:"security"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Retention RetentionConfig `mapstructure:"retention"`
	Risk      RiskConfig      `mapstructure:"risk"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SentryConfig holds error reporting configuration. An empty DSN disables Sentry.
type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	Password     PasswordConfig     `mapstructure:"password"`
	Tokens       TokenConfig        `mapstructure:"tokens"`
	Lockout      LockoutConfig      `mapstructure:"lockout"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// PasswordConfig holds password hashing configuration
type PasswordConfig struct {
	BcryptCost int `mapstructure:"bcrypt_cost"`
}

// TokenConfig holds JWT token configuration
type TokenConfig struct {
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	// SigningSecret is the base64-encoded HMAC key.
	SigningSecret string `mapstructure:"signing_secret"`
	Issuer        string `mapstructure:"issuer"`
}

// SigningKey decodes the configured signing secret.
func (c TokenConfig) SigningKey() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("signing secret is not valid base64: %w", err)
	}
	return key, nil
}

// LockoutConfig holds brute-force protection settings
type LockoutConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	Duration      time.Duration `mapstructure:"duration"`
	AttemptWindow time.Duration `mapstructure:"attempt_window"`
}

// RateLimitingConfig holds rate limiting configuration. The per-IP login
// limit must stay above the lockout threshold or a locked client sees 429
// instead of the lockout response.
type RateLimitingConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	DefaultLimit  int           `mapstructure:"default_limit"`
	DefaultWindow time.Duration `mapstructure:"default_window"`
	LoginLimit    int           `mapstructure:"login_limit"`
	LoginWindow   time.Duration `mapstructure:"login_window"`
	RefreshLimit  int           `mapstructure:"refresh_limit"`
	RefreshWindow time.Duration `mapstructure:"refresh_window"`
	VerifyLimit   int           `mapstructure:"verify_limit"`
	VerifyWindow  time.Duration `mapstructure:"verify_window"`
}

// TelemetryConfig holds security event dispatch settings
type TelemetryConfig struct {
	QueueSize       int           `mapstructure:"queue_size"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
	AlertChannel    string        `mapstructure:"alert_channel"`
}

// RetentionConfig holds settings for the background prune jobs
type RetentionConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	BatchSize      int           `mapstructure:"batch_size"`
	LoginAttempts  time.Duration `mapstructure:"login_attempts"`
	SecurityEvents time.Duration `mapstructure:"security_events"`
}

// RiskConfig holds risk scoring thresholds
type RiskConfig struct {
	Window                 time.Duration `mapstructure:"window"`
	HighValueThreshold     float64       `mapstructure:"high_value_threshold"`
	RapidActivityThreshold int           `mapstructure:"rapid_activity_threshold"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/mediatech")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("MEDIATECH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	key, err := c.Security.Tokens.SigningKey()
	if err != nil {
		return err
	}
	if len(key) < 32 {
		return errors.New("signing secret must decode to at least 32 bytes")
	}
	if c.Security.Tokens.AccessTokenTTL <= 0 || c.Security.Tokens.RefreshTokenTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.Security.Lockout.MaxAttempts <= 0 {
		return errors.New("lockout max_attempts must be positive")
	}
	if rl := c.Security.RateLimiting; rl.Enabled && rl.LoginLimit > 0 && rl.LoginLimit <= c.Security.Lockout.MaxAttempts {
		return fmt.Errorf("rate_limiting login_limit (%d) must exceed lockout max_attempts (%d)", rl.LoginLimit, c.Security.Lockout.MaxAttempts)
	}
	if c.Telemetry.QueueSize <= 0 {
		return errors.New("telemetry queue_size must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:4200"})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "mediatech")
	v.SetDefault("database.user", "mediatech")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")

	// Security defaults
	v.SetDefault("security.password.bcrypt_cost", 12)

	v.SetDefault("security.tokens.access_token_ttl", "15m")
	v.SetDefault("security.tokens.refresh_token_ttl", "168h")
	v.SetDefault("security.tokens.signing_secret", "")
	v.SetDefault("security.tokens.issuer", "mediatech")

	v.SetDefault("security.lockout.max_attempts", 5)
	v.SetDefault("security.lockout.duration", "30m")
	v.SetDefault("security.lockout.attempt_window", "15m")

	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.default_limit", 100)
	v.SetDefault("security.rate_limiting.default_window", "1m")
	v.SetDefault("security.rate_limiting.login_limit", 20)
	v.SetDefault("security.rate_limiting.login_window", "15m")
	v.SetDefault("security.rate_limiting.refresh_limit", 10)
	v.SetDefault("security.rate_limiting.refresh_window", "1m")
	v.SetDefault("security.rate_limiting.verify_limit", 10)
	v.SetDefault("security.rate_limiting.verify_window", "15m")

	// Telemetry defaults
	v.SetDefault("telemetry.queue_size", 1024)
	v.SetDefault("telemetry.max_retry_backoff", "5s")
	v.SetDefault("telemetry.alert_channel", "mediatech:security:alerts")

	// Retention defaults
	v.SetDefault("retention.interval", "24h")
	v.SetDefault("retention.initial_delay", "1m")
	v.SetDefault("retention.batch_size", 500)
	v.SetDefault("retention.login_attempts", "720h")
	v.SetDefault("retention.security_events", "2160h")

	// Risk scoring defaults
	v.SetDefault("risk.window", "720h")
	v.SetDefault("risk.high_value_threshold", 5000.0)
	v.SetDefault("risk.rapid_activity_threshold", 5)
}
