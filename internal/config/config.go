package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// MinSiteTokenLength is the shortest accepted static bearer secret.
const MinSiteTokenLength = 8

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Slug generators.
const (
	GeneratorRandom    = "random"
	GeneratorSnowflake = "snowflake"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	Links         LinkConfig
	Store         StoreConfig
	Redis         RedisConfig
	Database      DatabaseConfig
	App           AppConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"SERVER_PORT" required:"true"`
	Host            string        `envconfig:"SERVER_HOST" required:"true"`
	BaseURL         string        `envconfig:"SERVER_BASE_URL"` // empty: derive from request scheme + host
	TrustProxy      bool          `envconfig:"SERVER_TRUST_PROXY" default:"false"`
	AllowedOrigins  []string      `envconfig:"SERVER_ALLOWED_ORIGINS"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" required:"true"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" required:"true"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" required:"true"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" required:"true"`
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("base URL must be an absolute http(s) URL, got %q", c.BaseURL)
		}
		c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// AuthConfig holds the credentials used to authorize link creation.
type AuthConfig struct {
	SiteToken        string        `envconfig:"AUTH_SITE_TOKEN" required:"true"`
	CaptchaSecret    string        `envconfig:"AUTH_CAPTCHA_SECRET"`
	CaptchaVerifyURL string        `envconfig:"AUTH_CAPTCHA_VERIFY_URL" default:"https://challenges.cloudflare.com/turnstile/v0/siteverify"`
	CaptchaTimeout   time.Duration `envconfig:"AUTH_CAPTCHA_TIMEOUT" default:"5s"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if len(c.SiteToken) < MinSiteTokenLength {
		return fmt.Errorf("site token must be at least %d characters", MinSiteTokenLength)
	}
	if c.CaptchaSecret != "" {
		u, err := url.Parse(c.CaptchaVerifyURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid captcha verify URL: %q", c.CaptchaVerifyURL)
		}
	}
	if c.CaptchaTimeout <= 0 {
		return fmt.Errorf("captcha timeout must be positive")
	}
	return nil
}

// CaptchaEnabled reports whether CAPTCHA tokens can be verified at all.
func (c *AuthConfig) CaptchaEnabled() bool {
	return c.CaptchaSecret != ""
}

// maxLinkLifetime matches the service's hard bound on link lifetimes.
const maxLinkLifetime = 100 * 365 * 24 * time.Hour

// LinkConfig holds slug and expiration policy.
type LinkConfig struct {
	CaseSensitive     bool          `envconfig:"LINK_CASE_SENSITIVE" default:"false"`
	DefaultTTL        time.Duration `envconfig:"LINK_DEFAULT_TTL" default:"168h"` // 0: links never expire
	MaxTTL            time.Duration `envconfig:"LINK_MAX_TTL" default:"0"`        // 0: unbounded
	SlugLength        int           `envconfig:"LINK_SLUG_LENGTH" default:"6"`
	SlugMaxRetries    int           `envconfig:"LINK_SLUG_MAX_RETRIES" default:"3"`
	SlugGenerator     string        `envconfig:"LINK_SLUG_GENERATOR" default:"random"`
	SnowflakeNode     int64         `envconfig:"LINK_SNOWFLAKE_NODE" default:"1"`
	ReservedSlugs     []string      `envconfig:"LINK_RESERVED_SLUGS"`
	DeleteConcurrency int           `envconfig:"LINK_DELETE_CONCURRENCY" default:"8"`
}

// Validate validates the link configuration.
func (c *LinkConfig) Validate() error {
	if c.DefaultTTL < 0 {
		return fmt.Errorf("default TTL cannot be negative")
	}
	if c.MaxTTL < 0 {
		return fmt.Errorf("max TTL cannot be negative")
	}
	if c.DefaultTTL > maxLinkLifetime || c.MaxTTL > maxLinkLifetime {
		return fmt.Errorf("link TTLs cannot exceed %s", maxLinkLifetime)
	}
	if c.MaxTTL > 0 && c.DefaultTTL > c.MaxTTL {
		return fmt.Errorf("default TTL (%s) cannot exceed max TTL (%s)", c.DefaultTTL, c.MaxTTL)
	}
	if c.MaxTTL > 0 && c.DefaultTTL == 0 {
		return fmt.Errorf("default TTL must be set when max TTL is set")
	}
	if c.SlugLength < 1 || c.SlugLength > 64 {
		return fmt.Errorf("slug length must be between 1 and 64, got %d", c.SlugLength)
	}
	if c.SlugMaxRetries < 1 {
		return fmt.Errorf("slug max retries must be positive")
	}
	switch c.SlugGenerator {
	case GeneratorRandom:
	case GeneratorSnowflake:
		if c.SnowflakeNode < 0 || c.SnowflakeNode > 1023 {
			return fmt.Errorf("snowflake node must be between 0 and 1023, got %d", c.SnowflakeNode)
		}
	default:
		return fmt.Errorf("invalid slug generator: %s (must be one of: random, snowflake)", c.SlugGenerator)
	}
	if c.DeleteConcurrency < 1 {
		return fmt.Errorf("delete concurrency must be positive")
	}
	return nil
}

// StoreConfig selects and bounds the link store backend.
type StoreConfig struct {
	Backend   string        `envconfig:"STORE_BACKEND" default:"memory"`
	Timeout   time.Duration `envconfig:"STORE_TIMEOUT" default:"3s"`
	KeyPrefix string        `envconfig:"STORE_KEY_PREFIX" default:"link:"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("invalid store backend: %s (must be one of: memory, redis, postgres)", c.Backend)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}
	return nil
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL      string `envconfig:"REDIS_URL" required:"true"`
	PoolSize int    `envconfig:"REDIS_POOL_SIZE" default:"20"`
}

// Validate validates the Redis configuration.
func (c *RedisConfig) Validate() error {
	if !strings.HasPrefix(c.URL, "redis://") && !strings.HasPrefix(c.URL, "rediss://") {
		return fmt.Errorf("redis URL must start with redis:// or rediss://")
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("redis pool size must be positive")
	}
	return nil
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" required:"true"`
	Port     string `envconfig:"DB_PORT" required:"true"`
	User     string `envconfig:"DB_USER" required:"true"`
	Password string `envconfig:"DB_PASSWORD" required:"true"`
	Name     string `envconfig:"DB_NAME" required:"true"`
	SSLMode  string `envconfig:"DB_SSLMODE" required:"true"`
	MaxConns int32  `envconfig:"DB_MAX_CONNS" required:"true"`
	MinConns int32  `envconfig:"DB_MIN_CONNS" required:"true"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.User == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if c.Name == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if c.MinConns <= 0 {
		return fmt.Errorf("min connections must be positive")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections (%d) cannot be greater than max connections (%d)", c.MinConns, c.MaxConns)
	}

	switch c.SSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("invalid SSL mode: %s (must be one of: disable, require, verify-ca, verify-full)", c.SSLMode)
	}
	return nil
}

// URL returns the database URL in postgres:// form.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" required:"true"`   // development, staging, production, test
	LogLevel    string `envconfig:"LOG_LEVEL" required:"true"` // debug, info, warn, error
}

// Validate validates the app configuration.
func (c *AppConfig) Validate() error {
	switch c.Environment {
	case "development", "staging", "production", "test":
	default:
		return fmt.Errorf("invalid environment: %s (must be one of: development, staging, production, test)", c.Environment)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	return nil
}

// ObservabilityConfig holds configuration for tracing and metrics.
type ObservabilityConfig struct {
	Enabled           bool    `envconfig:"OTEL_ENABLED" default:"false"`
	ServiceName       string  `envconfig:"OTEL_SERVICE_NAME" default:"linkgate"`
	ServiceVersion    string  `envconfig:"OTEL_SERVICE_VERSION" default:"dev"`
	OTelEndpoint      string  `envconfig:"OTEL_ENDPOINT"`
	OTelInsecure      bool    `envconfig:"OTEL_INSECURE"`
	TracingSampleRate float64 `envconfig:"OTEL_TRACING_SAMPLE_RATE" default:"1.0"`
	MetricsEnabled    bool    `envconfig:"METRICS_ENABLED" default:"true"`
}

// Validate validates the observability configuration.
func (c *ObservabilityConfig) Validate() error {
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be between 0 and 1, got %f", c.TracingSampleRate)
	}
	if c.Enabled {
		if c.ServiceName == "" {
			return fmt.Errorf("service name is required when observability is enabled")
		}
		if c.OTelEndpoint == "" {
			return fmt.Errorf("OTEL endpoint is required when observability is enabled")
		}
	}
	return nil
}

type validator interface {
	Validate() error
}

// Load loads configuration from environment variables only.
// Backend-specific sections are read only for the selected store backend.
func Load() (*Config, error) {
	cfg := &Config{}

	sections := []struct {
		name string
		cfg  validator
	}{
		{"Server", &cfg.Server},
		{"Auth", &cfg.Auth},
		{"Links", &cfg.Links},
		{"Store", &cfg.Store},
		{"App", &cfg.App},
		{"Observability", &cfg.Observability},
	}
	for _, s := range sections {
		if err := process(s.name, s.cfg); err != nil {
			return nil, err
		}
	}

	switch cfg.Store.Backend {
	case BackendRedis:
		if err := process("Redis", &cfg.Redis); err != nil {
			return nil, err
		}
	case BackendPostgres:
		if err := process("Database", &cfg.Database); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func process(name string, section validator) error {
	if err := envconfig.Process("", section); err != nil {
		return fmt.Errorf("failed to load %s config: %w", name, err)
	}
	if err := section.Validate(); err != nil {
		return fmt.Errorf("invalid %s config: %w", name, err)
	}
	return nil
}
