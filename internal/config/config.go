// Package config provides centralized configuration management for the
// import service. Settings come from environment variables (optionally
// seeded from a .env file), fall back to sensible defaults, and are
// validated on startup so misconfiguration fails fast.
package config

import (
	"net"
	"strconv"
	"time"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Upload   UploadConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Authz    AuthzConfig
	Logging  LoggingConfig
	Janitor  JanitorConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`

	// Port is the port to listen on
	Port int `env:"SERVER_PORT" envDefault:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including draining uploads
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// RequestTimeout is the middleware timeout for requests
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" envDefault:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. DB_URL is accepted as a
	// fallback for older deployments.
	URL string `env:"DATABASE_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" envDefault:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" envDefault:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`

	// AutoMigrate applies pending migrations when the server starts
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// StorageConfig selects where import records and pending ticks live.
type StorageConfig struct {
	// Driver is "postgres" (durable, multi-process) or "memory" (single
	// process, for local development)
	Driver string `env:"STORAGE_DRIVER" envDefault:"postgres"`
}

// RedisConfig is optional. When URL is set, tick leases and rate limit
// counters are shared through Redis instead of process memory.
type RedisConfig struct {
	URL       string `env:"REDIS_URL"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"csvimport"`
}

// UploadConfig holds CSV upload settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 50MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" envDefault:"52428800"`

	// MaxConcurrent is the maximum number of uploads parsed in parallel
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" envDefault:"5"`

	// MaxWaitTime is how long to wait for an upload slot
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" envDefault:"30s"`

	// Timeout is the maximum duration for parsing and storing one upload
	Timeout time.Duration `env:"UPLOAD_TIMEOUT" envDefault:"5m"`

	// PreviewRows is how many data rows the preview page shows
	PreviewRows int `env:"UPLOAD_PREVIEW_ROWS" envDefault:"25"`
}

// ImportConfig holds batch runner settings.
type ImportConfig struct {
	// BatchSize is the default number of rows handed to an importer per tick
	BatchSize int `env:"IMPORT_BATCH_SIZE" envDefault:"100"`

	// TickDelay is the pause between consecutive ticks of one record
	TickDelay time.Duration `env:"IMPORT_TICK_DELAY" envDefault:"5s"`

	// PollInterval is how often the Postgres scheduler looks for due ticks
	PollInterval time.Duration `env:"IMPORT_POLL_INTERVAL" envDefault:"1s"`

	// ClaimLimit caps the ticks claimed per poll
	ClaimLimit int `env:"IMPORT_CLAIM_LIMIT" envDefault:"10"`

	// LeaseTTL bounds how long one tick may hold a record
	LeaseTTL time.Duration `env:"IMPORT_LEASE_TTL" envDefault:"15m"`
}

// RateLimitConfig holds rate limiting settings per client IP.
type RateLimitConfig struct {
	Enabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`

	// RequestsPerMinute is the default rate limit per IP
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" envDefault:"100"`

	// UploadLimit is requests per minute for upload and process endpoints
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" envDefault:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	EnableCSP bool `env:"SECURITY_ENABLE_CSP" envDefault:"true"`

	// RequireAPIKey enables operator authentication
	RequireAPIKey bool `env:"REQUIRE_API_KEY" envDefault:"false"`

	// APIKeys is a comma-separated list of operator:key pairs
	APIKeys []string `env:"API_KEYS"`

	// DefaultOperator is the identity used when authentication is disabled
	DefaultOperator string `env:"DEFAULT_OPERATOR" envDefault:"admin"`
}

// AuthzConfig points at an optional casbin model and policy on disk. When
// unset, the built-in capability model and role policy are used.
type AuthzConfig struct {
	ModelPath  string `env:"AUTHZ_MODEL_PATH"`
	PolicyPath string `env:"AUTHZ_POLICY_PATH"`

	// Roles is a comma-separated list of operator:role assignments
	Roles []string `env:"AUTHZ_ROLES" envDefault:"admin:administrator"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error
	Level string `env:"LOG_LEVEL" envDefault:"info"`

	// Format is the log format: text or json
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// JanitorConfig controls the purge of uploads that were never started.
type JanitorConfig struct {
	Enabled   bool          `env:"JANITOR_ENABLED" envDefault:"true"`
	Retention time.Duration `env:"JANITOR_RETENTION" envDefault:"168h"`
	Interval  time.Duration `env:"JANITOR_INTERVAL" envDefault:"1h"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
