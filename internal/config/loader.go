package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
func Load() (*Config, error) {
	environ := env.ToMap(os.Environ())
	if environ["DATABASE_URL"] == "" && environ["DB_URL"] != "" {
		environ["DATABASE_URL"] = environ["DB_URL"]
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// normalize trims list entries and lowercases enumerated values.
func (c *Config) normalize() {
	c.Security.TrustedProxies = trimAll(c.Security.TrustedProxies)
	c.Security.APIKeys = trimAll(c.Security.APIKeys)
	c.Authz.Roles = trimAll(c.Authz.Roles)
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Operators parses API_KEYS into a key -> operator map.
// Entries without an operator name are returned as errors by Validate.
func (c *SecurityConfig) Operators() map[string]string {
	out := make(map[string]string, len(c.APIKeys))
	for _, entry := range c.APIKeys {
		name, key, ok := strings.Cut(entry, ":")
		if !ok || name == "" || key == "" {
			continue
		}
		out[key] = name
	}
	return out
}

// RoleMap parses AUTHZ_ROLES into an operator -> role map.
func (c *AuthzConfig) RoleMap() map[string]string {
	out := make(map[string]string, len(c.Roles))
	for _, entry := range c.Roles {
		name, role, ok := strings.Cut(entry, ":")
		if !ok || name == "" || role == "" {
			continue
		}
		out[name] = role
	}
	return out
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Storage validation
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, "DATABASE_URL is required when STORAGE_DRIVER=postgres")
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Sprintf("STORAGE_DRIVER (%q) must be one of: postgres, memory", c.Storage.Driver))
	}

	// Database validation
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Upload validation
	if c.Upload.MaxFileSize <= 0 {
		errs = append(errs, "UPLOAD_MAX_FILE_SIZE must be positive")
	}
	if c.Upload.MaxConcurrent <= 0 {
		errs = append(errs, "UPLOAD_MAX_CONCURRENT must be positive")
	}
	if c.Upload.MaxWaitTime <= 0 {
		errs = append(errs, "UPLOAD_MAX_WAIT_TIME must be positive")
	}
	if c.Upload.Timeout <= 0 {
		errs = append(errs, "UPLOAD_TIMEOUT must be positive")
	}
	if c.Upload.PreviewRows < 0 {
		errs = append(errs, "UPLOAD_PREVIEW_ROWS must be non-negative")
	}

	// Import validation
	if c.Import.BatchSize <= 0 {
		errs = append(errs, "IMPORT_BATCH_SIZE must be positive")
	}
	if c.Import.TickDelay < 0 {
		errs = append(errs, "IMPORT_TICK_DELAY must be non-negative")
	}
	if c.Import.PollInterval <= 0 {
		errs = append(errs, "IMPORT_POLL_INTERVAL must be positive")
	}
	if c.Import.ClaimLimit <= 0 {
		errs = append(errs, "IMPORT_CLAIM_LIMIT must be positive")
	}
	if c.Import.LeaseTTL <= 0 {
		errs = append(errs, "IMPORT_LEASE_TTL must be positive")
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.UploadLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_UPLOAD must be positive when rate limiting is enabled")
	}

	// Janitor validation
	if c.Janitor.Enabled && c.Janitor.Retention <= 0 {
		errs = append(errs, "JANITOR_RETENTION must be positive")
	}
	if c.Janitor.Enabled && c.Janitor.Interval <= 0 {
		errs = append(errs, "JANITOR_INTERVAL must be positive")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}
	for _, entry := range c.Security.APIKeys {
		if name, key, ok := strings.Cut(entry, ":"); !ok || name == "" || key == "" {
			errs = append(errs, "API_KEYS entries must have the form operator:key")
			break
		}
	}
	if !c.Security.RequireAPIKey && c.Security.DefaultOperator == "" {
		errs = append(errs, "DEFAULT_OPERATOR is required when REQUIRE_API_KEY is false")
	}

	// Authz validation
	if (c.Authz.ModelPath == "") != (c.Authz.PolicyPath == "") {
		errs = append(errs, "AUTHZ_MODEL_PATH and AUTHZ_POLICY_PATH must be set together")
	}
	for _, entry := range c.Authz.Roles {
		if name, role, ok := strings.Cut(entry, ":"); !ok || name == "" || role == "" {
			errs = append(errs, "AUTHZ_ROLES entries must have the form operator:role")
			break
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Connection strings and API keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Storage: {Driver: %q}, Redis: {Enabled: %v}, ", c.Storage.Driver, c.Redis.URL != "")
	fmt.Fprintf(&b, "Import: {BatchSize: %d, TickDelay: %s}, ", c.Import.BatchSize, c.Import.TickDelay)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: %d}, ", c.Security.RequireAPIKey, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
