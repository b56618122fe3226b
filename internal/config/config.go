// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Usage store backends.
const (
	UsageStorePostgres = "postgres"
	UsageStoreMongo    = "mongo"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Rate limiting
	RateLimitAPIEnabled bool `env:"RATE_LIMIT_API_ENABLED" envDefault:"true"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	// Usage reporting
	UsageStore      string `env:"USAGE_STORE" envDefault:"postgres"`
	MongoURI        string `env:"MONGODB_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase   string `env:"MONGODB_DATABASE" envDefault:"parlor"`
	UsageTimezone   string `env:"USAGE_TIMEZONE" envDefault:"UTC"`
	UsageWindowDays int    `env:"USAGE_WINDOW_DAYS" envDefault:"30"`

	// Rendered profiles are cached in Redis for this long; 0 disables.
	ProfileCacheTTL time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"0s"`

	// MCP tool servers
	CustomConfigPath   string        `env:"CUSTOM_CONFIG_PATH" envDefault:"parlor.yaml"`
	StructuredToolsDir string        `env:"STRUCTURED_TOOLS_DIR" envDefault:"tools"`
	FilteredTools      []string      `env:"FILTERED_TOOLS" envSeparator:","`
	IncludedTools      []string      `env:"INCLUDED_TOOLS" envSeparator:","`
	MCPInitTimeout     time.Duration `env:"MCP_INIT_TIMEOUT" envDefault:"30s"`
	MCPWatchConfig     bool          `env:"MCP_WATCH_CONFIG" envDefault:"false"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// UsageLocation resolves the reference time zone used for daily buckets.
func (c *Config) UsageLocation() (*time.Location, error) {
	if c.UsageTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.UsageTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid USAGE_TIMEZONE %q: %w", c.UsageTimezone, err)
	}
	return loc, nil
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	switch cfg.UsageStore {
	case UsageStorePostgres, UsageStoreMongo:
	default:
		return nil, fmt.Errorf("invalid USAGE_STORE %q: must be %s or %s", cfg.UsageStore, UsageStorePostgres, UsageStoreMongo)
	}

	if cfg.UsageWindowDays <= 0 {
		return nil, fmt.Errorf("USAGE_WINDOW_DAYS must be positive, got %d", cfg.UsageWindowDays)
	}

	if cfg.ProfileCacheTTL < 0 {
		return nil, fmt.Errorf("PROFILE_CACHE_TTL must not be negative, got %s", cfg.ProfileCacheTTL)
	}

	return cfg, nil
}
