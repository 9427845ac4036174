// Package config provides centralized configuration management for the ledger service.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Auth     AuthConfig
	Logging  LoggingConfig
	Storage  StorageConfig
	Export   ExportConfig
	Watch    WatchConfig
	Redis    RedisConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing the response (default: 2m)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"2m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 90s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"90s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// MigrateOnStart applies embedded schema migrations at startup (default: true)
	MigrateOnStart bool `env:"DB_MIGRATE_ON_START" default:"true"`
}

// ImportConfig holds batch import settings.
type ImportConfig struct {
	// MaxFileSize is the maximum accepted file size in bytes (default: 50MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"52428800"`

	// MaxConcurrent is the maximum number of imports processed in parallel (default: 4)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long an import waits for a free slot (default: 20s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"20s"`

	// Timeout bounds a single import, parse included (default: 5m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"5m"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 120)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"120"`

	// ImportLimit is requests per minute for import and revoke endpoints (default: 10)
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey rejects API requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// AuthConfig holds operator identity settings.
type AuthConfig struct {
	// JWTSecret verifies HS256 bearer tokens; empty disables token parsing
	JWTSecret string `env:"JWT_SECRET"`

	// JWTIssuer is the expected "iss" claim, if set
	JWTIssuer string `env:"JWT_ISSUER"`

	// JWTAudience is the expected "aud" claim, if set
	JWTAudience string `env:"JWT_AUDIENCE"`

	// RequireToken rejects mutating requests without a valid token (default: false)
	RequireToken bool `env:"AUTH_REQUIRE_TOKEN" default:"false"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// StorageConfig selects the blob store for source files and ledger exports.
type StorageConfig struct {
	// Backend is one of: none, local, s3 (default: none)
	Backend string `env:"STORAGE_BACKEND" default:"none"`

	// LocalPath is the base directory for the local backend (default: ./data)
	LocalPath string `env:"STORAGE_LOCAL_PATH" default:"./data"`

	S3Bucket          string `env:"STORAGE_S3_BUCKET"`
	S3Region          string `env:"STORAGE_S3_REGION" envAlt:"AWS_REGION"`
	S3Endpoint        string `env:"STORAGE_S3_ENDPOINT"`
	S3AccessKeyID     string `env:"STORAGE_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"STORAGE_S3_SECRET_ACCESS_KEY"`
}

// ExportConfig holds ledger export job settings.
type ExportConfig struct {
	// Enabled turns on the periodic ledger export (default: false)
	Enabled bool `env:"EXPORT_ENABLED" default:"false"`

	// Interval is how often to export new ledger entries (default: 1h)
	Interval time.Duration `env:"EXPORT_INTERVAL" default:"1h"`

	// BatchSize is the maximum number of entries per exported file (default: 5000)
	BatchSize int `env:"EXPORT_BATCH_SIZE" default:"5000"`

	// Lag holds back entries younger than this, so transactions still open
	// when the job runs are not passed over; must exceed IMPORT_TIMEOUT (default: 10m)
	Lag time.Duration `env:"EXPORT_LAG" default:"10m"`
}

// WatchConfig holds drop-folder import settings.
type WatchConfig struct {
	// Dir is the drop folder root; files go in <Dir>/<entityType>/ (empty disables)
	Dir string `env:"WATCH_DIR"`

	// SettleDelay is how long a file must be quiet before import (default: 2s)
	SettleDelay time.Duration `env:"WATCH_SETTLE_DELAY" default:"2s"`
}

// RedisConfig enables a cluster-wide import cap when Addr is set.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" default:"0"`

	// ImportCapTTL expires a leaked import slot after a crash (default: 10m)
	ImportCapTTL time.Duration `env:"REDIS_IMPORT_CAP_TTL" default:"10m"`
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	// Enabled exposes the Prometheus handler (default: true)
	Enabled bool `env:"METRICS_ENABLED" default:"true"`

	// Path is the route the handler is mounted on (default: /metrics)
	Path string `env:"METRICS_PATH" default:"/metrics"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
