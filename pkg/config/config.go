package config

import "time"

// Config is the root configuration structure for the exifquarter ledger.
// It contains all configuration sections for the HTTP server, the credit
// ledger, the abuse guard, storage backends, retention sweeping, and
// telemetry.
type Config struct {
	// Server contains HTTP server configuration including listen address,
	// timeouts, and request throttling.
	Server ServerConfig `yaml:"server"`

	// Ledger contains credit ledger configuration including tier
	// baselines and the reset window.
	Ledger LedgerConfig `yaml:"ledger"`

	// Abuse contains abuse guard configuration.
	Abuse AbuseConfig `yaml:"abuse"`

	// Storage contains configuration for the quota record store
	// including backend selection and failover.
	Storage StorageConfig `yaml:"storage"`

	// Retention contains retention sweep configuration.
	Retention RetentionConfig `yaml:"retention"`

	// Telemetry contains configuration for logging and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body. A zero or negative value means no timeout.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of
	// the response. A zero or negative value means no timeout.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next
	// request when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful
	// shutdown before in-flight requests are dropped.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxConcurrent limits simultaneous in-flight requests.
	// 0 means no limit.
	// Default: 256
	MaxConcurrent int `yaml:"max_concurrent"`

	// RequestsPerSecond smooths the global request rate using a token
	// bucket. 0 means no limit.
	// Default: 0
	RequestsPerSecond int `yaml:"requests_per_second"`

	// WebhookToken authorizes POST /v1/credit calls from the payment
	// webhook. This should typically be loaded from an environment
	// variable. Empty disables the endpoint.
	WebhookToken string `yaml:"webhook_token"`
}

// LedgerConfig contains credit ledger configuration.
type LedgerConfig struct {
	// AnonymousBaseline is the credit grant for anonymous identities.
	// Default: 15
	AnonymousBaseline int64 `yaml:"anonymous_baseline"`

	// RegisteredBaseline is the credit grant for registered identities.
	// Default: 50
	RegisteredBaseline int64 `yaml:"registered_baseline"`

	// ResetWindow is how long after the last reset a balance returns to
	// its baseline.
	// Default: 24h
	ResetWindow time.Duration `yaml:"reset_window"`

	// MaxRetries is the number of times a deduction retries after losing
	// a concurrent write race.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`

	// MaxOperations caps the audit trail kept per record; oldest entries
	// are trimmed first.
	// Default: 100
	MaxOperations int `yaml:"max_operations"`

	// StoreTimeout bounds each storage call made by the ledger.
	// Default: 2s
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

// AbuseConfig contains abuse guard configuration.
type AbuseConfig struct {
	// Enabled controls whether the abuse guard is active. A pointer so
	// an omitted key is distinguishable from an explicit false.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Ceiling is the per-identity request limit per window.
	// Default: 1000
	Ceiling int64 `yaml:"ceiling"`

	// Window is the fixed window length the ceiling applies to.
	// Default: 1h
	Window time.Duration `yaml:"window"`
}

// IsEnabled reports whether the abuse guard is on. An omitted key
// counts as enabled.
func (c *AbuseConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// StorageConfig contains configuration for the quota record store.
type StorageConfig struct {
	// Backend specifies the primary storage backend.
	// Options: "memory", "sqlite", "redis", "mongo"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// Failover enables the in-process memory fallback when the primary
	// backend is unreachable. A pointer so an omitted key is
	// distinguishable from an explicit false.
	// Default: true
	Failover *bool `yaml:"failover"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Redis contains Redis-specific configuration.
	Redis RedisConfig `yaml:"redis"`

	// Mongo contains MongoDB-specific configuration.
	Mongo MongoConfig `yaml:"mongo"`

	// Memory contains memory backend configuration.
	Memory MemoryConfig `yaml:"memory"`
}

// FailoverEnabled reports whether the memory fallback wraps the primary
// backend. An omitted key counts as enabled.
func (c *StorageConfig) FailoverEnabled() bool {
	return c.Failover == nil || *c.Failover
}

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the file path for the SQLite database.
	// Default: "data/ledger.db"
	Path string `yaml:"path"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RedisConfig contains Redis-specific configuration.
type RedisConfig struct {
	// Address is the Redis server address.
	// Default: "localhost:6379"
	Address string `yaml:"address"`

	// Password authenticates against the Redis server.
	// This should typically be loaded from an environment variable.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	// Default: 0
	DB int `yaml:"db"`

	// KeyPrefix is prepended to every key.
	// Default: "exifquarter:quota"
	KeyPrefix string `yaml:"key_prefix"`

	// TTL is the per-key expiry for quota records.
	// Default: 48h
	TTL time.Duration `yaml:"ttl"`
}

// MongoConfig contains MongoDB-specific configuration.
type MongoConfig struct {
	// URI is the MongoDB connection string.
	// Example: "mongodb://localhost:27017"
	URI string `yaml:"uri"`

	// Database is the database name.
	// Default: "exifquarter"
	Database string `yaml:"database"`
}

// MemoryConfig contains memory backend configuration.
type MemoryConfig struct {
	// MaxEntries is the maximum number of records to hold. Oldest
	// records are evicted when the limit is reached.
	// Default: 100000
	MaxEntries int `yaml:"max_entries"`
}

// RetentionConfig contains retention sweep configuration.
type RetentionConfig struct {
	// Period is how long a quota record may stay untouched before it is
	// deleted. 0 disables sweeping.
	// Default: 720h (30 days)
	Period time.Duration `yaml:"period"`

	// Schedule is a cron expression for scheduling sweeps.
	// Default: "0 4 * * *" (daily at 4 AM)
	Schedule string `yaml:"schedule"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics endpoint configuration.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics endpoint configuration.
type MetricsConfig struct {
	// Enabled controls whether the Prometheus endpoint is exposed.
	// A pointer so an omitted key is distinguishable from an explicit
	// false.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// IsEnabled reports whether the Prometheus endpoint is exposed. An
// omitted key counts as enabled.
func (c *MetricsConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
