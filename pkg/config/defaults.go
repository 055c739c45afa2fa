package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxConcurrent   = 256

	// Ledger defaults
	DefaultAnonymousBaseline  = int64(15)
	DefaultRegisteredBaseline = int64(50)
	DefaultResetWindow        = 24 * time.Hour
	DefaultLedgerMaxRetries   = 3
	DefaultLedgerMaxOps       = 100
	DefaultStoreTimeout       = 2 * time.Second

	// Abuse defaults
	DefaultAbuseCeiling = int64(1000)
	DefaultAbuseWindow  = time.Hour

	// Storage defaults
	DefaultStorageBackend    = "sqlite"
	DefaultSQLitePath        = "data/ledger.db"
	DefaultSQLiteBusyTimeout = 5 * time.Second
	DefaultRedisAddress      = "localhost:6379"
	DefaultRedisKeyPrefix    = "exifquarter:quota"
	DefaultRedisTTL          = 48 * time.Hour
	DefaultMongoDatabase     = "exifquarter"
	DefaultMemoryMaxEntries  = 100000

	// Retention defaults
	DefaultRetentionPeriod   = 30 * 24 * time.Hour
	DefaultRetentionSchedule = "0 4 * * *"

	// Telemetry defaults
	DefaultLoggingLevel  = "info"
	DefaultLoggingFormat = "json"
	DefaultMetricsPath   = "/metrics"
)

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxConcurrent == 0 {
		cfg.Server.MaxConcurrent = DefaultMaxConcurrent
	}

	// Ledger defaults
	if cfg.Ledger.AnonymousBaseline == 0 {
		cfg.Ledger.AnonymousBaseline = DefaultAnonymousBaseline
	}
	if cfg.Ledger.RegisteredBaseline == 0 {
		cfg.Ledger.RegisteredBaseline = DefaultRegisteredBaseline
	}
	if cfg.Ledger.ResetWindow == 0 {
		cfg.Ledger.ResetWindow = DefaultResetWindow
	}
	if cfg.Ledger.MaxRetries == 0 {
		cfg.Ledger.MaxRetries = DefaultLedgerMaxRetries
	}
	if cfg.Ledger.MaxOperations == 0 {
		cfg.Ledger.MaxOperations = DefaultLedgerMaxOps
	}
	if cfg.Ledger.StoreTimeout == 0 {
		cfg.Ledger.StoreTimeout = DefaultStoreTimeout
	}

	// Abuse defaults. A nil Enabled means the key was omitted; only an
	// explicit "enabled: false" turns the guard off.
	if cfg.Abuse.Enabled == nil {
		cfg.Abuse.Enabled = boolPtr(true)
	}
	if cfg.Abuse.Ceiling == 0 {
		cfg.Abuse.Ceiling = DefaultAbuseCeiling
	}
	if cfg.Abuse.Window == 0 {
		cfg.Abuse.Window = DefaultAbuseWindow
	}

	// Storage defaults. Same omitted-key handling for the failover flag.
	if cfg.Storage.Failover == nil {
		cfg.Storage.Failover = boolPtr(true)
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Storage.SQLite.BusyTimeout == 0 {
		cfg.Storage.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Storage.Redis.Address == "" {
		cfg.Storage.Redis.Address = DefaultRedisAddress
	}
	if cfg.Storage.Redis.KeyPrefix == "" {
		cfg.Storage.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Storage.Redis.TTL == 0 {
		cfg.Storage.Redis.TTL = DefaultRedisTTL
	}
	if cfg.Storage.Mongo.Database == "" {
		cfg.Storage.Mongo.Database = DefaultMongoDatabase
	}
	if cfg.Storage.Memory.MaxEntries == 0 {
		cfg.Storage.Memory.MaxEntries = DefaultMemoryMaxEntries
	}

	// Retention defaults
	if cfg.Retention.Period == 0 {
		cfg.Retention.Period = DefaultRetentionPeriod
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = DefaultRetentionSchedule
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Enabled == nil {
		cfg.Telemetry.Metrics.Enabled = boolPtr(true)
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
}

func boolPtr(b bool) *bool {
	return &b
}
