package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"
)

// validStorageBackends lists the accepted storage backend names.
var validStorageBackends = map[string]bool{
	"memory": true,
	"sqlite": true,
	"redis":  true,
	"mongo":  true,
}

// validLogLevels lists the accepted logging levels.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats lists the accepted logging formats.
var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

// Validate checks a Config struct for invalid or inconsistent values.
// It should be called after ApplyDefaults.
func Validate(cfg *Config) error {
	var errs []string

	if err := validateServer(&cfg.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLedger(&cfg.Ledger); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateAbuse(&cfg.Abuse); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateStorage(&cfg.Storage); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRetention(&cfg.Retention); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateTelemetry(&cfg.Telemetry); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(cfg *ServerConfig) error {
	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		return fmt.Errorf("server.listen_address %q is not a valid host:port: %v", cfg.ListenAddress, err)
	}
	if cfg.MaxConcurrent < 0 {
		return fmt.Errorf("server.max_concurrent must not be negative, got %d", cfg.MaxConcurrent)
	}
	if cfg.RequestsPerSecond < 0 {
		return fmt.Errorf("server.requests_per_second must not be negative, got %d", cfg.RequestsPerSecond)
	}
	return nil
}

func validateLedger(cfg *LedgerConfig) error {
	if cfg.AnonymousBaseline <= 0 {
		return fmt.Errorf("ledger.anonymous_baseline must be positive, got %d", cfg.AnonymousBaseline)
	}
	if cfg.RegisteredBaseline <= 0 {
		return fmt.Errorf("ledger.registered_baseline must be positive, got %d", cfg.RegisteredBaseline)
	}
	if cfg.RegisteredBaseline < cfg.AnonymousBaseline {
		return fmt.Errorf("ledger.registered_baseline (%d) must not be below ledger.anonymous_baseline (%d)",
			cfg.RegisteredBaseline, cfg.AnonymousBaseline)
	}
	if cfg.ResetWindow <= 0 {
		return fmt.Errorf("ledger.reset_window must be positive, got %v", cfg.ResetWindow)
	}
	if cfg.MaxRetries < 1 {
		return fmt.Errorf("ledger.max_retries must be at least 1, got %d", cfg.MaxRetries)
	}
	return nil
}

func validateAbuse(cfg *AbuseConfig) error {
	if !cfg.IsEnabled() {
		return nil
	}
	if cfg.Ceiling <= 0 {
		return fmt.Errorf("abuse.ceiling must be positive, got %d", cfg.Ceiling)
	}
	if cfg.Window <= 0 {
		return fmt.Errorf("abuse.window must be positive, got %v", cfg.Window)
	}
	return nil
}

func validateStorage(cfg *StorageConfig) error {
	if !validStorageBackends[cfg.Backend] {
		return fmt.Errorf("storage.backend %q is not one of memory, sqlite, redis, mongo", cfg.Backend)
	}
	switch cfg.Backend {
	case "sqlite":
		if cfg.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for the sqlite backend")
		}
	case "redis":
		if cfg.Redis.Address == "" {
			return fmt.Errorf("storage.redis.address is required for the redis backend")
		}
	case "mongo":
		if cfg.Mongo.URI == "" {
			return fmt.Errorf("storage.mongo.uri is required for the mongo backend")
		}
	}
	return nil
}

func validateRetention(cfg *RetentionConfig) error {
	if cfg.Period < 0 {
		return fmt.Errorf("retention.period must not be negative, got %v", cfg.Period)
	}
	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			return fmt.Errorf("retention.schedule %q is not a valid cron expression: %v", cfg.Schedule, err)
		}
	}
	return nil
}

func validateTelemetry(cfg *TelemetryConfig) error {
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("telemetry.logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}
	if !validLogFormats[cfg.Logging.Format] {
		return fmt.Errorf("telemetry.logging.format %q is not one of json, text", cfg.Logging.Format)
	}
	if cfg.Metrics.IsEnabled() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("telemetry.metrics.path %q must start with /", cfg.Metrics.Path)
	}
	return nil
}
