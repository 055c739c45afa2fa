package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any
// errors. The configuration is not modified by environment variables; use
// LoadConfigWithEnvOverrides for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and
// applies environment variable overrides. Environment variables follow
// the naming convention EXIFQUARTER_SECTION_FIELD (e.g.,
// EXIFQUARTER_SERVER_LISTEN_ADDRESS). Environment variables always take
// precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables use the format
// EXIFQUARTER_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	if val := os.Getenv("EXIFQUARTER_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("EXIFQUARTER_SERVER_READ_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if val := os.Getenv("EXIFQUARTER_SERVER_WRITE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}
	if val := os.Getenv("EXIFQUARTER_SERVER_MAX_CONCURRENT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Server.MaxConcurrent = i
		}
	}
	if val := os.Getenv("EXIFQUARTER_SERVER_WEBHOOK_TOKEN"); val != "" {
		cfg.Server.WebhookToken = val
	}

	// Ledger overrides
	if val := os.Getenv("EXIFQUARTER_LEDGER_ANONYMOUS_BASELINE"); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Ledger.AnonymousBaseline = i
		}
	}
	if val := os.Getenv("EXIFQUARTER_LEDGER_REGISTERED_BASELINE"); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Ledger.RegisteredBaseline = i
		}
	}
	if val := os.Getenv("EXIFQUARTER_LEDGER_RESET_WINDOW"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Ledger.ResetWindow = d
		}
	}

	// Abuse overrides
	if val := os.Getenv("EXIFQUARTER_ABUSE_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Abuse.Enabled = &b
		}
	}
	if val := os.Getenv("EXIFQUARTER_ABUSE_CEILING"); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Abuse.Ceiling = i
		}
	}

	// Storage overrides
	if val := os.Getenv("EXIFQUARTER_STORAGE_BACKEND"); val != "" {
		cfg.Storage.Backend = val
	}
	if val := os.Getenv("EXIFQUARTER_STORAGE_FAILOVER"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Storage.Failover = &b
		}
	}
	if val := os.Getenv("EXIFQUARTER_STORAGE_SQLITE_PATH"); val != "" {
		cfg.Storage.SQLite.Path = val
	}
	if val := os.Getenv("EXIFQUARTER_STORAGE_REDIS_ADDRESS"); val != "" {
		cfg.Storage.Redis.Address = val
	}
	if val := os.Getenv("EXIFQUARTER_STORAGE_REDIS_PASSWORD"); val != "" {
		cfg.Storage.Redis.Password = val
	}
	if val := os.Getenv("EXIFQUARTER_STORAGE_MONGO_URI"); val != "" {
		cfg.Storage.Mongo.URI = val
	}
	if val := os.Getenv("EXIFQUARTER_STORAGE_MONGO_DATABASE"); val != "" {
		cfg.Storage.Mongo.Database = val
	}

	// Retention overrides
	if val := os.Getenv("EXIFQUARTER_RETENTION_PERIOD"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Retention.Period = d
		}
	}
	if val := os.Getenv("EXIFQUARTER_RETENTION_SCHEDULE"); val != "" {
		cfg.Retention.Schedule = val
	}

	// Telemetry overrides
	if val := os.Getenv("EXIFQUARTER_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("EXIFQUARTER_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("EXIFQUARTER_TELEMETRY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = &b
		}
	}
}
