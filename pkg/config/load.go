package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// The file is decoded on top of NewDefaultConfig, remaining zero values are
// filled by ApplyDefaults and the result is validated. Environment
// variables are not consulted; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration over the defaults without validating it.
func Parse(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention ILM_SECTION_FIELD (e.g., ILM_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file over the defaults
// 2. Apply environment variable overrides
// 3. Validate final configuration
//
// An empty path skips step 1 and starts from the defaults.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = NewDefaultConfig()
	} else {
		var err error
		cfg, err = LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Values that fail to parse are ignored.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	if val := os.Getenv("ILM_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	envDuration("ILM_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("ILM_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("ILM_SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	envDuration("ILM_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Policy overrides
	if val, ok := os.LookupEnv("ILM_POLICIES_FILE"); ok {
		cfg.Policies.File = val
	}
	envBool("ILM_POLICIES_WATCH", &cfg.Policies.Watch)
	envDuration("ILM_POLICIES_DEBOUNCE", &cfg.Policies.Debounce)

	// Schedule overrides
	if val, ok := os.LookupEnv("ILM_SCHEDULE_CRON"); ok {
		cfg.Schedule.Cron = val
	}
	envInt("ILM_SCHEDULE_MAX_ATTEMPTS", &cfg.Schedule.MaxAttempts)
	envDuration("ILM_SCHEDULE_RETRY_BACKOFF", &cfg.Schedule.RetryBackoff)
	envBool("ILM_SCHEDULE_PURGE_DELETED", &cfg.Schedule.PurgeDeleted)

	// Backend overrides
	if val := os.Getenv("ILM_BACKEND_TYPE"); val != "" {
		cfg.Backend.Type = val
	}

	// State overrides
	if val := os.Getenv("ILM_STATE_BACKEND"); val != "" {
		cfg.State.Backend = val
	}
	if val := os.Getenv("ILM_STATE_SQLITE_PATH"); val != "" {
		cfg.State.SQLite.Path = val
	}

	// Journal overrides
	envBool("ILM_JOURNAL_ENABLED", &cfg.Journal.Enabled)
	if val := os.Getenv("ILM_JOURNAL_BACKEND"); val != "" {
		cfg.Journal.Backend = val
	}
	if val := os.Getenv("ILM_JOURNAL_SQLITE_PATH"); val != "" {
		cfg.Journal.SQLite.Path = val
	}
	envInt("ILM_JOURNAL_RETENTION_DAYS", &cfg.Journal.Retention.Days)
	if val := os.Getenv("ILM_JOURNAL_RETENTION_SCHEDULE"); val != "" {
		cfg.Journal.Retention.Schedule = val
	}

	// Archive overrides
	envBool("ILM_ARCHIVE_ENABLED", &cfg.Archive.Enabled)
	if val := os.Getenv("ILM_ARCHIVE_TYPE"); val != "" {
		cfg.Archive.Type = val
	}
	if val := os.Getenv("ILM_ARCHIVE_FILE_PATH"); val != "" {
		cfg.Archive.File.Path = val
	}
	if val := os.Getenv("ILM_ARCHIVE_MINIO_ENDPOINT"); val != "" {
		cfg.Archive.MinIO.Endpoint = val
	}
	if val := os.Getenv("ILM_ARCHIVE_MINIO_BUCKET"); val != "" {
		cfg.Archive.MinIO.Bucket = val
	}
	if val := os.Getenv("ILM_ARCHIVE_MINIO_ACCESS_KEY_ID"); val != "" {
		cfg.Archive.MinIO.AccessKeyID = val
	}
	if val := os.Getenv("ILM_ARCHIVE_MINIO_SECRET_ACCESS_KEY"); val != "" {
		cfg.Archive.MinIO.SecretAccessKey = val
	}
	if val := os.Getenv("ILM_ARCHIVE_S3_BUCKET"); val != "" {
		cfg.Archive.S3.Bucket = val
	}
	if val := os.Getenv("ILM_ARCHIVE_S3_REGION"); val != "" {
		cfg.Archive.S3.Region = val
	}
	if val := os.Getenv("ILM_ARCHIVE_S3_PREFIX"); val != "" {
		cfg.Archive.S3.Prefix = val
	}
	if val := os.Getenv("ILM_ARCHIVE_S3_ENDPOINT"); val != "" {
		cfg.Archive.S3.Endpoint = val
	}

	// Telemetry overrides
	if val := os.Getenv("ILM_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("ILM_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	envBool("ILM_TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	if val := os.Getenv("ILM_TELEMETRY_METRICS_PATH"); val != "" {
		cfg.Telemetry.Metrics.Path = val
	}
	envBool("ILM_TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	if val := os.Getenv("ILM_TELEMETRY_TRACING_SAMPLER"); val != "" {
		cfg.Telemetry.Tracing.Sampler = val
	}
	if val := os.Getenv("ILM_TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}
	if val := os.Getenv("ILM_TELEMETRY_TRACING_ENDPOINT"); val != "" {
		cfg.Telemetry.Tracing.Endpoint = val
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
