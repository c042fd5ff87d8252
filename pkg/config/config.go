package config

import "time"

// Config is the root configuration structure for the lifecycle daemon.
// It contains the HTTP server, policy source, cycle schedule, index backend,
// persistence, archive and telemetry settings.
type Config struct {
	// Server contains HTTP API server configuration including listen address
	// and timeouts.
	Server ServerConfig `yaml:"server"`

	// Policies configures where retention policies come from and whether
	// the policy file is watched for changes.
	Policies PoliciesConfig `yaml:"policies"`

	// Schedule controls when lifecycle cycles run and how failed backend
	// calls are retried.
	Schedule ScheduleConfig `yaml:"schedule"`

	// Backend selects the index storage backend that carries out actions.
	Backend BackendConfig `yaml:"backend"`

	// State configures persistence of index records across restarts.
	State StateConfig `yaml:"state"`

	// Journal configures the history of applied actions.
	Journal JournalConfig `yaml:"journal"`

	// Archive configures manifest archiving before deletion.
	Archive ArchiveConfig `yaml:"archive"`

	// Telemetry contains logging, metrics and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP API server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:9280", "0.0.0.0:9280").
	// Default: "127.0.0.1:9280"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 15s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. A manual cycle must finish within it.
	// Default: 60s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`
}

// PoliciesConfig configures the retention policy source.
type PoliciesConfig struct {
	// File is the path to the YAML policy file. When empty, the built-in
	// default policies for api, postgres, redis, minio and web are used.
	// Default: ""
	File string `yaml:"file"`

	// Watch reloads the policy file when it changes on disk.
	// Default: false
	Watch bool `yaml:"watch"`

	// Debounce is how long to wait after the last file event before reloading.
	// Default: 100ms
	Debounce time.Duration `yaml:"debounce"`
}

// ScheduleConfig controls lifecycle cycles.
type ScheduleConfig struct {
	// Cron is a standard cron expression for running cycles.
	// An empty value disables scheduled cycles.
	// Default: "*/5 * * * *"
	Cron string `yaml:"cron"`

	// MaxAttempts is how many times a retryable backend failure is attempted.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBackoff is the pause between attempts.
	// Default: 2s
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// PurgeDeleted drops the metadata of deleted indices at the end of each cycle.
	// Default: false
	PurgeDeleted bool `yaml:"purge_deleted"`
}

// BackendConfig selects the index storage backend.
type BackendConfig struct {
	// Type is "memory" or "noop" (dry run).
	// Default: "memory"
	Type string `yaml:"type"`
}

// StateConfig configures record persistence.
type StateConfig struct {
	// Backend is "none", "memory" or "sqlite".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite configures the sqlite state backend.
	SQLite StateSQLiteConfig `yaml:"sqlite"`
}

// StateSQLiteConfig configures the sqlite state backend.
type StateSQLiteConfig struct {
	// Path is the database file.
	// Default: "data/state.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait for locks.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// JournalConfig configures the action journal.
type JournalConfig struct {
	// Enabled controls whether actions are journaled.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Backend is "memory" or "sqlite".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite configures the sqlite journal.
	SQLite JournalSQLiteConfig `yaml:"sqlite"`

	// Retention controls journal pruning.
	Retention JournalRetentionConfig `yaml:"retention"`
}

// JournalSQLiteConfig configures the sqlite journal.
type JournalSQLiteConfig struct {
	// Path is the database file.
	// Default: "data/journal.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables Write-Ahead Logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long to wait for locks.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// JournalRetentionConfig controls how long journal entries are kept.
type JournalRetentionConfig struct {
	// Days is the number of days to keep entries. 0 keeps them forever.
	// Default: 90
	Days int `yaml:"days"`

	// Schedule is a cron expression for pruning.
	// Default: "0 3 * * *"
	Schedule string `yaml:"schedule"`
}

// ArchiveConfig configures manifest archiving before deletion.
type ArchiveConfig struct {
	// Enabled archives a manifest of every index before it is deleted.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Type is "file", "minio" or "s3".
	// Default: "file"
	Type string `yaml:"type"`

	File  ArchiveFileConfig  `yaml:"file"`
	MinIO ArchiveMinIOConfig `yaml:"minio"`
	S3    ArchiveS3Config    `yaml:"s3"`
}

// ArchiveFileConfig configures the file archiver.
type ArchiveFileConfig struct {
	// Path is the archive directory.
	// Default: "data/archives/"
	Path string `yaml:"path"`
}

// ArchiveMinIOConfig configures the MinIO archiver.
type ArchiveMinIOConfig struct {
	// Endpoint is "http://host:port" or "https://host:port".
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// ArchiveS3Config configures the S3 archiver.
type ArchiveS3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`

	// AccessKeyID and SecretAccessKey select static credentials. When
	// empty, the default AWS credential chain is used.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// UsePathStyle is required by most S3-compatible stores.
	UsePathStyle bool `yaml:"use_path_style"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures the process logger.
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

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "ilm"
	Namespace string `yaml:"namespace"`

	// CycleDurationBuckets defines histogram buckets for cycle duration (seconds).
	// Default: [0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60]
	CycleDurationBuckets []float64 `yaml:"cycle_duration_buckets"`
}

// TracingConfig configures OpenTelemetry tracing of API requests and
// lifecycle cycles.
type TracingConfig struct {
	// Enabled controls whether spans are recorded and exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of root traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Exporter selects the span exporter. Only "otlp" (gRPC) is supported.
	// Default: "otlp"
	Exporter string `yaml:"exporter"`

	// Endpoint is the collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service.name resource attribute.
	// Default: "ilm"
	ServiceName string `yaml:"service_name"`

	// OTLP contains OTLP exporter settings.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig configures the OTLP gRPC exporter.
type OTLPConfig struct {
	// Insecure disables TLS towards the collector.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export call.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
