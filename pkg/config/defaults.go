package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:9280"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB

	// Policy defaults
	DefaultPoliciesDebounce = 100 * time.Millisecond

	// Schedule defaults
	DefaultScheduleCron         = "*/5 * * * *"
	DefaultScheduleMaxAttempts  = 3
	DefaultScheduleRetryBackoff = 2 * time.Second

	// Backend defaults
	DefaultBackendType = "memory"

	// State defaults
	DefaultStateBackend           = "sqlite"
	DefaultStateSQLitePath        = "data/state.db"
	DefaultStateSQLiteBusyTimeout = 5 * time.Second

	// Journal defaults
	DefaultJournalEnabled            = true
	DefaultJournalBackend            = "sqlite"
	DefaultJournalSQLitePath         = "data/journal.db"
	DefaultJournalSQLiteMaxOpenConns = 10
	DefaultJournalSQLiteMaxIdleConns = 5
	DefaultJournalSQLiteWALMode      = true
	DefaultJournalSQLiteBusyTimeout  = 5 * time.Second
	DefaultJournalRetentionDays      = 90
	DefaultJournalRetentionSchedule  = "0 3 * * *"

	// Archive defaults
	DefaultArchiveType     = "file"
	DefaultArchiveFilePath = "data/archives/"
	DefaultArchiveS3Region = "us-east-1"

	// Telemetry defaults
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultMetricsEnabled   = true
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "ilm"

	// Tracing defaults
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingExporter    = "otlp"
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingServiceName = "ilm"
	DefaultTracingInsecure    = true
	DefaultTracingTimeout     = 10 * time.Second
)

// DefaultCycleDurationBuckets are the histogram buckets for cycle duration.
var DefaultCycleDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60}

// NewDefaultConfig returns a configuration populated with every default.
// LoadConfig decodes the YAML file on top of it, so fields whose zero value
// is meaningful (booleans defaulting to true, the cron expression, retention
// days) can still be switched off explicitly.
func NewDefaultConfig() *Config {
	cfg := &Config{
		Schedule: ScheduleConfig{
			Cron: DefaultScheduleCron,
		},
		Journal: JournalConfig{
			Enabled: DefaultJournalEnabled,
			SQLite: JournalSQLiteConfig{
				WALMode: DefaultJournalSQLiteWALMode,
			},
			Retention: JournalRetentionConfig{
				Days: DefaultJournalRetentionDays,
			},
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{
				Enabled: DefaultMetricsEnabled,
			},
			Tracing: TracingConfig{
				SampleRatio: DefaultTracingSampleRatio,
				OTLP: OTLPConfig{
					Insecure: DefaultTracingInsecure,
				},
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

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
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}

	// Policy defaults. An empty file path is meaningful (built-in
	// policies), so only the debounce gets a default here.
	if cfg.Policies.Debounce == 0 {
		cfg.Policies.Debounce = DefaultPoliciesDebounce
	}

	// Schedule defaults. An empty cron expression disables scheduling and
	// is left alone.
	if cfg.Schedule.MaxAttempts == 0 {
		cfg.Schedule.MaxAttempts = DefaultScheduleMaxAttempts
	}
	if cfg.Schedule.RetryBackoff == 0 {
		cfg.Schedule.RetryBackoff = DefaultScheduleRetryBackoff
	}

	// Backend defaults
	if cfg.Backend.Type == "" {
		cfg.Backend.Type = DefaultBackendType
	}

	// State defaults
	if cfg.State.Backend == "" {
		cfg.State.Backend = DefaultStateBackend
	}
	if cfg.State.SQLite.Path == "" {
		cfg.State.SQLite.Path = DefaultStateSQLitePath
	}
	if cfg.State.SQLite.BusyTimeout == 0 {
		cfg.State.SQLite.BusyTimeout = DefaultStateSQLiteBusyTimeout
	}

	// Journal defaults
	if cfg.Journal.Backend == "" {
		cfg.Journal.Backend = DefaultJournalBackend
	}
	if cfg.Journal.SQLite.Path == "" {
		cfg.Journal.SQLite.Path = DefaultJournalSQLitePath
	}
	if cfg.Journal.SQLite.MaxOpenConns == 0 {
		cfg.Journal.SQLite.MaxOpenConns = DefaultJournalSQLiteMaxOpenConns
	}
	if cfg.Journal.SQLite.MaxIdleConns == 0 {
		cfg.Journal.SQLite.MaxIdleConns = DefaultJournalSQLiteMaxIdleConns
	}
	if cfg.Journal.SQLite.BusyTimeout == 0 {
		cfg.Journal.SQLite.BusyTimeout = DefaultJournalSQLiteBusyTimeout
	}
	if cfg.Journal.Retention.Schedule == "" {
		cfg.Journal.Retention.Schedule = DefaultJournalRetentionSchedule
	}

	// Archive defaults
	if cfg.Archive.Type == "" {
		cfg.Archive.Type = DefaultArchiveType
	}
	if cfg.Archive.File.Path == "" {
		cfg.Archive.File.Path = DefaultArchiveFilePath
	}
	if cfg.Archive.S3.Region == "" {
		cfg.Archive.S3.Region = DefaultArchiveS3Region
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(cfg.Telemetry.Metrics.CycleDurationBuckets) == 0 {
		cfg.Telemetry.Metrics.CycleDurationBuckets = append([]float64(nil), DefaultCycleDurationBuckets...)
	}

	// Tracing defaults. A zero sample ratio is meaningful and is only
	// defaulted by NewDefaultConfig.
	tr := &cfg.Telemetry.Tracing
	if tr.Sampler == "" {
		tr.Sampler = DefaultTracingSampler
	}
	if tr.Exporter == "" {
		tr.Exporter = DefaultTracingExporter
	}
	if tr.Endpoint == "" {
		tr.Endpoint = DefaultTracingEndpoint
	}
	if tr.ServiceName == "" {
		tr.ServiceName = DefaultTracingServiceName
	}
	if tr.OTLP.Timeout == 0 {
		tr.OTLP.Timeout = DefaultTracingTimeout
	}
}
