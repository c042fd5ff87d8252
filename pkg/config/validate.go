package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"mercator-hq/ilm/pkg/schedule"
)

// Upper bounds beyond which a value is almost certainly a typo.
const (
	maxHeaderBytesLimit = 10 << 20
	maxAttemptsLimit    = 10
	maxRetentionDays    = 3650
)

// FieldError is a problem with one configuration field.
type FieldError struct {
	// Field is the dotted YAML path, for example "schedule.cron".
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationError carries every FieldError found by Validate.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "configuration validation failed"
	case 1:
		return "configuration validation failed: " + e.Errors[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, fe := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", fe.Error())
	}
	return sb.String()
}

// Validate checks cfg and reports all problems at once as a ValidationError.
func Validate(cfg *Config) error {
	v := &validator{}

	v.server(&cfg.Server)
	v.policies(&cfg.Policies)
	v.schedule(&cfg.Schedule)
	v.oneOf("backend.type", cfg.Backend.Type, "memory", "noop")
	v.state(&cfg.State)
	if cfg.Journal.Enabled {
		v.journal(&cfg.Journal)
	}
	if cfg.Archive.Enabled {
		v.archive(&cfg.Archive)
	}
	v.telemetry(&cfg.Telemetry)

	if len(v.errs) > 0 {
		return ValidationError{Errors: v.errs}
	}
	return nil
}

// validator accumulates field errors.
type validator struct {
	errs []FieldError
}

func (v *validator) add(field, format string, args ...any) {
	v.errs = append(v.errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) required(field, value string) bool {
	if value == "" {
		v.add(field, "is required")
		return false
	}
	return true
}

func (v *validator) oneOf(field, value string, allowed ...string) {
	if !slices.Contains(allowed, value) {
		v.add(field, "invalid value %q: must be one of %s", value, strings.Join(allowed, ", "))
	}
}

func (v *validator) nonNegative(field string, d time.Duration) {
	if d < 0 {
		v.add(field, "must not be negative, got %s", d)
	}
}

func (v *validator) between(field string, n, lo, hi int) {
	if n < lo || n > hi {
		v.add(field, "must be between %d and %d, got %d", lo, hi, n)
	}
}

func (v *validator) cron(field, expr string) {
	if err := schedule.Validate(expr); err != nil {
		v.add(field, "invalid cron expression %q: %v", expr, err)
	}
}

func (v *validator) server(cfg *ServerConfig) {
	v.required("server.listen_address", cfg.ListenAddress)
	v.nonNegative("server.read_timeout", cfg.ReadTimeout)
	v.nonNegative("server.write_timeout", cfg.WriteTimeout)
	v.nonNegative("server.idle_timeout", cfg.IdleTimeout)
	v.nonNegative("server.shutdown_timeout", cfg.ShutdownTimeout)
	v.between("server.max_header_bytes", cfg.MaxHeaderBytes, 0, maxHeaderBytesLimit)
}

func (v *validator) policies(cfg *PoliciesConfig) {
	if cfg.Watch && cfg.File == "" {
		v.add("policies.watch", "requires policies.file")
	}
	v.nonNegative("policies.debounce", cfg.Debounce)
}

func (v *validator) schedule(cfg *ScheduleConfig) {
	// An empty expression turns scheduled cycles off.
	v.cron("schedule.cron", cfg.Cron)
	v.between("schedule.max_attempts", cfg.MaxAttempts, 1, maxAttemptsLimit)
	v.nonNegative("schedule.retry_backoff", cfg.RetryBackoff)
}

func (v *validator) state(cfg *StateConfig) {
	v.oneOf("state.backend", cfg.Backend, "none", "memory", "sqlite")
	if cfg.Backend == "sqlite" {
		v.required("state.sqlite.path", cfg.SQLite.Path)
	}
}

func (v *validator) journal(cfg *JournalConfig) {
	v.oneOf("journal.backend", cfg.Backend, "memory", "sqlite")
	if cfg.Backend == "sqlite" {
		v.required("journal.sqlite.path", cfg.SQLite.Path)
		if cfg.SQLite.MaxOpenConns < 1 {
			v.add("journal.sqlite.max_open_conns", "must be at least 1")
		}
		if cfg.SQLite.MaxIdleConns < 0 {
			v.add("journal.sqlite.max_idle_conns", "must not be negative")
		}
	}

	v.between("journal.retention.days", cfg.Retention.Days, 0, maxRetentionDays)
	if cfg.Retention.Days > 0 {
		v.cron("journal.retention.schedule", cfg.Retention.Schedule)
	}
}

func (v *validator) archive(cfg *ArchiveConfig) {
	switch cfg.Type {
	case "file":
		v.required("archive.file.path", cfg.File.Path)
	case "minio":
		v.required("archive.minio.bucket", cfg.MinIO.Bucket)
		if u, err := url.Parse(cfg.MinIO.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			v.add("archive.minio.endpoint", "invalid endpoint %q: want http://host:port or https://host:port", cfg.MinIO.Endpoint)
		}
	case "s3":
		v.required("archive.s3.bucket", cfg.S3.Bucket)
		v.required("archive.s3.region", cfg.S3.Region)
	default:
		v.oneOf("archive.type", cfg.Type, "file", "minio", "s3")
	}
}

func (v *validator) telemetry(cfg *TelemetryConfig) {
	v.oneOf("telemetry.logging.level", cfg.Logging.Level, "debug", "info", "warn", "error")
	v.oneOf("telemetry.logging.format", cfg.Logging.Format, "json", "text")

	if cfg.Tracing.Enabled {
		v.tracing(&cfg.Tracing)
	}

	if !cfg.Metrics.Enabled {
		return
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		v.add("telemetry.metrics.path", "must start with '/', got %q", cfg.Metrics.Path)
	}
	buckets := cfg.Metrics.CycleDurationBuckets
	for i := 1; i < len(buckets); i++ {
		if buckets[i] <= buckets[i-1] {
			v.add("telemetry.metrics.cycle_duration_buckets", "must be strictly increasing")
			break
		}
	}
}

func (v *validator) tracing(cfg *TracingConfig) {
	v.oneOf("telemetry.tracing.sampler", cfg.Sampler, "always", "never", "ratio")
	if cfg.Sampler == "ratio" && (cfg.SampleRatio < 0 || cfg.SampleRatio > 1) {
		v.add("telemetry.tracing.sample_ratio", "must be between 0.0 and 1.0, got %g", cfg.SampleRatio)
	}
	v.oneOf("telemetry.tracing.exporter", cfg.Exporter, "otlp")
	v.required("telemetry.tracing.endpoint", cfg.Endpoint)
	v.required("telemetry.tracing.service_name", cfg.ServiceName)
	v.nonNegative("telemetry.tracing.otlp.timeout", cfg.OTLP.Timeout)
}
