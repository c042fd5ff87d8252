package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mercator-hq/ilm/pkg/cli"
	"mercator-hq/ilm/pkg/config"
	"mercator-hq/ilm/pkg/lifecycle"
	"mercator-hq/ilm/pkg/lifecycle/archive"
	"mercator-hq/ilm/pkg/lifecycle/backend"
	"mercator-hq/ilm/pkg/lifecycle/journal"
	"mercator-hq/ilm/pkg/lifecycle/manager"
	"mercator-hq/ilm/pkg/lifecycle/policyfile"
	"mercator-hq/ilm/pkg/lifecycle/storage"
	"mercator-hq/ilm/pkg/telemetry/logging"
	"mercator-hq/ilm/pkg/telemetry/metrics"
	"mercator-hq/ilm/pkg/telemetry/tracing"
)

// loadConfig loads --config with ILM_* overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the telemetry section. Logs go
// to stderr so command output on stdout stays machine readable.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	lc := logging.FromConfig(cfg.Telemetry.Logging)
	lc.Writer = os.Stderr
	logger, err := logging.New(lc)
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	return logger, nil
}

// loadPolicies returns the policies of the configured policy file, or the
// built-in defaults when none is configured.
func loadPolicies(cfg *config.Config) ([]lifecycle.RetentionPolicy, error) {
	if cfg.Policies.File == "" {
		return policyfile.DefaultPolicies(), nil
	}
	return policyfile.Load(cfg.Policies.File)
}

func openState(cfg *config.Config, logger *slog.Logger) (storage.StateBackend, error) {
	return storage.New(storage.Config{
		Backend: cfg.State.Backend,
		SQLite: storage.SQLiteConfig{
			Path:        cfg.State.SQLite.Path,
			BusyTimeout: cfg.State.SQLite.BusyTimeout,
		},
	}, logger)
}

// openJournal returns nil when the journal is disabled.
func openJournal(cfg *config.Config) (journal.Journal, error) {
	if !cfg.Journal.Enabled {
		return nil, nil
	}
	switch cfg.Journal.Backend {
	case "memory":
		return journal.NewMemoryJournal(), nil
	case "sqlite":
		sc := cfg.Journal.SQLite
		j, err := journal.NewSQLiteJournal(&journal.SQLiteConfig{
			Path:         sc.Path,
			MaxOpenConns: sc.MaxOpenConns,
			MaxIdleConns: sc.MaxIdleConns,
			WALMode:      sc.WALMode,
			BusyTimeout:  sc.BusyTimeout,
		})
		if err != nil {
			return nil, err
		}
		return j, nil
	default:
		return nil, fmt.Errorf("unsupported journal backend: %s", cfg.Journal.Backend)
	}
}

// openArchiver returns nil when archiving is disabled.
func openArchiver(ctx context.Context, cfg *config.Config, logger *slog.Logger) (archive.Archiver, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	ac := cfg.Archive
	return archive.New(ctx, archive.Config{
		Type: ac.Type,
		File: archive.FileConfig{Path: ac.File.Path},
		MinIO: archive.MinIOConfig{
			Endpoint:        ac.MinIO.Endpoint,
			Bucket:          ac.MinIO.Bucket,
			Prefix:          ac.MinIO.Prefix,
			AccessKeyID:     ac.MinIO.AccessKeyID,
			SecretAccessKey: ac.MinIO.SecretAccessKey,
		},
		S3: archive.S3Config{
			Bucket:          ac.S3.Bucket,
			Prefix:          ac.S3.Prefix,
			Region:          ac.S3.Region,
			Endpoint:        ac.S3.Endpoint,
			AccessKeyID:     ac.S3.AccessKeyID,
			SecretAccessKey: ac.S3.SecretAccessKey,
			UsePathStyle:    ac.S3.UsePathStyle,
		},
	}, logger)
}

// app holds the daemon's wired components.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer
	store   *lifecycle.PolicyStore
	manager *manager.Manager
	state   storage.StateBackend
	journal journal.Journal

	closers []func() error
}

// newApp wires store, backend, persistence, archive, metrics and tracing
// into a manager. The store is restored from state and then synchronized with the
// configured policies.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	if cfg.Telemetry.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, registry)
	}

	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	a.tracer = tracer
	// Registered first so that spans are flushed after everything else closed.
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tracer.Shutdown(ctx)
	})

	b, err := backend.New(cfg.Backend.Type, logger)
	if err != nil {
		return nil, cli.NewConfigError("backend.type", err.Error())
	}

	a.state, err = openState(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state: %w", err)
	}
	if a.state != nil {
		a.closers = append(a.closers, a.state.Close)
	}

	a.journal, err = openJournal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if a.journal != nil {
		a.closers = append(a.closers, a.journal.Close)
	}

	archiver, err := openArchiver(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create archiver: %w", err)
	}

	a.store = lifecycle.NewPolicyStore(lifecycle.WithLogger(logger))
	opts := []manager.Option{
		manager.WithLogger(logger),
		manager.WithMetrics(a.metrics),
		manager.WithTracer(a.tracer),
	}
	if a.state != nil {
		opts = append(opts, manager.WithState(a.state))
	}
	if a.journal != nil {
		opts = append(opts, manager.WithJournal(a.journal))
	}
	if archiver != nil {
		opts = append(opts, manager.WithArchiver(archiver))
	}
	a.manager = manager.New(a.store, b, manager.Config{
		MaxAttempts:  cfg.Schedule.MaxAttempts,
		RetryBackoff: cfg.Schedule.RetryBackoff,
		PurgeDeleted: cfg.Schedule.PurgeDeleted,
	}, opts...)

	if err := a.manager.Restore(ctx); err != nil {
		return nil, err
	}

	policies, err := loadPolicies(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := a.manager.SyncPolicies(policies); err != nil {
		return nil, err
	}
	ready = true
	return a, nil
}

// Close releases persistence backends in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// restoreSnapshot loads persisted state into a fresh store for the offline
// commands. Without saved state the store holds the configured policies
// and no records.
func restoreSnapshot(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*lifecycle.PolicyStore, error) {
	store := lifecycle.NewPolicyStore(lifecycle.WithLogger(logger))

	state, err := openState(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state: %w", err)
	}
	if state != nil {
		defer state.Close()
		snap, err := state.Load(ctx)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			if err := store.Restore(*snap); err != nil {
				return nil, err
			}
			return store, nil
		}
	}

	policies, err := loadPolicies(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := policyfile.Sync(store, policies); err != nil {
		return nil, err
	}
	return store, nil
}
