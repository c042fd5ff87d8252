package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"mercator-hq/ilm/pkg/cli"
	"mercator-hq/ilm/pkg/config"
	"mercator-hq/ilm/pkg/lifecycle"
	"mercator-hq/ilm/pkg/lifecycle/journal"
	"mercator-hq/ilm/pkg/lifecycle/manager"
	"mercator-hq/ilm/pkg/lifecycle/policyfile"
	"mercator-hq/ilm/pkg/server"
	"mercator-hq/ilm/pkg/telemetry/health"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the lifecycle daemon",
	Long: `Start the lifecycle daemon with the specified configuration.

The daemon restores persisted index records, loads retention policies, serves
the HTTP API and runs lifecycle cycles on the configured cron schedule.

Examples:
  # Start with built-in defaults
  ilm run

  # Start with a config file
  ilm run --config /etc/ilm/config.yaml

  # Override listen address
  ilm run --listen 0.0.0.0:9280

  # Validate config and policies without starting
  ilm run --dry-run`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config and policies without starting")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := config.GetConfig()

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if runFlags.dryRun {
		if _, err := loadPolicies(cfg); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer a.Close()

	logger.Info("ilm starting",
		"version", Version,
		"config", cfgFile,
		"streams", len(a.store.Streams()),
		"backend", cfg.Backend.Type,
		"state", cfg.State.Backend,
		"tracing", a.tracer.Enabled(),
	)

	scheduler := manager.NewScheduler(a.manager, cfg.Schedule.Cron)
	if err := scheduler.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	defer scheduler.Stop()
	if next, ok := scheduler.NextRun(); ok {
		logger.Info("lifecycle scheduler started", "schedule", cfg.Schedule.Cron, "next_run", next)
	}

	if a.journal != nil && cfg.Journal.Retention.Days > 0 {
		pruner := journal.NewPruner(a.journal, journal.RetentionConfig{
			Days:     cfg.Journal.Retention.Days,
			Schedule: cfg.Journal.Retention.Schedule,
		}, logger)
		if err := pruner.Start(ctx); err != nil {
			logger.Warn("failed to start journal pruner", "error", err)
		} else {
			defer pruner.Stop()
		}
	}

	if cfg.Policies.Watch && cfg.Policies.File != "" {
		watcher, err := policyfile.NewWatcher(cfg.Policies.File, cfg.Policies.Debounce, logger)
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		watchCtx, stopWatch := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := watcher.Watch(watchCtx, func(policies []lifecycle.RetentionPolicy) error {
				_, err := a.manager.SyncPolicies(policies)
				return err
			})
			if err != nil {
				logger.Error("policy watcher exited", "error", err)
			}
		}()
		defer func() {
			stopWatch()
			wg.Wait()
		}()
	}

	srv := server.New(&cfg.Server, a.manager,
		server.WithHealth(newChecker(a), versionInfo()),
		server.WithMetrics(a.metrics, cfg.Telemetry.Metrics.Path),
		server.WithTracer(a.tracer),
		server.WithLogger(logger),
	)

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	// Stopping the scheduler waits for a running cycle, which saves state.
	scheduler.Stop()
	if err := a.manager.SaveState(context.Background()); err != nil {
		logger.Error("failed to save state on shutdown", "error", err)
	}
	logger.Info("ilm stopped")
	return nil
}

// newChecker registers readiness checks for the persistence backends and,
// when cycles are scheduled, a freshness check for the last cycle.
func newChecker(a *app) *health.Checker {
	checker := health.New(2 * time.Second)
	if p, ok := a.state.(health.Pinger); ok {
		checker.RegisterCheck("state", health.PingCheck(p))
	}
	if p, ok := a.journal.(health.Pinger); ok {
		checker.RegisterOptionalCheck("journal", health.PingCheck(p))
	}
	if interval, ok := scheduleInterval(a.cfg.Schedule.Cron, time.Now()); ok {
		checker.RegisterOptionalCheck("cycle",
			health.CycleFreshnessCheck(a.manager.LastCycle, 3*interval, nil))
	}
	return checker
}

// scheduleInterval returns the gap between the next two runs of a cron
// schedule.
func scheduleInterval(spec string, now time.Time) (time.Duration, bool) {
	if spec == "" {
		return 0, false
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return 0, false
	}
	first := sched.Next(now)
	return sched.Next(first).Sub(first), true
}
