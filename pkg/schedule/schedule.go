// Package schedule fires jobs on standard five-field cron expressions.
//
// A Runner owns one job. Ticks that arrive while the previous run is still
// in progress are dropped, and a panicking job is logged instead of taking
// the process down. Cancelling the context given to Start stops the runner.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrAlreadyStarted is returned by Start on a runner that is already running.
var ErrAlreadyStarted = errors.New("schedule: runner already started")

// Job is the work performed on every tick.
type Job func(ctx context.Context)

// Runner fires a Job on a cron expression.
type Runner struct {
	name   string
	spec   string
	job    Job
	logger *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewRunner creates a runner for job. An empty spec yields a runner whose
// Start does nothing.
func NewRunner(name, spec string, job Job, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		name:   name,
		spec:   spec,
		job:    job,
		logger: logger.With("job", name),
	}
}

// Validate reports whether spec is an expression Start would accept.
// An empty spec is valid.
func Validate(spec string) error {
	if spec == "" {
		return nil
	}
	_, err := cron.ParseStandard(spec)
	return err
}

// Start begins firing the job. The job receives ctx.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.spec == "" {
		r.logger.Info("no schedule configured")
		return nil
	}
	if r.cron != nil {
		return ErrAlreadyStarted
	}

	sched, err := cron.ParseStandard(r.spec)
	if err != nil {
		return fmt.Errorf("%s: invalid schedule %q: %w", r.name, r.spec, err)
	}

	l := cronLogger{r.logger}
	c := cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)))
	c.Schedule(sched, cron.FuncJob(func() { r.job(ctx) }))
	c.Start()
	r.cron = c

	context.AfterFunc(ctx, r.Stop)

	r.logger.Info("schedule started", "schedule", r.spec)
	return nil
}

// Stop halts the runner and waits for an in-flight job to return.
// Stopping a runner that is not running is a no-op.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.cron = nil
	r.logger.Info("schedule stopped")
}

// Running reports whether the runner has been started and not stopped.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cron != nil
}

// Next returns when the job fires next. ok is false when the runner is
// not running.
func (r *Runner) Next() (next time.Time, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron == nil {
		return time.Time{}, false
	}
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}, false
	}
	return entries[0].Next, true
}

// cronLogger adapts slog to cron.Logger. Routine cron chatter goes to debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
