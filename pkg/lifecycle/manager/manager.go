package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/ilm/pkg/lifecycle"
	"mercator-hq/ilm/pkg/lifecycle/archive"
	"mercator-hq/ilm/pkg/lifecycle/backend"
	"mercator-hq/ilm/pkg/lifecycle/journal"
	"mercator-hq/ilm/pkg/lifecycle/policyfile"
	"mercator-hq/ilm/pkg/lifecycle/storage"
	"mercator-hq/ilm/pkg/telemetry/logging"
	"mercator-hq/ilm/pkg/telemetry/metrics"
	"mercator-hq/ilm/pkg/telemetry/tracing"
)

// Config controls how a cycle carries out actions.
type Config struct {
	// MaxAttempts is how many times a retryable backend failure is tried.
	// Values below 1 mean a single attempt.
	MaxAttempts int

	// RetryBackoff is the pause between attempts.
	RetryBackoff time.Duration

	// PurgeDeleted drops deleted records from the store after each cycle.
	PurgeDeleted bool
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithArchiver archives a manifest of every index before it is deleted.
func WithArchiver(a archive.Archiver) Option {
	return func(m *Manager) { m.archiver = a }
}

// WithJournal records every action outcome.
func WithJournal(j journal.Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithState persists a store snapshot after every cycle.
func WithState(s storage.StateBackend) Option {
	return func(m *Manager) { m.state = s }
}

// WithMetrics reports writes, actions and cycles to c.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithTracer records a span per cycle with a child span per action and
// archive upload.
func WithTracer(t *tracing.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSleep replaces the retry backoff wait. Used by tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

// Manager is the caller that turns evaluated actions into backend calls.
// It owns the cycle: evaluate every stream, archive, call the backend with
// retries, report outcomes to the store, journal them and persist state.
type Manager struct {
	store     *lifecycle.PolicyStore
	evaluator *lifecycle.Evaluator
	backend   backend.Backend
	config    Config

	archiver archive.Archiver
	journal  journal.Journal
	state    storage.StateBackend
	metrics  *metrics.Collector
	tracer   *tracing.Tracer
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	// cycleMu serializes cycles.
	cycleMu sync.Mutex

	lastMu    sync.RWMutex
	lastCycle time.Time
}

// New creates a Manager for store carrying out actions on b.
func New(store *lifecycle.PolicyStore, b backend.Backend, cfg Config, opts ...Option) *Manager {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	m := &Manager{
		store:     store,
		evaluator: lifecycle.NewEvaluator(store),
		backend:   b,
		config:    cfg,
		logger:    slog.Default(),
		tracer:    tracing.Disabled(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "lifecycle.manager")
	return m
}

// Store returns the policy store the manager acts on.
func (m *Manager) Store() *lifecycle.PolicyStore {
	return m.store
}

// Journal returns the configured journal, or nil.
func (m *Manager) Journal() journal.Journal {
	return m.journal
}

// Evaluate returns the actions a cycle at now would take for stream,
// without carrying them out.
func (m *Manager) Evaluate(stream string, now time.Time) ([]lifecycle.Action, error) {
	return m.evaluator.Evaluate(stream, now)
}

// LastCycle returns when the last cycle finished, or the zero time.
func (m *Manager) LastCycle() time.Time {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	return m.lastCycle
}

// RecordWrite records a write against the stream's active index.
func (m *Manager) RecordWrite(stream string, bytes int64) (lifecycle.IndexRecord, error) {
	record, err := m.store.RecordWrite(stream, bytes)
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrUnknownStream):
			m.metrics.RecordWriteRejected("unknown_stream")
		default:
			m.metrics.RecordWriteRejected("invalid_write")
		}
		return lifecycle.IndexRecord{}, err
	}
	m.metrics.RecordWrite(stream, bytes, record.SizeBytes)
	return record, nil
}

// RegisterPolicy registers or updates a single stream policy.
func (m *Manager) RegisterPolicy(p lifecycle.RetentionPolicy) error {
	if err := m.store.RegisterPolicy(p); err != nil {
		return err
	}
	m.metrics.SetPolicies(len(m.store.Streams()))
	return nil
}

// RemovePolicy unregisters stream and drops its records.
func (m *Manager) RemovePolicy(stream string) error {
	if err := m.store.RemovePolicy(stream); err != nil {
		return err
	}
	m.metrics.ForgetStream(stream)
	m.metrics.SetPolicies(len(m.store.Streams()))
	return nil
}

// SyncPolicies makes the store's policy set equal to policies, as loaded
// from the policy file.
func (m *Manager) SyncPolicies(policies []lifecycle.RetentionPolicy) (policyfile.SyncResult, error) {
	res, err := policyfile.Sync(m.store, policies)
	m.metrics.RecordPolicyReload(err)
	if err != nil {
		return res, err
	}
	for _, stream := range res.RemovedStreams {
		m.metrics.ForgetStream(stream)
	}
	m.metrics.SetPolicies(len(m.store.Streams()))
	m.logger.Info("policies synchronized",
		"registered", res.Registered,
		"removed", res.Removed,
	)
	return res, nil
}

// Restore loads the persisted snapshot into the store. It does nothing
// when no state backend is configured or nothing was saved yet.
func (m *Manager) Restore(ctx context.Context) error {
	if m.state == nil {
		return nil
	}
	snap, err := m.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	if snap == nil {
		m.logger.Info("no persisted state, starting empty")
		return nil
	}
	if err := m.store.Restore(*snap); err != nil {
		return fmt.Errorf("failed to restore state: %w", err)
	}
	m.updateInventoryMetrics()
	return nil
}

// SaveState persists a snapshot of the store. It does nothing when no
// state backend is configured.
func (m *Manager) SaveState(ctx context.Context) error {
	if m.state == nil {
		return nil
	}
	if err := m.state.Save(ctx, m.store.Snapshot()); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// RunCycle evaluates every stream at now and carries out the resulting
// actions. Streams are processed in name order and each stream's actions
// in the order the evaluator produced them. A failed delete skips the
// stream's remaining deletes so the next cycle resumes from the oldest
// index still present.
//
// The returned error covers cancellation and persistence failures; action
// failures are reported in the result and the journal.
func (m *Manager) RunCycle(ctx context.Context, now time.Time) (CycleResult, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	start := time.Now()
	result := CycleResult{
		RunID: uuid.NewString(),
		At:    now,
	}
	ctx = logging.WithRunID(ctx, result.RunID)
	trigger := logging.GetTrigger(ctx)
	if trigger == "" {
		trigger = "manual"
	}

	ctx, span := m.tracer.Start(ctx, "lifecycle.cycle", trace.WithAttributes(
		tracing.AttrRunID.String(result.RunID),
		tracing.AttrTrigger.String(trigger),
		attribute.String("ilm.at", now.UTC().Format(time.RFC3339)),
	))

	m.logger.InfoContext(ctx, "lifecycle cycle started", "at", now)

	var cycleErr error
	for _, stream := range m.store.Streams() {
		if err := ctx.Err(); err != nil {
			cycleErr = err
			break
		}
		entries := m.runStream(logging.WithStream(ctx, stream), result.RunID, stream, now)
		for _, e := range entries {
			result.add(e)
		}
		m.appendJournal(ctx, entries)
	}

	if m.config.PurgeDeleted {
		for _, stream := range m.store.Streams() {
			n, err := m.store.Purge(stream)
			if err != nil {
				continue
			}
			result.Purged += n
		}
	}

	if err := m.SaveState(context.WithoutCancel(ctx)); err != nil && cycleErr == nil {
		cycleErr = err
	}

	result.Duration = time.Since(start)
	m.metrics.RecordCycle(trigger, result.Status(), result.Duration)
	m.updateInventoryMetrics()

	m.lastMu.Lock()
	m.lastCycle = time.Now()
	m.lastMu.Unlock()

	span.SetAttributes(
		attribute.Int("ilm.actions.applied", result.Applied),
		attribute.Int("ilm.actions.failed", result.Failed),
		attribute.Int("ilm.actions.skipped", result.Skipped),
		attribute.Int("ilm.actions.dry_run", result.DryRun),
		attribute.Int("ilm.records.purged", result.Purged),
	)
	tracing.End(span, cycleErr)

	m.logger.InfoContext(ctx, "lifecycle cycle finished",
		"applied", result.Applied,
		"already", result.Already,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"dry_run", result.DryRun,
		"purged", result.Purged,
		"duration", result.Duration,
	)
	return result, cycleErr
}

func (m *Manager) runStream(ctx context.Context, runID, stream string, now time.Time) []journal.Entry {
	actions, err := m.evaluator.Evaluate(stream, now)
	if err != nil {
		// Removed between Streams() and Evaluate.
		m.logger.DebugContext(ctx, "stream skipped", "error", err)
		return nil
	}

	entries := make([]journal.Entry, 0, len(actions))
	deletesBlocked := false
	for _, action := range actions {
		m.metrics.RecordActionEmitted(stream, string(action.Kind), string(action.Reason))

		entry := journal.Entry{
			ID:         uuid.NewString(),
			RunID:      runID,
			Stream:     stream,
			Generation: action.Generation,
			Index:      action.Index(),
			Kind:       action.Kind,
			Reason:     action.Reason,
			AppliedAt:  now,
		}

		if action.Kind == lifecycle.ActionDelete && deletesBlocked {
			entry.Status = journal.StatusSkipped
		} else {
			m.traceApply(ctx, action, now, &entry)
			if action.Kind == lifecycle.ActionDelete && entry.Status == journal.StatusFailed {
				deletesBlocked = true
			}
		}

		m.metrics.RecordActionApplied(stream, string(action.Kind), string(entry.Status))
		entries = append(entries, entry)
	}
	return entries
}

// traceApply runs apply inside a span named after the action kind.
func (m *Manager) traceApply(ctx context.Context, action lifecycle.Action, now time.Time, entry *journal.Entry) {
	ctx, span := m.tracer.Start(ctx, "lifecycle."+string(action.Kind), trace.WithAttributes(
		tracing.AttrStream.String(action.Stream),
		tracing.AttrIndex.String(action.Index()),
		tracing.AttrGeneration.Int64(action.Generation),
		tracing.AttrAction.String(string(action.Kind)),
		tracing.AttrReason.String(string(action.Reason)),
		tracing.AttrBackend.String(m.backend.Name()),
	))
	m.apply(ctx, action, now, entry)

	span.SetAttributes(
		tracing.AttrStatus.String(string(entry.Status)),
		tracing.AttrAttempts.Int(entry.Attempts),
	)
	var err error
	if entry.Status == journal.StatusFailed {
		err = errors.New(entry.Error)
	}
	tracing.End(span, err)
}

// apply carries out one action and fills in the entry's outcome.
func (m *Manager) apply(ctx context.Context, action lifecycle.Action, now time.Time, entry *journal.Entry) {
	fail := func(err error) {
		entry.Status = journal.StatusFailed
		entry.Error = err.Error()
		m.logger.WarnContext(ctx, "lifecycle action failed",
			"action", action.String(),
			"attempts", entry.Attempts,
			"error", err,
		)
	}

	dryRun := backend.IsDryRun(m.backend)
	if action.Kind == lifecycle.ActionDelete && m.archiver != nil && !dryRun {
		if err := m.archiveIndex(ctx, action, now); err != nil {
			fail(err)
			return
		}
	}

	var err error
	for attempt := 1; ; attempt++ {
		entry.Attempts = attempt
		err = backend.Do(ctx, m.backend, action)
		if err == nil || !backend.IsRetryable(err) || attempt >= m.config.MaxAttempts {
			break
		}
		m.metrics.RecordBackendRetry(m.backend.Name(), string(action.Kind))
		m.logger.DebugContext(ctx, "retrying backend call",
			"action", action.String(),
			"attempt", attempt,
			"error", err,
		)
		if serr := m.sleep(ctx, m.config.RetryBackoff); serr != nil {
			err = fmt.Errorf("%w (retry aborted: %v)", err, serr)
			break
		}
	}
	if err != nil {
		fail(fmt.Errorf("backend %s: %w", m.backend.Name(), err))
		return
	}

	if dryRun {
		entry.Status = journal.StatusDryRun
		m.logger.InfoContext(ctx, "lifecycle action not applied, dry run",
			"action", action.String(),
		)
		return
	}

	status, err := m.store.Apply(action, now)
	if err != nil {
		fail(err)
		return
	}
	entry.Status = journal.FromApplyStatus(status)
	m.logger.InfoContext(ctx, "lifecycle action applied",
		"action", action.String(),
		"status", entry.Status,
	)
}

func (m *Manager) archiveIndex(ctx context.Context, action lifecycle.Action, now time.Time) error {
	policy, ok := m.store.Policy(action.Stream)
	if !ok {
		return fmt.Errorf("archive: %w", lifecycle.ErrUnknownStream)
	}
	for _, r := range m.store.ListRecords(action.Stream) {
		if r.Generation != action.Generation {
			continue
		}
		actx, span := m.tracer.Start(ctx, "lifecycle.archive", trace.WithAttributes(
			tracing.AttrArchiver.String(m.archiver.Name()),
			tracing.AttrIndex.String(action.Index()),
		))
		err := m.archiver.Archive(actx, archive.NewManifest(policy, r, now))
		tracing.End(span, err)
		m.metrics.RecordArchive(m.archiver.Name(), err)
		if err != nil {
			return fmt.Errorf("archive %s: %w", action.Index(), err)
		}
		return nil
	}
	return fmt.Errorf("archive %s: %w", action.Index(), lifecycle.ErrUnknownGeneration)
}

func (m *Manager) appendJournal(ctx context.Context, entries []journal.Entry) {
	if m.journal == nil || len(entries) == 0 {
		return
	}
	// The journal must not lose entries to a cancelled cycle.
	if err := m.journal.Append(context.WithoutCancel(ctx), entries...); err != nil {
		m.logger.ErrorContext(ctx, "failed to journal actions",
			"entries", len(entries),
			"error", err,
		)
	}
}

func (m *Manager) updateInventoryMetrics() {
	counts := make(map[string]map[string]int)
	for _, stream := range m.store.Streams() {
		byState := map[string]int{
			lifecycle.StateActive.String():  0,
			lifecycle.StateRolled.String():  0,
			lifecycle.StateDeleted.String(): 0,
		}
		for _, r := range m.store.ListRecords(stream) {
			byState[r.State.String()]++
		}
		counts[stream] = byState
	}
	m.metrics.UpdateIndexCounts(counts)
	m.metrics.SetPolicies(len(counts))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
