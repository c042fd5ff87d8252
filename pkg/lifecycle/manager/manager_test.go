package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mercator-hq/ilm/pkg/config"
	"mercator-hq/ilm/pkg/lifecycle"
	"mercator-hq/ilm/pkg/lifecycle/archive"
	"mercator-hq/ilm/pkg/lifecycle/backend"
	"mercator-hq/ilm/pkg/lifecycle/journal"
	"mercator-hq/ilm/pkg/lifecycle/storage"
	"mercator-hq/ilm/pkg/telemetry/logging"
	"mercator-hq/ilm/pkg/telemetry/tracing"
)

const day = 24 * time.Hour

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

var apiPolicy = lifecycle.RetentionPolicy{
	Stream:          "api",
	RolloverMaxAge:  day,
	RolloverMaxSize: 1000,
	DeleteMinAge:    3 * day,
}

type fixture struct {
	store   *lifecycle.PolicyStore
	backend *backend.MemoryBackend
	journal *journal.MemoryJournal
	sleeps  *atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := lifecycle.NewPolicyStore(
		lifecycle.WithClock(func() time.Time { return t0 }),
		lifecycle.WithLogger(logging.Discard()),
	)
	if err := store.RegisterPolicy(apiPolicy); err != nil {
		t.Fatalf("RegisterPolicy() failed: %v", err)
	}
	return &fixture{
		store:   store,
		backend: backend.NewMemoryBackend(logging.Discard()),
		journal: journal.NewMemoryJournal(),
		sleeps:  &atomic.Int32{},
	}
}

func (f *fixture) manager(cfg Config, opts ...Option) *Manager {
	base := []Option{
		WithJournal(f.journal),
		WithLogger(logging.Discard()),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			f.sleeps.Add(1)
			return ctx.Err()
		}),
	}
	return New(f.store, f.backend, cfg, append(base, opts...)...)
}

// rolledHistory restores api with three rolled generations created on
// days 0, 1 and 2 and an active generation created on day 3.
func (f *fixture) rolledHistory(t *testing.T) {
	t.Helper()
	var records []lifecycle.IndexRecord
	for g := int64(0); g < 3; g++ {
		created := t0.Add(time.Duration(g) * day)
		rolled := created.Add(day)
		records = append(records, lifecycle.IndexRecord{
			Stream: "api", Generation: g, CreatedAt: created, RolledAt: &rolled,
			SizeBytes: 100, State: lifecycle.StateRolled,
		})
	}
	records = append(records, lifecycle.IndexRecord{
		Stream: "api", Generation: 3, CreatedAt: t0.Add(3 * day), State: lifecycle.StateActive,
	})
	snap := lifecycle.Snapshot{Policies: []lifecycle.RetentionPolicy{apiPolicy}, Records: records, TakenAt: t0}
	if err := f.store.Restore(snap); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}
}

type outcome struct {
	Kind       lifecycle.ActionKind
	Generation int64
	Status     journal.Status
}

func outcomes(res CycleResult) []outcome {
	out := make([]outcome, 0, len(res.Entries))
	for _, e := range res.Entries {
		out = append(out, outcome{Kind: e.Kind, Generation: e.Generation, Status: e.Status})
	}
	return out
}

func TestRunCycle_RollsOverAndJournals(t *testing.T) {
	f := newFixture(t)
	m := f.manager(Config{MaxAttempts: 3})

	if _, err := m.RecordWrite("api", 10); err != nil {
		t.Fatalf("RecordWrite() failed: %v", err)
	}

	now := t0.Add(25 * time.Hour)
	res, err := m.RunCycle(context.Background(), now)
	if err != nil {
		t.Fatalf("RunCycle() failed: %v", err)
	}

	want := []outcome{{lifecycle.ActionRollOver, 0, journal.StatusApplied}}
	if diff := cmp.Diff(want, outcomes(res)); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	if res.Applied != 1 || res.Status() != "success" {
		t.Errorf("result = %+v", res)
	}

	records := f.store.ListRecords("api")
	if len(records) != 2 || records[0].State != lifecycle.StateRolled || records[1].State != lifecycle.StateActive {
		t.Fatalf("records after rollover = %+v", records)
	}
	if !records[1].CreatedAt.Equal(now) {
		t.Errorf("new active record created at %v, want %v", records[1].CreatedAt, now)
	}

	entries, err := f.journal.Query(context.Background(), journal.Query{RunID: res.RunID})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Index != "api-000001" || entries[0].Reason != lifecycle.ReasonMaxAge {
		t.Errorf("journal entries = %+v", entries)
	}
	if m.LastCycle().IsZero() {
		t.Error("LastCycle() not updated")
	}
}

func TestRunCycle_NothingDue(t *testing.T) {
	f := newFixture(t)
	m := f.manager(Config{})
	if _, err := m.RecordWrite("api", 10); err != nil {
		t.Fatalf("RecordWrite() failed: %v", err)
	}

	res, err := m.RunCycle(context.Background(), t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("RunCycle() failed: %v", err)
	}
	if len(res.Entries) != 0 || len(f.backend.Calls()) != 0 {
		t.Errorf("expected no actions, got %+v and calls %+v", res.Entries, f.backend.Calls())
	}
}

func TestRunCycle_DeletesWithArchive(t *testing.T) {
	f := newFixture(t)
	f.rolledHistory(t)

	dir := t.TempDir()
	archiver, err := archive.NewFileArchiver(dir, logging.Discard())
	if err != nil {
		t.Fatalf("NewFileArchiver() failed: %v", err)
	}
	m := f.manager(Config{}, WithArchiver(archiver))

	// Day 4.5: generations 0 and 1 are at least 3 days old, the active
	// generation 3 is older than a day.
	res, err := m.RunCycle(context.Background(), t0.Add(4*day+12*time.Hour))
	if err != nil {
		t.Fatalf("RunCycle() failed: %v", err)
	}

	want := []outcome{
		{lifecycle.ActionRollOver, 3, journal.StatusApplied},
		{lifecycle.ActionDelete, 0, journal.StatusApplied},
		{lifecycle.ActionDelete, 1, journal.StatusApplied},
	}
	if diff := cmp.Diff(want, outcomes(res)); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}

	for _, name := range []string{"api-000001.json", "api-000002.json"} {
		if _, err := os.Stat(filepath.Join(dir, "api", name)); err != nil {
			t.Errorf("manifest %s not archived: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "api", "api-000003.json")); !os.IsNotExist(err) {
		t.Error("generation 2 is not due and must not be archived")
	}
}

type failingArchiver struct{ err error }

func (a failingArchiver) Archive(context.Context, archive.Manifest) error { return a.err }
func (a failingArchiver) Name() string                                    { return "failing" }

func TestRunCycle_ArchiveFailureBlocksDelete(t *testing.T) {
	f := newFixture(t)
	f.rolledHistory(t)
	m := f.manager(Config{}, WithArchiver(failingArchiver{err: errors.New("bucket missing")}))

	res, err := m.RunCycle(context.Background(), t0.Add(3*day+time.Hour))
	if err != nil {
		t.Fatalf("RunCycle() failed: %v", err)
	}

	want := []outcome{{lifecycle.ActionDelete, 0, journal.StatusFailed}}
	if diff := cmp.Diff(want, outcomes(res)); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	for _, call := range f.backend.Calls() {
		if call.Kind == lifecycle.ActionDelete {
			t.Errorf("backend delete called despite archive failure: %+v", call)
		}
	}
	if records := f.store.ListRecords("api"); records[0].State != lifecycle.StateRolled {
		t.Errorf("generation 0 state = %v, want rolled", records[0].State)
	}
}

func TestRunCycle_RetriesRetryableFailures(t *testing.T) {
	f := newFixture(t)
	m := f.manager(Config{MaxAttempts: 3, RetryBackoff: time.Second})
	if _, err := m.RecordWrite("api", 2000); err != nil {
		t.Fatalf("RecordWrite() failed: %v", err)
	}

	transient := backend.Retryable(errors.New("503 from cluster"))
	f.backend.FailNext(lifecycle.ActionRollOver, "api", 0, transient, transient)

	res, err := m.RunCycle(context.Background(), t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("RunCycle() failed: %v", err)
	}

	if len(res.Entries) != 1 {
		t.Fatalf("entries = %+v", res.Entries)
	}
	e := res.Entries[0]
	if e.Status != journal.StatusApplied || e.Attempts != 3 || e.Reason != lifecycle.ReasonMaxSize {
		t.Errorf("entry = %+v, want applied after 3 attempts", e)
	}
	if got := f.sleeps.Load(); got != 2 {
		t.Errorf("slept %d times, want 2", got)
	}
}

func TestRunCycle_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	m := f.manager(Config{MaxAttempts: 2})
	if _, err := m.RecordWrite("api", 2000); err != nil {
		t.Fatalf("RecordWrite() failed: %v", err)
	}

	transient := backend.Retryable(errors.New("timeout"))
	f.backend.FailNext(lifecycle.ActionRollOver, "api", 0, transient, transient, transient)

	res, _ := m.RunCycle(context.Background(), t0.Add(time.Minute))
	if e := res.Entries[0]; e.Status != journal.StatusFailed || e.Attempts != 2 || e.Error == "" {
		t.Errorf("entry = %+v, want failed after 2 attempts", e)
	}
	if res.Status() != "partial" {
		t.Errorf("Status() = %q, want partial", res.Status())
	}
	if a, ok := f.store.ActiveRecord("api"); !ok || a.Generation != 0 {
		t.Errorf("failed rollover must leave generation 0 active, got %+v", a)
	}
}

func TestRunCycle_PermanentFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	m := f.manager(Config{MaxAttempts: 5})
	if _, err := m.RecordWrite("api", 2000); err != nil {
		t.Fatalf("RecordWrite() failed: %v", err)
	}
	f.backend.FailNext(lifecycle.ActionRollOver, "api", 0, errors.New("forbidden"))

	res, _ := m.RunCycle(context.Background(), t0.Add(time.Minute))
	if e := res.Entries[0]; e.Status != journal.StatusFailed || e.Attempts != 1 {
		t.Errorf("entry = %+v, want failed after 1 attempt", e)
	}
	if f.sleeps.Load() != 0 {
		t.Error("permanent failure should not back off")
	}
}

func TestRunCycle_FailedDeleteSkipsLaterDeletes(t *testing.T) {
	f := newFixture(t)
	f.rolledHistory(t)
	m := f.manager(Config{})

	f.backend.FailNext(lifecycle.ActionDelete, "api", 1, errors.New("index locked"))

	// Day 5.5: generations 0, 1 and 2 are all due for deletion.
	now := t0.Add(5*day + 12*time.Hour)
	res, err := m.RunCycle(context.Background(), now)
	if err != nil {
		t.Fatalf("RunCycle() failed: %v", err)
	}

	want := []outcome{
		{lifecycle.ActionRollOver, 3, journal.StatusApplied},
		{lifecycle.ActionDelete, 0, journal.StatusApplied},
		{lifecycle.ActionDelete, 1, journal.StatusFailed},
		{lifecycle.ActionDelete, 2, journal.StatusSkipped},
	}
	if diff := cmp.Diff(want, outcomes(res)); diff != "" {
		t.Errorf("first cycle mismatch (-want +got):\n%s", diff)
	}
	if res.Failed != 1 || res.Skipped != 1 {
		t.Errorf("counts = %+v", res)
	}

	// The next cycle resumes from the oldest undeleted record.
	res, err = m.RunCycle(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("RunCycle() failed: %v", err)
	}
	want = []outcome{
		{lifecycle.ActionDelete, 1, journal.StatusApplied},
		{lifecycle.ActionDelete, 2, journal.StatusApplied},
	}
	if diff := cmp.Diff(want, outcomes(res)); diff != "" {
		t.Errorf("second cycle mismatch (-want +got):\n%s", diff)
	}
}

func TestRunCycle_Traces(t *testing.T) {
	f := newFixture(t)
	f.rolledHistory(t)

	exporter := tracetest.NewInMemoryExporter()
	tracer, err := tracing.NewWithExporter(config.TracingConfig{Sampler: tracing.SamplerAlways}, "test", exporter)
	if err != nil {
		t.Fatalf("NewWithExporter() failed: %v", err)
	}
	defer tracer.Shutdown(context.Background())

	archiver, err := archive.NewFileArchiver(t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatalf("NewFileArchiver() failed: %v", err)
	}
	m := f.manager(Config{}, WithTracer(tracer), WithArchiver(archiver))
	f.backend.FailNext(lifecycle.ActionDelete, "api", 1, errors.New("index locked"))

	res, err := m.RunCycle(logging.WithTrigger(context.Background(), "api"), t0.Add(4*day+12*time.Hour))
	if err != nil {
		t.Fatalf("RunCycle() failed: %v", err)
	}
	if err := tracer.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	spans := exporter.GetSpans()
	var names []string
	for _, s := range spans {
		names = append(names, s.Name)
	}
	wantNames := []string{
		"lifecycle.rollover",
		"lifecycle.archive", "lifecycle.delete",
		"lifecycle.archive", "lifecycle.delete",
		"lifecycle.cycle",
	}
	if diff := cmp.Diff(wantNames, names); diff != "" {
		t.Fatalf("span names mismatch (-want +got):\n%s", diff)
	}

	cycle := spans[len(spans)-1]
	attrs := make(map[string]string)
	for _, kv := range cycle.Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs[string(tracing.AttrRunID)] != res.RunID || attrs[string(tracing.AttrTrigger)] != "api" {
		t.Errorf("cycle attributes = %v", attrs)
	}
	if attrs["ilm.actions.failed"] != "1" {
		t.Errorf("ilm.actions.failed = %q, want 1", attrs["ilm.actions.failed"])
	}

	for _, s := range spans[:len(spans)-1] {
		if s.SpanContext.TraceID() != cycle.SpanContext.TraceID() {
			t.Errorf("%s is not part of the cycle trace", s.Name)
		}
	}
	// Archive spans are children of their delete span.
	if spans[1].Parent.SpanID() != spans[2].SpanContext.SpanID() {
		t.Error("archive span is not a child of its delete span")
	}
	if spans[0].Parent.SpanID() != cycle.SpanContext.SpanID() {
		t.Error("action span is not a child of the cycle span")
	}
	if spans[2].Status.Code == codes.Error {
		t.Error("applied delete marked as failed")
	}
	if spans[4].Status.Code != codes.Error {
		t.Errorf("failed delete status = %+v, want error", spans[4].Status)
	}
}

func TestRunCycle_PurgeDeleted(t *testing.T) {
	f := newFixture(t)
	f.rolledHistory(t)
	m := f.manager(Config{PurgeDeleted: true})

	res, err := m.RunCycle(context.Background(), t0.Add(3*day+time.Hour))
	if err != nil {
		t.Fatalf("RunCycle() failed: %v", err)
	}
	if res.Purged != 1 {
		t.Errorf("Purged = %d, want 1", res.Purged)
	}
	for _, r := range f.store.ListRecords("api") {
		if r.State == lifecycle.StateDeleted {
			t.Errorf("deleted record left after purge: %+v", r)
		}
	}
}

func TestRunCycle_DryRunLeavesStoreUnchanged(t *testing.T) {
	f := newFixture(t)
	f.rolledHistory(t)
	before := f.store.ListRecords("api")

	dir := t.TempDir()
	archiver, err := archive.NewFileArchiver(dir, logging.Discard())
	if err != nil {
		t.Fatalf("NewFileArchiver() failed: %v", err)
	}
	state := storage.NewMemoryState()
	m := New(f.store, backend.NewNoop(logging.Discard()), Config{PurgeDeleted: true},
		WithJournal(f.journal), WithArchiver(archiver), WithState(state), WithLogger(logging.Discard()))

	var last CycleResult
	for d := 4; d <= 8; d++ {
		last, err = m.RunCycle(context.Background(), t0.Add(time.Duration(d)*day+time.Hour))
		if err != nil {
			t.Fatalf("RunCycle() day %d failed: %v", d, err)
		}
	}

	want := []outcome{
		{lifecycle.ActionRollOver, 3, journal.StatusDryRun},
		{lifecycle.ActionDelete, 0, journal.StatusDryRun},
		{lifecycle.ActionDelete, 1, journal.StatusDryRun},
		{lifecycle.ActionDelete, 2, journal.StatusDryRun},
	}
	if diff := cmp.Diff(want, outcomes(last)); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	if last.DryRun != 4 || last.Applied != 0 || last.Purged != 0 {
		t.Errorf("result = %+v, want 4 dry-run actions and nothing applied or purged", last)
	}
	if diff := cmp.Diff(before, f.store.ListRecords("api")); diff != "" {
		t.Errorf("dry run changed records (-before +after):\n%s", diff)
	}

	snap, err := state.Load(context.Background())
	if err != nil || snap == nil {
		t.Fatalf("Load() = %v, %v", snap, err)
	}
	if diff := cmp.Diff(before, snap.Records); diff != "" {
		t.Errorf("dry run changed saved state (-before +after):\n%s", diff)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("dry run archived %d manifests", len(entries))
	}
}

func TestRunCycle_SavesAndRestoresState(t *testing.T) {
	f := newFixture(t)
	state := storage.NewMemoryState()
	m := f.manager(Config{}, WithState(state))

	if _, err := m.RecordWrite("api", 2000); err != nil {
		t.Fatalf("RecordWrite() failed: %v", err)
	}
	if _, err := m.RunCycle(context.Background(), t0.Add(time.Minute)); err != nil {
		t.Fatalf("RunCycle() failed: %v", err)
	}

	restored := lifecycle.NewPolicyStore(lifecycle.WithLogger(logging.Discard()))
	m2 := New(restored, f.backend, Config{}, WithState(state), WithLogger(logging.Discard()))
	if err := m2.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}

	if diff := cmp.Diff(f.store.ListRecords("api"), restored.ListRecords("api")); diff != "" {
		t.Errorf("restored records mismatch (-want +got):\n%s", diff)
	}
}

func TestRestore_NoState(t *testing.T) {
	f := newFixture(t)
	if err := f.manager(Config{}).Restore(context.Background()); err != nil {
		t.Errorf("Restore() without state backend = %v", err)
	}
	m := f.manager(Config{}, WithState(storage.NewMemoryState()))
	if err := m.Restore(context.Background()); err != nil {
		t.Errorf("Restore() of empty state = %v", err)
	}
	if len(f.store.Streams()) != 1 {
		t.Error("empty state must not clear the store")
	}
}

func TestRunCycle_Cancelled(t *testing.T) {
	f := newFixture(t)
	m := f.manager(Config{})
	if _, err := m.RecordWrite("api", 2000); err != nil {
		t.Fatalf("RecordWrite() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := m.RunCycle(ctx, t0.Add(time.Minute))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RunCycle() error = %v, want context.Canceled", err)
	}
	if len(res.Entries) != 0 {
		t.Errorf("cancelled cycle applied %+v", res.Entries)
	}
}

func TestRecordWrite_Errors(t *testing.T) {
	f := newFixture(t)
	m := f.manager(Config{})

	if _, err := m.RecordWrite("unknown", 1); !errors.Is(err, lifecycle.ErrUnknownStream) {
		t.Errorf("RecordWrite(unknown) = %v, want ErrUnknownStream", err)
	}
	if _, err := m.RecordWrite("api", -1); !errors.Is(err, lifecycle.ErrInvalidWrite) {
		t.Errorf("RecordWrite(-1) = %v, want ErrInvalidWrite", err)
	}
}

func TestSyncPolicies(t *testing.T) {
	f := newFixture(t)
	m := f.manager(Config{})

	web := lifecycle.RetentionPolicy{Stream: "web", RolloverMaxAge: day, RolloverMaxSize: 10, DeleteMinAge: 7 * day}
	res, err := m.SyncPolicies([]lifecycle.RetentionPolicy{web})
	if err != nil {
		t.Fatalf("SyncPolicies() failed: %v", err)
	}
	if res.Registered != 1 || res.Removed != 1 {
		t.Errorf("SyncPolicies() = %+v", res)
	}
	if diff := cmp.Diff([]string{"web"}, f.store.Streams()); diff != "" {
		t.Errorf("streams mismatch (-want +got):\n%s", diff)
	}
}

func TestScheduler(t *testing.T) {
	f := newFixture(t)
	m := f.manager(Config{})

	disabled := NewScheduler(m, "")
	if err := disabled.Start(context.Background()); err != nil {
		t.Fatalf("Start() with empty schedule failed: %v", err)
	}
	if disabled.IsRunning() {
		t.Error("empty schedule must not run")
	}

	bad := NewScheduler(m, "every minute")
	if err := bad.Start(context.Background()); err == nil {
		t.Error("invalid schedule should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewScheduler(m, "*/5 * * * *")
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !s.IsRunning() {
		t.Error("scheduler should be running")
	}
	if err := s.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}
	if next, ok := s.NextRun(); !ok || next.Minute()%5 != 0 {
		t.Errorf("NextRun() = %v, %v", next, ok)
	}

	s.Stop()
	if s.IsRunning() {
		t.Error("scheduler should be stopped")
	}
}

func TestScheduler_RunCycleUsesTrigger(t *testing.T) {
	f := newFixture(t)
	m := f.manager(Config{})
	if _, err := m.RecordWrite("api", 2000); err != nil {
		t.Fatalf("RecordWrite() failed: %v", err)
	}

	s := NewScheduler(m, "*/5 * * * *")
	s.now = func() time.Time { return t0.Add(time.Minute) }
	s.runCycle(context.Background())

	entries, err := f.journal.Query(context.Background(), journal.Query{Stream: "api"})
	if err != nil || len(entries) != 1 || entries[0].Status != journal.StatusApplied {
		t.Errorf("scheduled cycle journal = %+v, %v", entries, err)
	}
}
