package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"mercator-hq/ilm/pkg/lifecycle"
)

// Backend carries out lifecycle actions against the index storage.
// Implementations must be safe for concurrent use.
type Backend interface {
	// RollOver closes the active index of stream at generation and opens
	// generation+1.
	RollOver(ctx context.Context, stream string, generation int64) error

	// Delete removes the rolled index of stream at generation.
	Delete(ctx context.Context, stream string, generation int64) error

	// Name identifies the backend in logs and metrics.
	Name() string
}

// RetryableError marks a backend failure that may succeed when retried.
type RetryableError struct {
	Err error
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err so that IsRetryable reports true for it.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err, or any error it wraps, is retryable.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// DryRunner is implemented by backends that never change any index.
// Callers must not record a dry run's outcome as a state change.
type DryRunner interface {
	DryRun() bool
}

// IsDryRun reports whether b only pretends to carry out actions.
func IsDryRun(b Backend) bool {
	d, ok := b.(DryRunner)
	return ok && d.DryRun()
}

// Do dispatches action to the matching backend method.
func Do(ctx context.Context, b Backend, action lifecycle.Action) error {
	switch action.Kind {
	case lifecycle.ActionRollOver:
		return b.RollOver(ctx, action.Stream, action.Generation)
	case lifecycle.ActionDelete:
		return b.Delete(ctx, action.Stream, action.Generation)
	default:
		return fmt.Errorf("unsupported action kind %q", action.Kind)
	}
}

type failureKey struct {
	kind       lifecycle.ActionKind
	stream     string
	generation int64
}

// MemoryBackend tracks live indices in process. It is used by the daemon
// when no external index store is wired and by tests, which can inject
// failures per action.
type MemoryBackend struct {
	mu       sync.Mutex
	indices  map[string]bool
	failures map[failureKey][]error
	calls    []lifecycle.Action
	logger   *slog.Logger
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(logger *slog.Logger) *MemoryBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBackend{
		indices:  make(map[string]bool),
		failures: make(map[failureKey][]error),
		logger:   logger.With("component", "lifecycle.backend.memory"),
	}
}

// Name implements Backend.
func (m *MemoryBackend) Name() string { return "memory" }

// FailNext queues errs to be returned, in order, by the next calls for the
// given action. Each call consumes one error.
func (m *MemoryBackend) FailNext(kind lifecycle.ActionKind, stream string, generation int64, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := failureKey{kind: kind, stream: stream, generation: generation}
	m.failures[key] = append(m.failures[key], errs...)
}

// RollOver implements Backend.
func (m *MemoryBackend) RollOver(ctx context.Context, stream string, generation int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(lifecycle.ActionRollOver, stream, generation); err != nil {
		return err
	}

	// The first rollover of a stream also materializes the index it closes.
	m.indices[lifecycle.IndexName(stream, generation)] = true
	m.indices[lifecycle.IndexName(stream, generation+1)] = true
	m.logger.Debug("rolled over",
		"stream", stream,
		"from", lifecycle.IndexName(stream, generation),
		"to", lifecycle.IndexName(stream, generation+1),
	)
	return nil
}

// Delete implements Backend. Deleting an index that does not exist
// succeeds so that retries after a lost response are harmless.
func (m *MemoryBackend) Delete(ctx context.Context, stream string, generation int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(lifecycle.ActionDelete, stream, generation); err != nil {
		return err
	}

	delete(m.indices, lifecycle.IndexName(stream, generation))
	m.logger.Debug("deleted", "index", lifecycle.IndexName(stream, generation))
	return nil
}

// record logs the call and pops an injected failure. Callers hold m.mu.
func (m *MemoryBackend) record(kind lifecycle.ActionKind, stream string, generation int64) error {
	m.calls = append(m.calls, lifecycle.Action{Kind: kind, Stream: stream, Generation: generation})

	key := failureKey{kind: kind, stream: stream, generation: generation}
	queued := m.failures[key]
	if len(queued) == 0 {
		return nil
	}
	err := queued[0]
	if len(queued) == 1 {
		delete(m.failures, key)
	} else {
		m.failures[key] = queued[1:]
	}
	return err
}

// Indices returns the live index names in sorted order.
func (m *MemoryBackend) Indices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.indices))
	for name := range m.indices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Calls returns every call made so far, in order. Reason is left empty.
func (m *MemoryBackend) Calls() []lifecycle.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]lifecycle.Action, len(m.calls))
	copy(out, m.calls)
	return out
}

// Noop is a dry-run backend that only logs.
type Noop struct {
	logger *slog.Logger
}

// NewNoop creates a dry-run backend.
func NewNoop(logger *slog.Logger) *Noop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Noop{logger: logger.With("component", "lifecycle.backend.noop")}
}

// Name implements Backend.
func (n *Noop) Name() string { return "noop" }

// DryRun implements DryRunner.
func (n *Noop) DryRun() bool { return true }

// RollOver implements Backend.
func (n *Noop) RollOver(ctx context.Context, stream string, generation int64) error {
	n.logger.Info("dry run: would roll over", "index", lifecycle.IndexName(stream, generation))
	return ctx.Err()
}

// Delete implements Backend.
func (n *Noop) Delete(ctx context.Context, stream string, generation int64) error {
	n.logger.Info("dry run: would delete", "index", lifecycle.IndexName(stream, generation))
	return ctx.Err()
}

// New creates a backend by type name.
func New(kind string, logger *slog.Logger) (Backend, error) {
	switch kind {
	case "", "memory":
		return NewMemoryBackend(logger), nil
	case "noop":
		return NewNoop(logger), nil
	default:
		return nil, fmt.Errorf("unknown backend type %q", kind)
	}
}
