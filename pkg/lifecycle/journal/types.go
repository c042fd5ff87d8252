package journal

import (
	"context"
	"fmt"
	"time"

	"mercator-hq/ilm/pkg/lifecycle"
)

// Status is the recorded outcome of one lifecycle action.
type Status string

const (
	// StatusApplied means the backend carried out the action and the store
	// recorded the state change.
	StatusApplied Status = "applied"
	// StatusAlreadyRolled means the rollover targeted a record that was no
	// longer active.
	StatusAlreadyRolled Status = "already_rolled"
	// StatusAlreadyDeleted means the delete targeted a record that was
	// already deleted.
	StatusAlreadyDeleted Status = "already_deleted"
	// StatusFailed means the backend or the store rejected the action.
	StatusFailed Status = "failed"
	// StatusSkipped means the action was not attempted because an earlier
	// delete of the same stream failed in this cycle.
	StatusSkipped Status = "skipped"
	// StatusDryRun means a dry-run backend accepted the action and the
	// store was left unchanged.
	StatusDryRun Status = "dry_run"
)

// FromApplyStatus converts a store apply status.
func FromApplyStatus(s lifecycle.ApplyStatus) Status {
	return Status(s)
}

// Entry records one lifecycle action taken (or not) by a cycle.
type Entry struct {
	ID         string               `json:"id"`
	RunID      string               `json:"run_id"`
	Stream     string               `json:"stream"`
	Generation int64                `json:"generation"`
	Index      string               `json:"index"`
	Kind       lifecycle.ActionKind `json:"kind"`
	Reason     lifecycle.Reason     `json:"reason"`
	Status     Status               `json:"status"`
	Error      string               `json:"error,omitempty"`
	Attempts   int                  `json:"attempts"`
	AppliedAt  time.Time            `json:"applied_at"`
}

// Query filters journal entries. Zero fields match everything.
type Query struct {
	Stream string               `json:"stream,omitempty"`
	RunID  string               `json:"run_id,omitempty"`
	Kind   lifecycle.ActionKind `json:"kind,omitempty"`
	Status Status               `json:"status,omitempty"`

	// Since and Until bound AppliedAt, both inclusive.
	Since *time.Time `json:"since,omitempty"`
	Until *time.Time `json:"until,omitempty"`

	// Limit defaults to 100 for Query and is ignored by Count.
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// DefaultLimit is the page size used when Query.Limit is zero.
const DefaultLimit = 100

// Journal stores the history of lifecycle actions.
// Implementations must be thread-safe.
type Journal interface {
	// Append stores entries in order.
	Append(ctx context.Context, entries ...Entry) error

	// Query returns matching entries, newest first.
	// Returns an empty slice if nothing matches.
	Query(ctx context.Context, q Query) ([]Entry, error)

	// Count returns the number of matching entries.
	Count(ctx context.Context, q Query) (int64, error)

	// Prune deletes entries applied before olderThan and returns how many
	// were removed.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	// Close releases any resources held by the journal.
	Close() error
}

// StorageError reports a failure of a journal backend.
type StorageError struct {
	Backend   string // "memory", "sqlite"
	Operation string // "append", "query", "prune", ...
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("journal error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}
