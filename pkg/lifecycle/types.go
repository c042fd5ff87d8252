package lifecycle

import (
	"fmt"
	"time"
)

// RetentionPolicy governs rollover and deletion for a single stream.
// A policy is immutable once registered; replace it by registering a new one.
type RetentionPolicy struct {
	// Stream is the unique stream name (e.g., "api", "postgres").
	Stream string `json:"stream" yaml:"stream"`

	// RolloverMaxAge is the age after which the active index must roll over
	// regardless of its size.
	RolloverMaxAge time.Duration `json:"rollover_max_age" yaml:"rollover_max_age"`

	// RolloverMaxSize is the size in bytes after which the active index must
	// roll over regardless of its age.
	RolloverMaxSize int64 `json:"rollover_max_size" yaml:"rollover_max_size"`

	// DeleteMinAge is the age, measured from index creation, after which a
	// rolled index is eligible for deletion.
	DeleteMinAge time.Duration `json:"delete_min_age" yaml:"delete_min_age"`
}

// Validate checks the policy invariants.
// DeleteMinAge must exceed RolloverMaxAge so that an index outlives at least
// one rollover cycle before it can be deleted.
func (p RetentionPolicy) Validate() error {
	switch {
	case p.Stream == "":
		return NewPolicyError(p.Stream, "stream name is required")
	case p.RolloverMaxAge <= 0:
		return NewPolicyError(p.Stream, "rollover_max_age must be positive")
	case p.RolloverMaxSize <= 0:
		return NewPolicyError(p.Stream, "rollover_max_size must be positive")
	case p.DeleteMinAge <= p.RolloverMaxAge:
		return NewPolicyError(p.Stream, fmt.Sprintf(
			"delete_min_age (%s) must exceed rollover_max_age (%s)",
			p.DeleteMinAge, p.RolloverMaxAge))
	}
	return nil
}

// IndexState is the lifecycle state of a single index generation.
type IndexState int

const (
	// StateActive is the generation currently receiving writes.
	StateActive IndexState = iota
	// StateRolled is a closed generation awaiting deletion.
	StateRolled
	// StateDeleted is a generation whose index has been removed.
	// Its metadata is kept until the stream is purged.
	StateDeleted
)

// String returns the lowercase state name.
func (s IndexState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRolled:
		return "rolled"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("IndexState(%d)", int(s))
	}
}

// ParseIndexState converts a state name back into an IndexState.
func ParseIndexState(s string) (IndexState, error) {
	switch s {
	case "active":
		return StateActive, nil
	case "rolled":
		return StateRolled, nil
	case "deleted":
		return StateDeleted, nil
	default:
		return 0, fmt.Errorf("unknown index state %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s IndexState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *IndexState) UnmarshalText(text []byte) error {
	parsed, err := ParseIndexState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IndexRecord is the metadata kept for one physical index generation.
type IndexRecord struct {
	Stream     string     `json:"stream"`
	Generation int64      `json:"generation"`
	CreatedAt  time.Time  `json:"created_at"`
	RolledAt   *time.Time `json:"rolled_at,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	SizeBytes  int64      `json:"size_bytes"`
	State      IndexState `json:"state"`
}

// Name returns the physical index name, e.g. "api-000001" for generation 0.
func (r IndexRecord) Name() string {
	return IndexName(r.Stream, r.Generation)
}

// Age returns how long ago the record was created relative to now.
func (r IndexRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// IndexName renders the rollover-style index name for a stream generation.
func IndexName(stream string, generation int64) string {
	return fmt.Sprintf("%s-%06d", stream, generation+1)
}

// ActionKind identifies what an Action asks the index backend to do.
type ActionKind string

const (
	// ActionRollOver closes the active index and opens a new one.
	ActionRollOver ActionKind = "rollover"
	// ActionDelete removes a rolled index.
	ActionDelete ActionKind = "delete"
)

// Reason records which threshold produced an action.
type Reason string

const (
	// ReasonMaxAge means the active index reached rollover_max_age.
	ReasonMaxAge Reason = "max_age"
	// ReasonMaxSize means the active index reached rollover_max_size.
	ReasonMaxSize Reason = "max_size"
	// ReasonMinAge means a rolled index reached delete_min_age.
	ReasonMinAge Reason = "min_age"
)

// Action is a single lifecycle decision produced by the Evaluator.
type Action struct {
	Kind       ActionKind `json:"kind"`
	Stream     string     `json:"stream"`
	Generation int64      `json:"generation"`
	Reason     Reason     `json:"reason"`
}

// Index returns the physical index name the action targets.
func (a Action) Index() string {
	return IndexName(a.Stream, a.Generation)
}

// String renders the action for logs and CLI output.
func (a Action) String() string {
	return fmt.Sprintf("%s %s (%s)", a.Kind, a.Index(), a.Reason)
}

// ApplyStatus reports the outcome of applying an action to the store.
type ApplyStatus string

const (
	// StatusApplied means the record changed state.
	StatusApplied ApplyStatus = "applied"
	// StatusAlreadyRolled means a rollover targeted a record that was no longer active.
	StatusAlreadyRolled ApplyStatus = "already_rolled"
	// StatusAlreadyDeleted means a delete targeted a record that was already deleted.
	StatusAlreadyDeleted ApplyStatus = "already_deleted"
)

// Snapshot is a point-in-time copy of all policies and records held by a
// PolicyStore. It is what state backends persist.
type Snapshot struct {
	Policies []RetentionPolicy `json:"policies"`
	Records  []IndexRecord     `json:"records"`
	TakenAt  time.Time         `json:"taken_at"`

	// Retired maps the names of removed streams to the next generation
	// they may use if registered again.
	Retired map[string]int64 `json:"retired,omitempty"`
}
