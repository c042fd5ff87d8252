package lifecycle

import (
	"time"
)

// Evaluator decides which lifecycle actions a stream needs at a given time.
// It reads the store but never mutates it: actions are returned for a
// collaborator to apply.
type Evaluator struct {
	store *PolicyStore
}

// NewEvaluator creates an evaluator over store.
func NewEvaluator(store *PolicyStore) *Evaluator {
	return &Evaluator{store: store}
}

// Evaluate returns the ordered actions stream needs at now.
//
// The active record rolls over when it is at least RolloverMaxAge old or at
// least RolloverMaxSize large; when both trip, the reason is ReasonMaxAge.
// Rolled records at least DeleteMinAge old are deleted, oldest generation
// first, so a caller that stops at the first failed delete can resume from
// the oldest undeleted record on the next evaluation.
//
// Calling Evaluate twice with the same store state and now returns the same
// actions.
func (e *Evaluator) Evaluate(stream string, now time.Time) ([]Action, error) {
	policy, records, ok := e.store.view(stream)
	if !ok {
		return nil, newStreamError(stream, "evaluate", ErrUnknownStream)
	}
	return decide(policy, records, now), nil
}

// EvaluateAll evaluates every registered stream. Streams that disappear
// while the evaluation runs are skipped.
func (e *Evaluator) EvaluateAll(now time.Time) map[string][]Action {
	out := make(map[string][]Action)
	for _, stream := range e.store.Streams() {
		policy, records, ok := e.store.view(stream)
		if !ok {
			continue
		}
		out[stream] = decide(policy, records, now)
	}
	return out
}

// decide is the pure decision function; records must be in ascending
// generation order.
func decide(policy RetentionPolicy, records []IndexRecord, now time.Time) []Action {
	actions := []Action{}

	for _, r := range records {
		if r.State != StateActive {
			continue
		}
		switch {
		case r.Age(now) >= policy.RolloverMaxAge:
			actions = append(actions, Action{
				Kind:       ActionRollOver,
				Stream:     policy.Stream,
				Generation: r.Generation,
				Reason:     ReasonMaxAge,
			})
		case r.SizeBytes >= policy.RolloverMaxSize:
			actions = append(actions, Action{
				Kind:       ActionRollOver,
				Stream:     policy.Stream,
				Generation: r.Generation,
				Reason:     ReasonMaxSize,
			})
		}
		// At most one active record exists.
		break
	}

	for _, r := range records {
		if r.State != StateRolled {
			continue
		}
		if r.Age(now) >= policy.DeleteMinAge {
			actions = append(actions, Action{
				Kind:       ActionDelete,
				Stream:     policy.Stream,
				Generation: r.Generation,
				Reason:     ReasonMinAge,
			})
		}
	}

	return actions
}
