// Package lifecycle decides when log stream indices roll over and when they
// expire.
//
// # Model
//
// Every stream (e.g. "api", "postgres") has one RetentionPolicy and a series
// of IndexRecords, one per physical index generation:
//
//	active ──(age or size threshold)──▶ rolled ──(delete_min_age)──▶ deleted
//
// Exactly one record per stream is active. Rolled and deleted records are
// kept as metadata until the stream is purged.
//
// # Basic Usage
//
//	store := lifecycle.NewPolicyStore()
//	err := store.RegisterPolicy(lifecycle.RetentionPolicy{
//	    Stream:          "api",
//	    RolloverMaxAge:  24 * time.Hour,
//	    RolloverMaxSize: 5 << 30,
//	    DeleteMinAge:    30 * 24 * time.Hour,
//	})
//
//	// Ingestion path
//	_, err = store.RecordWrite("api", 4096)
//
//	// Periodic tick
//	evaluator := lifecycle.NewEvaluator(store)
//	actions, err := evaluator.Evaluate("api", time.Now())
//	for _, action := range actions {
//	    // apply against the index backend, then report back
//	    status, err := store.Apply(action, time.Now())
//	}
//
// # Errors
//
// ErrInvalidPolicy and ErrUnknownStream are returned synchronously and never
// retried. Re-applying a rollover or a delete is not an error: the store
// reports StatusAlreadyRolled or StatusAlreadyDeleted and leaves the record
// unchanged.
package lifecycle
