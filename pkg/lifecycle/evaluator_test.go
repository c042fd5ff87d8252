package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func rollOver(gen int64, reason Reason) Action {
	return Action{Kind: ActionRollOver, Stream: "api", Generation: gen, Reason: reason}
}

func del(gen int64) Action {
	return Action{Kind: ActionDelete, Stream: "api", Generation: gen, Reason: ReasonMinAge}
}

func TestEvaluate_UnknownStream(t *testing.T) {
	e := NewEvaluator(newTestStore(t))

	if _, err := e.Evaluate("api", t0); !errors.Is(err, ErrUnknownStream) {
		t.Fatalf("Evaluate() error = %v, want ErrUnknownStream", err)
	}
}

func TestEvaluate_NoRecords(t *testing.T) {
	e := NewEvaluator(newTestStore(t, apiPolicy()))

	actions, err := e.Evaluate("api", t0.Add(365*day))
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if len(actions) != 0 {
		t.Errorf("Evaluate() = %v, want no actions", actions)
	}
}

func TestEvaluate_Rollover(t *testing.T) {
	tests := []struct {
		name  string
		size  int64
		at    time.Time
		wantA []Action
	}{
		{
			name:  "young and small",
			size:  0,
			at:    t0.Add(day - time.Second),
			wantA: []Action{},
		},
		{
			name:  "age just past one day",
			size:  0,
			at:    t0.Add(day + time.Second),
			wantA: []Action{rollOver(0, ReasonMaxAge)},
		},
		{
			name:  "age exactly one day",
			size:  0,
			at:    t0.Add(day),
			wantA: []Action{rollOver(0, ReasonMaxAge)},
		},
		{
			name:  "size at threshold",
			size:  5 << 30,
			at:    t0.Add(time.Hour),
			wantA: []Action{rollOver(0, ReasonMaxSize)},
		},
		{
			name:  "size just below threshold",
			size:  5<<30 - 1,
			at:    t0.Add(time.Hour),
			wantA: []Action{},
		},
		{
			name:  "both thresholds report age",
			size:  6 << 30,
			at:    t0.Add(2 * day),
			wantA: []Action{rollOver(0, ReasonMaxAge)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t, apiPolicy())
			if _, err := store.RecordWrite("api", tt.size); err != nil {
				t.Fatalf("RecordWrite() failed: %v", err)
			}

			got, err := NewEvaluator(store).Evaluate("api", tt.at)
			if err != nil {
				t.Fatalf("Evaluate() failed: %v", err)
			}
			if diff := cmp.Diff(tt.wantA, got); diff != "" {
				t.Errorf("Evaluate() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// rolledStore builds a stream whose generations 0..n-1 are rolled, with
// generation i created at t0 + i*day, plus an active generation n.
func rolledStore(t *testing.T, n int) *PolicyStore {
	t.Helper()
	store := newTestStore(t, apiPolicy())
	if _, err := store.RecordWrite("api", 1); err != nil {
		t.Fatalf("RecordWrite() failed: %v", err)
	}
	for i := 0; i < n; i++ {
		if _, err := store.ApplyRollOver("api", int64(i), t0.Add(time.Duration(i+1)*day)); err != nil {
			t.Fatalf("ApplyRollOver(%d) failed: %v", i, err)
		}
	}
	return store
}

func TestEvaluate_DeleteBoundary(t *testing.T) {
	store := rolledStore(t, 1)
	e := NewEvaluator(store)

	// The active generation 1 was created at t0+1d; keep it young by
	// checking the delete boundary of generation 0 only.
	before, err := e.Evaluate("api", t0.Add(30*day-time.Second))
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	for _, a := range before {
		if a.Kind == ActionDelete {
			t.Errorf("unexpected delete before delete_min_age: %v", a)
		}
	}

	after, err := e.Evaluate("api", t0.Add(30*day+time.Second))
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	deletes := 0
	for _, a := range after {
		if a.Kind == ActionDelete {
			deletes++
			if a.Generation != 0 {
				t.Errorf("delete targets generation %d, want 0", a.Generation)
			}
		}
	}
	if deletes != 1 {
		t.Errorf("got %d delete actions, want 1: %v", deletes, after)
	}
}

func TestEvaluate_DeletesInAscendingGeneration(t *testing.T) {
	store := rolledStore(t, 5)

	got, err := NewEvaluator(store).Evaluate("api", t0.Add(60*day))
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	want := []Action{
		rollOver(5, ReasonMaxAge),
		del(0), del(1), del(2), del(3), del(4),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Evaluate() mismatch (-want +got):\n%s", diff)
	}

	var last int64 = -1
	for _, a := range got {
		if a.Kind != ActionDelete {
			continue
		}
		if a.Generation <= last {
			t.Errorf("delete order not strictly ascending: %v", got)
		}
		last = a.Generation
	}
}

func TestEvaluate_NeverDeletesActiveOrDeleted(t *testing.T) {
	store := rolledStore(t, 3)
	if _, err := store.ApplyDelete("api", 1, t0.Add(40*day)); err != nil {
		t.Fatalf("ApplyDelete() failed: %v", err)
	}

	got, err := NewEvaluator(store).Evaluate("api", t0.Add(100*day))
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	active, _ := store.ActiveRecord("api")
	for _, a := range got {
		if a.Kind == ActionDelete && (a.Generation == active.Generation || a.Generation == 1) {
			t.Errorf("delete targets non-rolled generation: %v", a)
		}
	}
	want := []Action{rollOver(3, ReasonMaxAge), del(0), del(2)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Evaluate() mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	store := rolledStore(t, 4)
	e := NewEvaluator(store)
	at := t0.Add(45 * day)

	first, err := e.Evaluate("api", at)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	second, err := e.Evaluate("api", at)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated Evaluate() differs (-first +second):\n%s", diff)
	}
}

func TestEvaluate_HasNoSideEffects(t *testing.T) {
	store := rolledStore(t, 2)
	before := store.Snapshot()

	if _, err := NewEvaluator(store).Evaluate("api", t0.Add(90*day)); err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	after := store.Snapshot()
	if diff := cmp.Diff(before.Records, after.Records); diff != "" {
		t.Errorf("Evaluate() changed the store (-before +after):\n%s", diff)
	}
}

func TestEvaluate_ApplyThenReevaluate(t *testing.T) {
	store := newTestStore(t, apiPolicy())
	_, _ = store.RecordWrite("api", 0)
	e := NewEvaluator(store)

	at := t0.Add(day + time.Second)
	actions, _ := e.Evaluate("api", at)
	if diff := cmp.Diff([]Action{rollOver(0, ReasonMaxAge)}, actions); diff != "" {
		t.Fatalf("Evaluate() mismatch (-want +got):\n%s", diff)
	}
	for _, a := range actions {
		if _, err := store.Apply(a, at); err != nil {
			t.Fatalf("Apply() failed: %v", err)
		}
	}

	// The new active generation was created at `at`, so nothing is due.
	again, _ := e.Evaluate("api", at)
	if len(again) != 0 {
		t.Errorf("Evaluate() after apply = %v, want none", again)
	}
}

func TestEvaluateAll(t *testing.T) {
	store := newTestStore(t, apiPolicy(), RetentionPolicy{
		Stream:          "redis",
		RolloverMaxAge:  day,
		RolloverMaxSize: 1 << 30,
		DeleteMinAge:    3 * day,
	})
	_, _ = store.RecordWrite("api", 1)
	_, _ = store.RecordWrite("redis", 2<<30)

	all := NewEvaluator(store).EvaluateAll(t0.Add(time.Hour))
	if len(all) != 2 {
		t.Fatalf("EvaluateAll() returned %d streams, want 2", len(all))
	}
	if len(all["api"]) != 0 {
		t.Errorf("api actions = %v, want none", all["api"])
	}
	want := []Action{{Kind: ActionRollOver, Stream: "redis", Generation: 0, Reason: ReasonMaxSize}}
	if diff := cmp.Diff(want, all["redis"]); diff != "" {
		t.Errorf("redis actions mismatch (-want +got):\n%s", diff)
	}
}
