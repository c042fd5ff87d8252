package lifecycle

import (
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"
)

// streamState holds a stream's policy and records.
// records is kept in ascending generation order.
type streamState struct {
	mu      sync.RWMutex
	policy  RetentionPolicy
	records []*IndexRecord
	// purgedThrough is the highest generation whose metadata has been purged, or -1.
	purgedThrough int64
	// floor is the lowest generation the stream may still allocate. It
	// carries over from an earlier registration of the same stream name.
	floor   int64
	removed bool
}

func (s *streamState) active() *IndexRecord {
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].State == StateActive {
			return s.records[i]
		}
	}
	return nil
}

func (s *streamState) find(generation int64) *IndexRecord {
	i := sort.Search(len(s.records), func(i int) bool {
		return s.records[i].Generation >= generation
	})
	if i < len(s.records) && s.records[i].Generation == generation {
		return s.records[i]
	}
	return nil
}

func (s *streamState) nextGeneration() int64 {
	next := max(s.floor, s.purgedThrough+1)
	if n := len(s.records); n > 0 {
		next = max(next, s.records[n-1].Generation+1)
	}
	return next
}

func (s *streamState) copyRecords() []IndexRecord {
	out := make([]IndexRecord, len(s.records))
	for i, r := range s.records {
		out[i] = copyRecord(r)
	}
	return out
}

func copyRecord(r *IndexRecord) IndexRecord {
	c := *r
	if r.RolledAt != nil {
		t := *r.RolledAt
		c.RolledAt = &t
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		c.DeletedAt = &t
	}
	return c
}

// StoreOption configures a PolicyStore.
type StoreOption func(*PolicyStore)

// WithClock sets the clock used to stamp newly created active records.
func WithClock(now func() time.Time) StoreOption {
	return func(s *PolicyStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *PolicyStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// PolicyStore holds the retention policy and index records of every stream.
//
// Writes to one stream serialize on that stream's lock; different streams
// never contend. Readers take a per-stream read lock and always observe a
// consistent view of a stream's records.
type PolicyStore struct {
	mu      sync.RWMutex
	streams map[string]*streamState
	// retired maps removed streams to their next unused generation.
	retired map[string]int64
	now     func() time.Time
	logger  *slog.Logger
}

// NewPolicyStore creates an empty store.
func NewPolicyStore(opts ...StoreOption) *PolicyStore {
	s := &PolicyStore{
		streams: make(map[string]*streamState),
		retired: make(map[string]int64),
		now:     time.Now,
		logger:  slog.Default().With("component", "lifecycle.store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterPolicy inserts or replaces the policy for policy.Stream.
// Existing records of the stream are kept.
func (s *PolicyStore) RegisterPolicy(policy RetentionPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.streams[policy.Stream]; ok {
		st.mu.Lock()
		st.policy = policy
		st.mu.Unlock()
		s.logger.Debug("retention policy replaced", "stream", policy.Stream)
		return nil
	}

	floor := s.retired[policy.Stream]
	delete(s.retired, policy.Stream)
	s.streams[policy.Stream] = &streamState{
		policy:        policy,
		purgedThrough: floor - 1,
		floor:         floor,
	}
	s.logger.Debug("retention policy registered",
		"stream", policy.Stream,
		"rollover_max_age", policy.RolloverMaxAge,
		"rollover_max_size", policy.RolloverMaxSize,
		"delete_min_age", policy.DeleteMinAge,
		"first_generation", floor,
	)
	return nil
}

// RemovePolicy drops a stream's policy together with all of its records.
// Generations already used by the stream are never handed out again if it
// is registered anew.
func (s *PolicyStore) RemovePolicy(stream string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[stream]
	if !ok {
		return newStreamError(stream, "remove_policy", ErrUnknownStream)
	}

	st.mu.Lock()
	next := st.nextGeneration()
	st.removed = true
	st.records = nil
	st.mu.Unlock()

	delete(s.streams, stream)
	s.retired[stream] = next
	s.logger.Debug("retention policy removed", "stream", stream, "next_generation", next)
	return nil
}

// Policy returns the policy registered for stream.
func (s *PolicyStore) Policy(stream string) (RetentionPolicy, bool) {
	st := s.lookup(stream)
	if st == nil {
		return RetentionPolicy{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.policy, !st.removed
}

// Policies returns all registered policies sorted by stream name.
func (s *PolicyStore) Policies() []RetentionPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policies := make([]RetentionPolicy, 0, len(s.streams))
	for _, st := range s.streams {
		st.mu.RLock()
		policies = append(policies, st.policy)
		st.mu.RUnlock()
	}
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].Stream < policies[j].Stream
	})
	return policies
}

// Streams returns the registered stream names in sorted order.
func (s *PolicyStore) Streams() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.streams))
	for name := range s.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RecordWrite adds bytesWritten to the stream's active record, creating the
// active record first if the stream has none. It returns a copy of the
// active record after the write.
func (s *PolicyStore) RecordWrite(stream string, bytesWritten int64) (IndexRecord, error) {
	if bytesWritten < 0 {
		return IndexRecord{}, newStreamError(stream, "record_write",
			fmt.Errorf("%w: %d bytes", ErrInvalidWrite, bytesWritten))
	}

	st := s.lookup(stream)
	if st == nil {
		return IndexRecord{}, newStreamError(stream, "record_write", ErrUnknownStream)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.removed {
		return IndexRecord{}, newStreamError(stream, "record_write", ErrUnknownStream)
	}

	active := st.active()
	if active == nil {
		active = &IndexRecord{
			Stream:     stream,
			Generation: st.nextGeneration(),
			CreatedAt:  s.now(),
			State:      StateActive,
		}
		st.records = append(st.records, active)
		s.logger.Debug("active index created",
			"stream", stream,
			"index", active.Name(),
		)
	}
	active.SizeBytes += bytesWritten

	return copyRecord(active), nil
}

// ListRecords returns all records of stream in generation order.
// An unknown stream yields an empty slice.
func (s *PolicyStore) ListRecords(stream string) []IndexRecord {
	st := s.lookup(stream)
	if st == nil {
		return []IndexRecord{}
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.copyRecords()
}

// ActiveRecord returns the stream's active record, if any.
func (s *PolicyStore) ActiveRecord(stream string) (IndexRecord, bool) {
	st := s.lookup(stream)
	if st == nil {
		return IndexRecord{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	active := st.active()
	if active == nil {
		return IndexRecord{}, false
	}
	return copyRecord(active), true
}

// Apply records the outcome of an action that the index backend has
// carried out.
func (s *PolicyStore) Apply(action Action, now time.Time) (ApplyStatus, error) {
	switch action.Kind {
	case ActionRollOver:
		return s.ApplyRollOver(action.Stream, action.Generation, now)
	case ActionDelete:
		return s.ApplyDelete(action.Stream, action.Generation, now)
	default:
		return "", newGenerationError(action.Stream, "apply", action.Generation,
			fmt.Errorf("unknown action kind %q", action.Kind))
	}
}

// ApplyRollOver marks the generation as rolled and opens the next active
// generation created at now. Rolling a generation that is no longer active
// is a no-op reported as StatusAlreadyRolled.
func (s *PolicyStore) ApplyRollOver(stream string, generation int64, now time.Time) (ApplyStatus, error) {
	st := s.lookup(stream)
	if st == nil {
		return "", newGenerationError(stream, "rollover", generation, ErrUnknownStream)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.removed {
		return "", newGenerationError(stream, "rollover", generation, ErrUnknownStream)
	}

	record := st.find(generation)
	if record == nil {
		if generation >= 0 && generation <= st.purgedThrough {
			return StatusAlreadyRolled, nil
		}
		return "", newGenerationError(stream, "rollover", generation, ErrUnknownGeneration)
	}

	if record.State != StateActive {
		return StatusAlreadyRolled, nil
	}

	rolledAt := now
	record.State = StateRolled
	record.RolledAt = &rolledAt

	next := &IndexRecord{
		Stream:     stream,
		Generation: st.nextGeneration(),
		CreatedAt:  now,
		State:      StateActive,
	}
	st.records = append(st.records, next)

	s.logger.Debug("index rolled over",
		"stream", stream,
		"rolled", record.Name(),
		"active", next.Name(),
		"size_bytes", record.SizeBytes,
	)
	return StatusApplied, nil
}

// ApplyDelete marks a rolled generation as deleted. Deleting a generation
// that is already deleted is a no-op reported as StatusAlreadyDeleted.
func (s *PolicyStore) ApplyDelete(stream string, generation int64, now time.Time) (ApplyStatus, error) {
	st := s.lookup(stream)
	if st == nil {
		return "", newGenerationError(stream, "delete", generation, ErrUnknownStream)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.removed {
		return "", newGenerationError(stream, "delete", generation, ErrUnknownStream)
	}

	record := st.find(generation)
	if record == nil {
		if generation >= 0 && generation <= st.purgedThrough {
			return StatusAlreadyDeleted, nil
		}
		return "", newGenerationError(stream, "delete", generation, ErrUnknownGeneration)
	}

	switch record.State {
	case StateActive:
		return "", newGenerationError(stream, "delete", generation, ErrActiveRecord)
	case StateDeleted:
		return StatusAlreadyDeleted, nil
	}

	deletedAt := now
	record.State = StateDeleted
	record.DeletedAt = &deletedAt

	s.logger.Debug("index deleted",
		"stream", stream,
		"index", record.Name(),
	)
	return StatusApplied, nil
}

// Purge physically drops the metadata of the stream's deleted records and
// returns how many were removed.
func (s *PolicyStore) Purge(stream string) (int, error) {
	st := s.lookup(stream)
	if st == nil {
		return 0, newStreamError(stream, "purge", ErrUnknownStream)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	kept := st.records[:0]
	purged := 0
	for _, r := range st.records {
		if r.State == StateDeleted {
			if r.Generation > st.purgedThrough {
				st.purgedThrough = r.Generation
			}
			purged++
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(st.records); i++ {
		st.records[i] = nil
	}
	st.records = kept

	return purged, nil
}

// Snapshot returns a consistent copy of every policy and record.
func (s *PolicyStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.streams))
	for name := range s.streams {
		names = append(names, name)
	}
	sort.Strings(names)

	snap := Snapshot{
		Policies: make([]RetentionPolicy, 0, len(names)),
		Records:  []IndexRecord{},
		TakenAt:  s.now(),
	}
	for _, name := range names {
		st := s.streams[name]
		st.mu.RLock()
		snap.Policies = append(snap.Policies, st.policy)
		snap.Records = append(snap.Records, st.copyRecords()...)
		st.mu.RUnlock()
	}
	if len(s.retired) > 0 {
		snap.Retired = maps.Clone(s.retired)
	}
	return snap
}

// Restore replaces the store contents with the snapshot. The store is left
// untouched if the snapshot is invalid.
func (s *PolicyStore) Restore(snap Snapshot) error {
	streams := make(map[string]*streamState, len(snap.Policies))
	for _, p := range snap.Policies {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
		}
		if _, dup := streams[p.Stream]; dup {
			return fmt.Errorf("%w: duplicate policy for stream %q", ErrCorruptSnapshot, p.Stream)
		}
		streams[p.Stream] = &streamState{policy: p, purgedThrough: -1}
	}

	retired := make(map[string]int64, len(snap.Retired))
	for stream, next := range snap.Retired {
		if next < 0 {
			return fmt.Errorf("%w: stream %q has negative next generation", ErrCorruptSnapshot, stream)
		}
		if _, ok := streams[stream]; ok {
			return fmt.Errorf("%w: stream %q is both registered and retired", ErrCorruptSnapshot, stream)
		}
		retired[stream] = next
	}

	for i := range snap.Records {
		r := snap.Records[i]
		st, ok := streams[r.Stream]
		if !ok {
			return fmt.Errorf("%w: record %s has no policy", ErrCorruptSnapshot, r.Name())
		}
		if r.Generation < 0 {
			return fmt.Errorf("%w: record %s has negative generation", ErrCorruptSnapshot, r.Name())
		}
		rc := copyRecord(&r)
		st.records = append(st.records, &rc)
	}

	for name, st := range streams {
		sort.Slice(st.records, func(i, j int) bool {
			return st.records[i].Generation < st.records[j].Generation
		})
		actives := 0
		for i, r := range st.records {
			if i > 0 && st.records[i-1].Generation == r.Generation {
				return fmt.Errorf("%w: duplicate generation %d for stream %q",
					ErrCorruptSnapshot, r.Generation, name)
			}
			if r.State == StateActive {
				actives++
			}
		}
		if actives > 1 {
			return fmt.Errorf("%w: stream %q has %d active records",
				ErrCorruptSnapshot, name, actives)
		}
		if len(st.records) > 0 {
			st.purgedThrough = st.records[0].Generation - 1
		}
	}

	s.mu.Lock()
	// A writer that already looked up an old stream must see it removed
	// before the new map becomes visible.
	for _, st := range s.streams {
		st.mu.Lock()
		st.removed = true
		st.mu.Unlock()
	}
	s.streams = streams
	s.retired = retired
	s.mu.Unlock()

	s.logger.Info("store restored from snapshot",
		"streams", len(snap.Policies),
		"records", len(snap.Records),
		"taken_at", snap.TakenAt,
	)
	return nil
}

// view returns the stream's policy and a copy of its records under a
// single read lock.
func (s *PolicyStore) view(stream string) (RetentionPolicy, []IndexRecord, bool) {
	st := s.lookup(stream)
	if st == nil {
		return RetentionPolicy{}, nil, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.removed {
		return RetentionPolicy{}, nil, false
	}
	return st.policy, st.copyRecords(), true
}

func (s *PolicyStore) lookup(stream string) *streamState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[stream]
}
