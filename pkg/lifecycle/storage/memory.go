package storage

import (
	"context"
	"maps"
	"sync"

	"mercator-hq/ilm/pkg/lifecycle"
)

// MemoryState keeps the last saved snapshot in memory.
// Nothing survives the process; it exists for tests and single-shot runs.
type MemoryState struct {
	mu   sync.RWMutex
	snap *lifecycle.Snapshot
}

// NewMemoryState creates an empty in-memory state backend.
func NewMemoryState() *MemoryState {
	return &MemoryState{}
}

// Save implements StateBackend.
func (m *MemoryState) Save(ctx context.Context, snap lifecycle.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := cloneSnapshot(snap)

	m.mu.Lock()
	m.snap = &c
	m.mu.Unlock()
	return nil
}

// Load implements StateBackend.
func (m *MemoryState) Load(ctx context.Context) (*lifecycle.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snap == nil {
		return nil, nil
	}
	c := cloneSnapshot(*m.snap)
	return &c, nil
}

// Close implements StateBackend.
func (m *MemoryState) Close() error {
	return nil
}

func cloneSnapshot(snap lifecycle.Snapshot) lifecycle.Snapshot {
	out := lifecycle.Snapshot{
		Policies: append([]lifecycle.RetentionPolicy(nil), snap.Policies...),
		Records:  make([]lifecycle.IndexRecord, len(snap.Records)),
		TakenAt:  snap.TakenAt,
		Retired:  maps.Clone(snap.Retired),
	}
	for i, r := range snap.Records {
		out.Records[i] = r
		if r.RolledAt != nil {
			t := *r.RolledAt
			out.Records[i].RolledAt = &t
		}
		if r.DeletedAt != nil {
			t := *r.DeletedAt
			out.Records[i].DeletedAt = &t
		}
	}
	return out
}
