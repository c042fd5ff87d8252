package journal

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryJournal implements Journal in memory.
// It is the default when no journal database is configured.
type MemoryJournal struct {
	entries []Entry
	mu      sync.RWMutex
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// Append implements Journal.
func (j *MemoryJournal) Append(ctx context.Context, entries ...Entry) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("memory", "append", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entries...)
	return nil
}

// Query implements Journal.
func (j *MemoryJournal) Query(ctx context.Context, q Query) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewStorageError("memory", "query", err)
	}

	j.mu.RLock()
	matched := make([]Entry, 0)
	// Walk backwards so that entries with equal timestamps stay newest first.
	for i := len(j.entries) - 1; i >= 0; i-- {
		if matches(j.entries[i], q) {
			matched = append(matched, j.entries[i])
		}
	}
	j.mu.RUnlock()

	sort.SliceStable(matched, func(a, b int) bool {
		return matched[a].AppliedAt.After(matched[b].AppliedAt)
	})

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if q.Offset >= len(matched) {
		return []Entry{}, nil
	}
	matched = matched[q.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Count implements Journal.
func (j *MemoryJournal) Count(ctx context.Context, q Query) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, NewStorageError("memory", "count", err)
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	var n int64
	for _, e := range j.entries {
		if matches(e, q) {
			n++
		}
	}
	return n, nil
}

// Prune implements Journal.
func (j *MemoryJournal) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, NewStorageError("memory", "prune", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	kept := j.entries[:0]
	var pruned int64
	for _, e := range j.entries {
		if e.AppliedAt.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	j.entries = kept
	return pruned, nil
}

// Close implements Journal.
func (j *MemoryJournal) Close() error {
	return nil
}

func matches(e Entry, q Query) bool {
	if q.Stream != "" && e.Stream != q.Stream {
		return false
	}
	if q.RunID != "" && e.RunID != q.RunID {
		return false
	}
	if q.Kind != "" && e.Kind != q.Kind {
		return false
	}
	if q.Status != "" && e.Status != q.Status {
		return false
	}
	if q.Since != nil && e.AppliedAt.Before(*q.Since) {
		return false
	}
	if q.Until != nil && e.AppliedAt.After(*q.Until) {
		return false
	}
	return true
}
