package storage

import (
	"context"
	"fmt"
	"log/slog"

	"mercator-hq/ilm/pkg/lifecycle"
)

// StateBackend persists PolicyStore snapshots across restarts.
// Implementations must be thread-safe.
type StateBackend interface {
	// Save replaces the persisted state with snap.
	Save(ctx context.Context, snap lifecycle.Snapshot) error

	// Load returns the last saved snapshot.
	// Returns nil if nothing has been saved yet.
	Load(ctx context.Context) (*lifecycle.Snapshot, error)

	// Close releases any resources held by the backend.
	// The backend should not be used after calling Close.
	Close() error
}

// Config selects and configures a state backend.
type Config struct {
	// Backend is "none", "memory" or "sqlite".
	Backend string

	// SQLite configures the sqlite backend.
	SQLite SQLiteConfig
}

// New creates the configured state backend. It returns nil for "none".
func New(cfg Config, logger *slog.Logger) (StateBackend, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryState(), nil
	case "sqlite":
		s, err := NewSQLiteState(cfg.SQLite, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}
