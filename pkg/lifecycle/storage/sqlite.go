package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/ilm/pkg/lifecycle"
)

// SQLiteConfig configures the SQLite state backend.
type SQLiteConfig struct {
	// Path is the database file.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLiteState persists snapshots in a SQLite database using the pure Go
// modernc driver. Each Save replaces every row in a single transaction, so
// a crash leaves either the previous or the new snapshot.
type SQLiteState struct {
	db        *sql.DB
	path      string
	logger    *slog.Logger
	mu        sync.Mutex
	closeOnce sync.Once
}

// NewSQLiteState opens (or creates) the database at cfg.Path.
func NewSQLiteState(cfg SQLiteConfig, logger *slog.Logger) (*SQLiteState, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteState{
		db:     db,
		path:   cfg.Path,
		logger: logger.With("component", "lifecycle.storage.sqlite"),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info("state database opened", "path", cfg.Path)
	return s, nil
}

func (s *SQLiteState) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshot_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		taken_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS policies (
		stream TEXT PRIMARY KEY,
		rollover_max_age INTEGER NOT NULL,
		rollover_max_size INTEGER NOT NULL,
		delete_min_age INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS index_records (
		stream TEXT NOT NULL,
		generation INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		rolled_at INTEGER,
		deleted_at INTEGER,
		size_bytes INTEGER NOT NULL,
		state TEXT NOT NULL,
		PRIMARY KEY (stream, generation)
	);

	CREATE INDEX IF NOT EXISTS idx_index_records_state ON index_records(state);

	CREATE TABLE IF NOT EXISTS retired_streams (
		stream TEXT PRIMARY KEY,
		next_generation INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save implements StateBackend.
func (s *SQLiteState) Save(ctx context.Context, snap lifecycle.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM retired_streams",
		"DELETE FROM index_records",
		"DELETE FROM policies",
		"DELETE FROM snapshot_meta",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear state: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO snapshot_meta (id, taken_at) VALUES (1, ?)", snap.TakenAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to save snapshot metadata: %w", err)
	}

	policyStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO policies (stream, rollover_max_age, rollover_max_size, delete_min_age)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare policy insert: %w", err)
	}
	defer policyStmt.Close()

	for _, p := range snap.Policies {
		if _, err := policyStmt.ExecContext(ctx,
			p.Stream, int64(p.RolloverMaxAge), p.RolloverMaxSize, int64(p.DeleteMinAge)); err != nil {
			return fmt.Errorf("failed to save policy %q: %w", p.Stream, err)
		}
	}

	recordStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO index_records (stream, generation, created_at, rolled_at, deleted_at, size_bytes, state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare record insert: %w", err)
	}
	defer recordStmt.Close()

	for _, r := range snap.Records {
		if _, err := recordStmt.ExecContext(ctx,
			r.Stream,
			r.Generation,
			r.CreatedAt.UnixNano(),
			nullTime(r.RolledAt),
			nullTime(r.DeletedAt),
			r.SizeBytes,
			r.State.String(),
		); err != nil {
			return fmt.Errorf("failed to save record %s: %w", r.Name(), err)
		}
	}

	for stream, next := range snap.Retired {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO retired_streams (stream, next_generation) VALUES (?, ?)", stream, next); err != nil {
			return fmt.Errorf("failed to save retired stream %q: %w", stream, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	s.logger.Debug("snapshot saved",
		"policies", len(snap.Policies),
		"records", len(snap.Records),
	)
	return nil
}

// Load implements StateBackend.
func (s *SQLiteState) Load(ctx context.Context) (*lifecycle.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var takenAt int64
	err := s.db.QueryRowContext(ctx, "SELECT taken_at FROM snapshot_meta WHERE id = 1").Scan(&takenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot metadata: %w", err)
	}

	snap := &lifecycle.Snapshot{
		Policies: []lifecycle.RetentionPolicy{},
		Records:  []lifecycle.IndexRecord{},
		TakenAt:  time.Unix(0, takenAt).UTC(),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT stream, rollover_max_age, rollover_max_size, delete_min_age
		FROM policies ORDER BY stream
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p              lifecycle.RetentionPolicy
			maxAge, minAge int64
		)
		if err := rows.Scan(&p.Stream, &maxAge, &p.RolloverMaxSize, &minAge); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		p.RolloverMaxAge = time.Duration(maxAge)
		p.DeleteMinAge = time.Duration(minAge)
		snap.Policies = append(snap.Policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policies: %w", err)
	}

	recRows, err := s.db.QueryContext(ctx, `
		SELECT stream, generation, created_at, rolled_at, deleted_at, size_bytes, state
		FROM index_records ORDER BY stream, generation
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	defer recRows.Close()

	for recRows.Next() {
		var (
			r                 lifecycle.IndexRecord
			createdAt         int64
			rolledAt, deleted sql.NullInt64
			state             string
		)
		if err := recRows.Scan(&r.Stream, &r.Generation, &createdAt, &rolledAt, &deleted, &r.SizeBytes, &state); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		r.RolledAt = fromNullTime(rolledAt)
		r.DeletedAt = fromNullTime(deleted)
		if r.State, err = lifecycle.ParseIndexState(state); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", lifecycle.ErrCorruptSnapshot, r.Name(), err)
		}
		snap.Records = append(snap.Records, r)
	}
	if err := recRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	retRows, err := s.db.QueryContext(ctx, "SELECT stream, next_generation FROM retired_streams")
	if err != nil {
		return nil, fmt.Errorf("failed to load retired streams: %w", err)
	}
	defer retRows.Close()

	for retRows.Next() {
		var (
			stream string
			next   int64
		)
		if err := retRows.Scan(&stream, &next); err != nil {
			return nil, fmt.Errorf("failed to scan retired stream: %w", err)
		}
		if snap.Retired == nil {
			snap.Retired = make(map[string]int64)
		}
		snap.Retired[stream] = next
	}
	if err := retRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating retired streams: %w", err)
	}

	return snap, nil
}

// PingContext checks that the database is reachable.
func (s *SQLiteState) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database. Close is idempotent.
func (s *SQLiteState) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = s.db.Close()
	})
	return closeErr
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}
