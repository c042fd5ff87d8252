package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mercator-hq/ilm/pkg/lifecycle"
)

// SQLiteConfig contains configuration for the SQLite journal.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/journal.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteJournal opens the journal database and initializes its schema.
func NewSQLiteJournal(config *SQLiteConfig) (*SQLiteJournal, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Path == "" {
		return nil, NewStorageError("sqlite", "open", fmt.Errorf("db path cannot be empty"))
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = 5
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "lifecycle.journal.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, NewStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	j := &SQLiteJournal{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := j.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite journal initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)
	return j, nil
}

func (j *SQLiteJournal) initialize() error {
	if j.config.WALMode {
		if _, err := j.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return NewStorageError("sqlite", "enable_wal", err)
		}
	}

	if _, err := j.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", j.config.BusyTimeout.Milliseconds())); err != nil {
		return NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := j.db.Exec(Schema); err != nil {
		return NewStorageError("sqlite", "create_schema", err)
	}

	if _, err := j.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := j.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Append implements Journal. All entries are written in one transaction.
func (j *SQLiteJournal) Append(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("sqlite", "append", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO journal (
			id, run_id, stream, generation, index_name,
			kind, reason, status, error, attempts, applied_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return NewStorageError("sqlite", "append", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var errVal interface{}
		if e.Error != "" {
			errVal = e.Error
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.RunID, e.Stream, e.Generation, e.Index,
			string(e.Kind), string(e.Reason), string(e.Status), errVal, e.Attempts,
			e.AppliedAt.UnixNano(),
		); err != nil {
			return NewStorageError("sqlite", "append", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return NewStorageError("sqlite", "append", err)
	}
	return nil
}

// Query implements Journal.
func (j *SQLiteJournal) Query(ctx context.Context, q Query) ([]Entry, error) {
	where, args := buildWhereClause(q)

	sqlQuery := `SELECT id, run_id, stream, generation, index_name, kind, reason,
		status, error, attempts, applied_at FROM journal`
	if where != "" {
		sqlQuery += " WHERE " + where
	}
	sqlQuery += " ORDER BY applied_at DESC, seq DESC"

	limit := DefaultLimit
	if q.Limit > 0 {
		limit = q.Limit
	}
	sqlQuery += fmt.Sprintf(" LIMIT %d", limit)
	if q.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	rows, err := j.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e         Entry
			kind      string
			reason    string
			status    string
			errVal    sql.NullString
			appliedAt int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Stream, &e.Generation, &e.Index,
			&kind, &reason, &status, &errVal, &e.Attempts, &appliedAt); err != nil {
			return nil, NewStorageError("sqlite", "scan", err)
		}
		e.Kind = lifecycle.ActionKind(kind)
		e.Reason = lifecycle.Reason(reason)
		e.Status = Status(status)
		e.Error = errVal.String
		e.AppliedAt = time.Unix(0, appliedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "query", err)
	}
	return entries, nil
}

// Count implements Journal.
func (j *SQLiteJournal) Count(ctx context.Context, q Query) (int64, error) {
	where, args := buildWhereClause(q)

	sqlQuery := "SELECT COUNT(*) FROM journal"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	var count int64
	if err := j.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, NewStorageError("sqlite", "count", err)
	}
	return count, nil
}

// Prune implements Journal.
func (j *SQLiteJournal) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := j.db.ExecContext(ctx, "DELETE FROM journal WHERE applied_at < ?", olderThan.UnixNano())
	if err != nil {
		return 0, NewStorageError("sqlite", "prune", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, NewStorageError("sqlite", "prune", err)
	}
	return n, nil
}

// PingContext checks that the database is reachable.
func (j *SQLiteJournal) PingContext(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Close releases the database connection.
func (j *SQLiteJournal) Close() error {
	if err := j.db.Close(); err != nil {
		return NewStorageError("sqlite", "close", err)
	}
	j.logger.Info("SQLite journal closed")
	return nil
}

// buildWhereClause returns the WHERE clause (without the keyword) and its
// arguments.
func buildWhereClause(q Query) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if q.Stream != "" {
		conditions = append(conditions, "stream = ?")
		args = append(args, q.Stream)
	}
	if q.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		args = append(args, q.RunID)
	}
	if q.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.Since != nil {
		conditions = append(conditions, "applied_at >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if q.Until != nil {
		conditions = append(conditions, "applied_at <= ?")
		args = append(args, q.Until.UnixNano())
	}

	return strings.Join(conditions, " AND "), args
}
