// Package storage persists PolicyStore snapshots so that index records and
// their lifecycle states survive a restart.
//
// # Backends
//
//   - Memory: keeps the last snapshot in process (tests, dry runs)
//   - SQLite: file-based persistence using the pure Go modernc driver
//
// # Usage
//
//	state, err := storage.NewSQLiteState(storage.SQLiteConfig{Path: "ilm.db"}, logger)
//	if err != nil {
//	    return err
//	}
//	defer state.Close()
//
//	if err := state.Save(ctx, store.Snapshot()); err != nil {
//	    return err
//	}
//
//	snap, err := state.Load(ctx) // nil when nothing was saved
//
// Load returns records sorted by stream and generation with UTC timestamps.
package storage
