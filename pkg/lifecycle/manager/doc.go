// Package manager carries out retention decisions.
//
// The evaluator in package lifecycle only decides; a Manager is the caller
// that acts on those decisions. For every cycle it evaluates each stream,
// archives indices about to be deleted, calls the index backend with a
// bounded retry policy, reports successful actions back to the store,
// journals every outcome and persists a snapshot of the store.
//
// Scheduler runs cycles on a cron schedule; the HTTP API and the CLI call
// RunCycle directly.
package manager
