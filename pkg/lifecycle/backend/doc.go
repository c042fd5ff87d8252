// Package backend defines the index storage collaborator that carries out
// rollover and delete actions, with an in-memory implementation and a
// dry-run implementation.
//
// Backends signal transient failures by wrapping them with Retryable; the
// manager retries those and gives up on everything else.
package backend
