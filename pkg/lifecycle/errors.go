package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPolicy is returned when a policy violates its invariants.
	ErrInvalidPolicy = errors.New("invalid retention policy")

	// ErrUnknownStream is returned when an operation references a stream
	// with no registered policy.
	ErrUnknownStream = errors.New("unknown stream")

	// ErrUnknownGeneration is returned when an action references a
	// generation the stream does not have.
	ErrUnknownGeneration = errors.New("unknown index generation")

	// ErrActiveRecord is returned when a delete targets the active index.
	ErrActiveRecord = errors.New("cannot delete the active index")

	// ErrInvalidWrite is returned for negative write sizes.
	ErrInvalidWrite = errors.New("invalid write size")

	// ErrCorruptSnapshot is returned when a snapshot cannot be restored.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
)

// PolicyError describes why a retention policy was rejected.
// It matches ErrInvalidPolicy with errors.Is.
type PolicyError struct {
	Stream string
	Reason string
}

// Error implements the error interface.
func (e *PolicyError) Error() string {
	if e.Stream == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidPolicy, e.Reason)
	}
	return fmt.Sprintf("%s [stream=%s]: %s", ErrInvalidPolicy, e.Stream, e.Reason)
}

// Unwrap returns ErrInvalidPolicy.
func (e *PolicyError) Unwrap() error {
	return ErrInvalidPolicy
}

// NewPolicyError creates a new PolicyError.
func NewPolicyError(stream, reason string) *PolicyError {
	return &PolicyError{
		Stream: stream,
		Reason: reason,
	}
}

// StreamError wraps a failure of a store operation on a stream.
type StreamError struct {
	Stream     string // Stream the operation targeted
	Op         string // Operation that failed ("record_write", "rollover", ...)
	Generation int64  // Generation, or -1 when not applicable
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Generation >= 0 {
		return fmt.Sprintf("%s [stream=%s, generation=%d]: %v", e.Op, e.Stream, e.Generation, e.Err)
	}
	return fmt.Sprintf("%s [stream=%s]: %v", e.Op, e.Stream, e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

func newStreamError(stream, op string, err error) *StreamError {
	return &StreamError{Stream: stream, Op: op, Generation: -1, Err: err}
}

func newGenerationError(stream, op string, generation int64, err error) *StreamError {
	return &StreamError{Stream: stream, Op: op, Generation: generation, Err: err}
}
