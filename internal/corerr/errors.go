// Package corerr defines the error-kind taxonomy shared across the ingestion
// core (spec §7) and a small helper type for attaching a Kind to a wrapped
// error without resorting to string matching at call sites.
package corerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a core error so that callers can branch on recovery
// behavior without parsing error strings.
type Kind uint8

const (
	// KindUnknown is the zero value; it should never be returned deliberately.
	KindUnknown Kind = iota
	// KindNotFound indicates the source file was missing when the Sync Engine
	// attempted to hash it.
	KindNotFound
	// KindHashFailure indicates a read error while hashing.
	KindHashFailure
	// KindMoveFailure indicates the move primitive failed; eligible for retry.
	KindMoveFailure
	// KindVerifyMismatch indicates the post-move digest did not match the
	// pre-move digest; eligible for retry.
	KindVerifyMismatch
	// KindArchiveFailure indicates a non-fatal archive-on-duplicate failure.
	KindArchiveFailure
	// KindQueueFull indicates the ingest queue rejected an enqueue.
	KindQueueFull
	// KindCommandFailure indicates a remote command exited non-zero.
	KindCommandFailure
	// KindTransportFailure indicates an SSH/connection-level failure; eligible
	// for retry after reconnect.
	KindTransportFailure
	// KindDiscoveryFailure indicates proxy discovery could not resolve or
	// probe an endpoint; surfaced to callers as KindTransportFailure per
	// spec §7.
	KindDiscoveryFailure
	// KindPoolExhausted indicates the SSH pool had no connection available
	// within the bounded wait.
	KindPoolExhausted
)

// String renders the kind for logging.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindHashFailure:
		return "hash-failure"
	case KindMoveFailure:
		return "move-failure"
	case KindVerifyMismatch:
		return "verify-mismatch"
	case KindArchiveFailure:
		return "archive-failure"
	case KindQueueFull:
		return "queue-full"
	case KindCommandFailure:
		return "command-failure"
	case KindTransportFailure:
		return "transport-failure"
	case KindDiscoveryFailure:
		return "discovery-failure"
	case KindPoolExhausted:
		return "pool-exhausted"
	default:
		return "unknown"
	}
}

// Error pairs a Kind with an underlying wrapped error. It satisfies the
// standard error interface and supports errors.Is/As via Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error, preserving it as the cause so
// that errors.Wrap-style context is not lost.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: errors.Wrap(cause, message)}
}

// Error implements error.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

// Unwrap supports errors.Is/errors.As against the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// As extracts the Kind of err if it is (or wraps) a *Error, returning
// KindUnknown and false otherwise.
func As(err error) (Kind, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind, true
	}
	return KindUnknown, false
}

// IsRetryable reports whether the error's kind is one the spec marks
// eligible for transport/discovery-driven retry (spec §7, §4.F).
func IsRetryable(err error) bool {
	kind, ok := As(err)
	if !ok {
		return false
	}
	switch kind {
	case KindMoveFailure, KindVerifyMismatch, KindTransportFailure, KindDiscoveryFailure, KindPoolExhausted:
		return true
	default:
		return false
	}
}
