// Package errors defines the failure taxonomy shared by the sync engine.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a failure by how the engine reacts to it.
type Kind string

const (
	// KindStorage means local persistence is unavailable or corrupt. Degrade, never crash.
	KindStorage Kind = "storage"
	// KindNetwork is transient and retry-eligible. Timeouts are network errors.
	KindNetwork Kind = "network"
	// KindRemoteRejection means the remote validated and refused the payload.
	KindRemoteRejection Kind = "remote_rejection"
	// KindValidation means the payload is malformed locally; retrying cannot fix it.
	KindValidation Kind = "validation"
)

// ErrNotFound is returned by stores and lookups for missing keys.
var ErrNotFound = stderrors.New("not found")

// SyncError carries a Kind together with the failing operation.
type SyncError struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Op)
}

// Unwrap returns the underlying error.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// New creates a SyncError of the given kind.
func New(kind Kind, op string, err error) *SyncError {
	return &SyncError{Kind: kind, Op: op, Err: err}
}

func Storage(op string, err error) *SyncError  { return New(KindStorage, op, err) }
func Network(op string, err error) *SyncError  { return New(KindNetwork, op, err) }
func Rejected(op string, err error) *SyncError { return New(KindRemoteRejection, op, err) }

// Invalid builds a validation error from a message.
func Invalid(op, format string, args ...any) *SyncError {
	return New(KindValidation, op, fmt.Errorf(format, args...))
}

// KindOf returns the Kind of the first SyncError in err's chain, or "" if none.
func KindOf(err error) Kind {
	var se *SyncError
	if stderrors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsKind reports whether err's chain contains a SyncError of kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a failed upload may be attempted again.
// Unclassified errors are treated as transient.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindStorage:
		return false
	default:
		return err != nil
	}
}

// Is and As re-export the standard helpers so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }
