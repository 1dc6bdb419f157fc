// Package errors provides error handling for shakesync.
//
// This package re-exports github.com/cockroachdb/errors, providing stack
// traces, error wrapping with context, and typed sentinel checks.
//
// Usage:
//
//	// Wrap with context
//	if err := client.CancelJob(ctx, id); err != nil {
//	    return errors.Wrap(err, "cancel request failed")
//	}
//
//	// Check sentinels
//	if errors.Is(err, errors.ErrConflict) {
//	    // an active job already exists for this playlist
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New         = crdb.New
	Newf        = crdb.Newf
	Wrap        = crdb.Wrap
	Wrapf       = crdb.Wrapf
	WithStack   = crdb.WithStack
	WithMessage = crdb.WithMessage
	WithHint    = crdb.WithHint
	WithDetail  = crdb.WithDetail
)

// Error inspection
var (
	Is     = crdb.Is
	IsAny  = crdb.IsAny
	As     = crdb.As
	Unwrap = crdb.Unwrap
)

// Sentinel errors for the sync engine. Use with errors.Is(); wrap with
// errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the backend does not know the requested job.
	ErrNotFound = New("job not found")

	// ErrConflict indicates the backend rejected the request because of
	// conflicting state (duplicate active job, already-finished job).
	ErrConflict = New("conflicting job state")

	// ErrCancelFailed indicates a cancel request was not accepted by the
	// backend. The registry has been left untouched; a reconciliation
	// fetch has been triggered to restore ground truth.
	ErrCancelFailed = New("cancel request failed")

	// ErrUnauthorized indicates the backend rejected our credentials.
	ErrUnauthorized = New("unauthorized")
)

// IsNotFound checks if an error is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsConflict checks if an error is or wraps ErrConflict.
func IsConflict(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// IsCancelFailed checks if an error is or wraps ErrCancelFailed.
func IsCancelFailed(err error) bool {
	return err != nil && Is(err, ErrCancelFailed)
}

// MarkCancelFailed wraps an error as a cancel failure with context,
// preserving the original error text for display.
func MarkCancelFailed(err error, context string) error {
	return Wrap(Wrap(ErrCancelFailed, err.Error()), context)
}
