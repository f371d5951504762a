package store

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Common errors returned by storage operations.
//
// These can be checked with errors.Is() regardless of which backend
// produced them:
//
//	if errors.Is(err, store.ErrAlreadyExists) {
//	    // duplicate registration email
//	}
var (
	// ErrNotAuthenticated is returned when an operation requires an
	// active session but none exists.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNotFound is returned when the referenced user, regimen, or
	// message does not exist, and on failed credential checks.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when registering with an email that
	// is already present.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnavailable is returned when the backend cannot be reached.
	// Operations failing with it are safe to retry.
	ErrUnavailable = errors.New("store unavailable")

	// ErrQuotaExceeded is returned when persistence failed for lack of
	// space even after an eviction pass and one retry.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrInvalidInput is returned for malformed mutation arguments.
	// Not retryable; surfaced immediately.
	ErrInvalidInput = errors.New("invalid input")
)

// IsRetryable reports whether the error is likely to succeed on retry.
// Connectivity failures are retryable; conflicts and validation failures
// are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUnavailable)
}

// IsConflict reports whether the error is a non-retryable conflict that
// must be surfaced to the caller immediately.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// mapConnErr converts transport-level failures into ErrUnavailable so the
// queue manager can classify them as retryable. Other errors pass through
// unchanged.
func mapConnErr(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errors.Join(ErrUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrUnavailable, err)
	}
	// The libsql driver reports unreachable hosts as plain errors.
	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset") {
		return errors.Join(ErrUnavailable, err)
	}
	return err
}

// isUniqueViolation reports whether err is a SQLite unique-constraint
// failure. Both drivers surface the standard SQLite message text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
