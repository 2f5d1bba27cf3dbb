// Package domain defines the core domain models for KiteSync.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
type DomainError struct {
	Code    string // Error code (e.g., "KS-REPL-4090")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true // Only check if it's a DomainError
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Replication Errors (REPL)
// ============================================================================

var (
	// ErrStalePrimary indicates the commit was fenced by a newer epoch.
	// A transaction opened under an older epoch can never commit.
	ErrStalePrimary = NewDomainError("KS-REPL-4090", "stale primary: epoch fenced by promotion")

	// ErrReseedRequired indicates the replica fell behind the retained log
	// window, or observed a gap, and must be reseeded from a full snapshot.
	ErrReseedRequired = NewDomainError("KS-REPL-4100", "reseed required: position outside retained log window")

	// ErrReplicaClosed indicates the replica was shut down and accepts
	// no further operations.
	ErrReplicaClosed = NewDomainError("KS-REPL-4001", "replica closed")

	// ErrReplicaUninitialized indicates an operation that requires a
	// bootstrapped replica was invoked before any snapshot was installed.
	ErrReplicaUninitialized = NewDomainError("KS-REPL-4002", "replica not bootstrapped")

	// ErrProgressAhead indicates a replica reported progress beyond the
	// primary's committed head.
	ErrProgressAhead = NewDomainError("KS-REPL-4003", "reported progress ahead of committed head")
)

// ============================================================================
// Authorization Errors (AUTH)
// ============================================================================

var (
	// ErrUnauthorized indicates the request failed the admin authorization policy.
	ErrUnauthorized = NewDomainError("KS-AUTH-4010", "unauthorized")
)

// ============================================================================
// Transport Errors (WIRE)
// ============================================================================

var (
	// ErrTransportDecode indicates a malformed or incompatible transport payload.
	ErrTransportDecode = NewDomainError("KS-WIRE-4000", "transport decode failed")

	// ErrCursorMalformed indicates a resume cursor that cannot be decoded.
	ErrCursorMalformed = NewDomainError("KS-WIRE-4001", "malformed transport cursor")
)

// ============================================================================
// IO Errors (IO)
// ============================================================================

var (
	// ErrTransientIO indicates a retryable storage or network failure.
	ErrTransientIO = NewDomainError("KS-IO-5030", "transient io failure")

	// ErrSnapshotNotFound indicates no usable snapshot exists.
	ErrSnapshotNotFound = NewDomainError("KS-IO-4040", "snapshot not found")
)

// ============================================================================
// Configuration Errors (CONF)
// ============================================================================

var (
	// ErrConfiguration indicates an invalid configuration detected at
	// construction time, never during request handling.
	ErrConfiguration = NewDomainError("KS-CONF-4000", "invalid configuration")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("KS-SYS-5000", "internal server error")

	// ErrStorageError indicates a storage layer error.
	ErrStorageError = NewDomainError("KS-SYS-5001", "storage error")

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("KS-SYS-4000", "bad request")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = NewDomainError("KS-SYS-4290", "too many requests")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("KS-ARG-1001", "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("KS-ARG-1002", "missing required argument")
)
