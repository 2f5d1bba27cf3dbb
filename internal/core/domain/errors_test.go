// Package domain defines the core domain models for KiteSync.
package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("KS-TEST-1000", "test message"),
			expected: "[KS-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("KS-TEST-1001", "test message").WithDetails("extra info"),
			expected: "[KS-TEST-1001] test message: extra info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	err1 := NewDomainError("KS-TEST-1000", "message 1")
	err2 := NewDomainError("KS-TEST-1000", "message 2") // Same code, different message
	err3 := NewDomainError("KS-TEST-1001", "message 1") // Different code

	// Same code should match
	if !errors.Is(err1, err2) {
		t.Error("errors.Is should return true for same error code")
	}

	// Different code should not match
	if errors.Is(err1, err3) {
		t.Error("errors.Is should return false for different error code")
	}

	// Should not match non-DomainError
	if errors.Is(err1, fmt.Errorf("some error")) {
		t.Error("errors.Is should return false for non-DomainError")
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	err := NewDomainError("KS-TEST-1000", "wrapper").WithCause(cause)

	unwrapped := errors.Unwrap(err)
	if unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	// Without cause
	errNoCause := NewDomainError("KS-TEST-1000", "no cause")
	if errors.Unwrap(errNoCause) != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestDomainError_WithDetails(t *testing.T) {
	original := NewDomainError("KS-TEST-1000", "original message")
	withDetails := original.WithDetails("additional details")

	// Check original is unchanged
	if original.Details != "" {
		t.Error("WithDetails should not modify original error")
	}

	// Check new error has details
	if withDetails.Details != "additional details" {
		t.Errorf("Details = %q, want %q", withDetails.Details, "additional details")
	}

	// Check code and message are preserved
	if withDetails.Code != original.Code {
		t.Errorf("Code = %q, want %q", withDetails.Code, original.Code)
	}
}

func TestDomainError_WithCause(t *testing.T) {
	original := NewDomainError("KS-TEST-1000", "original message")
	cause := fmt.Errorf("cause")
	withCause := original.WithCause(cause)

	// Check original is unchanged
	if original.Cause != nil {
		t.Error("WithCause should not modify original error")
	}

	// Check new error has cause
	if withCause.Cause != cause {
		t.Errorf("Cause = %v, want %v", withCause.Cause, cause)
	}

	// Check code and message are preserved
	if withCause.Code != original.Code {
		t.Errorf("Code = %q, want %q", withCause.Code, original.Code)
	}
}

func TestDomainError_Wrap(t *testing.T) {
	original := NewDomainError("KS-TEST-1000", "original")
	cause := fmt.Errorf("cause")
	wrapped := original.Wrap(cause)

	if wrapped.Cause != cause {
		t.Errorf("Wrap() should set cause, got %v", wrapped.Cause)
	}
}

func TestIsDomainError(t *testing.T) {
	err := ErrStalePrimary

	if !IsDomainError(err, "KS-REPL-4090") {
		t.Error("IsDomainError should return true for matching code")
	}

	if IsDomainError(err, "KS-REPL-9999") {
		t.Error("IsDomainError should return false for non-matching code")
	}

	if IsDomainError(fmt.Errorf("regular error"), "KS-REPL-4090") {
		t.Error("IsDomainError should return false for non-DomainError")
	}

	// Test with wrapped error
	wrapped := fmt.Errorf("wrapped: %w", ErrStalePrimary)
	if !IsDomainError(wrapped, "KS-REPL-4090") {
		t.Error("IsDomainError should work with wrapped errors")
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "domain error",
			err:      ErrReseedRequired,
			expected: "KS-REPL-4100",
		},
		{
			name:     "wrapped domain error",
			err:      fmt.Errorf("wrapped: %w", ErrTransportDecode),
			expected: "KS-WIRE-4000",
		},
		{
			name:     "regular error",
			err:      fmt.Errorf("regular error"),
			expected: "",
		},
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.expected {
				t.Errorf("GetErrorCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestPredefinedErrors(t *testing.T) {
	// Verify all predefined errors have correct codes
	tests := []struct {
		err  *DomainError
		code string
	}{
		// Replication errors
		{ErrStalePrimary, "KS-REPL-4090"},
		{ErrReseedRequired, "KS-REPL-4100"},
		{ErrReplicaClosed, "KS-REPL-4001"},
		{ErrReplicaUninitialized, "KS-REPL-4002"},
		{ErrProgressAhead, "KS-REPL-4003"},

		// Authorization errors
		{ErrUnauthorized, "KS-AUTH-4010"},

		// Transport errors
		{ErrTransportDecode, "KS-WIRE-4000"},
		{ErrCursorMalformed, "KS-WIRE-4001"},

		// IO errors
		{ErrTransientIO, "KS-IO-5030"},
		{ErrSnapshotNotFound, "KS-IO-4040"},

		// Configuration errors
		{ErrConfiguration, "KS-CONF-4000"},

		// System errors
		{ErrInternalServer, "KS-SYS-5000"},
		{ErrStorageError, "KS-SYS-5001"},
		{ErrBadRequest, "KS-SYS-4000"},
		{ErrRateLimited, "KS-SYS-4290"},

		// Argument errors
		{ErrInvalidArgument, "KS-ARG-1001"},
		{ErrMissingArgument, "KS-ARG-1002"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Error code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Error message should not be empty")
			}
		})
	}
}

func TestErrorChaining(t *testing.T) {
	// Test chaining WithDetails and WithCause
	cause := fmt.Errorf("root cause")
	err := ErrReseedRequired.
		WithDetails("replica at 1:2, retained from 1:4").
		WithCause(cause)

	// Verify all properties are preserved
	if err.Code != "KS-REPL-4100" {
		t.Errorf("Code = %q, want %q", err.Code, "KS-REPL-4100")
	}
	if err.Details != "replica at 1:2, retained from 1:4" {
		t.Errorf("Details = %q", err.Details)
	}
	if err.Cause != cause {
		t.Error("Cause should be preserved")
	}

	// Verify errors.Is still works
	if !errors.Is(err, ErrReseedRequired) {
		t.Error("errors.Is should work after chaining")
	}
}
