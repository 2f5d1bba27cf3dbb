// Package domain defines the core domain models for KiteSync.
//
// Domain models are pure value objects and entities without any
// IO dependencies or framework coupling. This package contains:
//
//   - CommitToken: epoch-qualified log position handed out on commit
//   - LogFrame: a single replicated log entry
//   - ReplicaState: replica lifecycle state machine values
//   - Status: primary and replica status surfaces
//   - Errors: domain-specific error definitions
//
package domain
