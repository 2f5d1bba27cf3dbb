// Package storage provides the storage layer for KiteSync.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kitedb/kitesync/internal/core/domain"
)

// Common errors.
var (
	ErrKeyNotFound = errors.New("storage: key not found")
	ErrClosed      = errors.New("storage: store closed")
)

// Mutation op codes carried in replicated frame payloads.
const (
	OpSet    = "set"
	OpDelete = "del"
)

// Mutation is the unit of replicated change: one key/value operation.
// It is the decoded form of a log frame payload.
type Mutation struct {
	Op    string `json:"op"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// Encode renders the mutation as a frame payload.
func (m Mutation) Encode() ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// DecodeMutation parses a frame payload.
func DecodeMutation(payload []byte) (Mutation, error) {
	var m Mutation
	if err := json.Unmarshal(payload, &m); err != nil {
		return Mutation{}, domain.ErrTransportDecode.WithDetails("malformed mutation payload").WithCause(err)
	}
	if err := m.validate(); err != nil {
		return Mutation{}, err
	}
	return m, nil
}

func (m Mutation) validate() error {
	switch m.Op {
	case OpSet, OpDelete:
	default:
		return domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("unknown mutation op %q", m.Op))
	}
	if m.Key == "" {
		return domain.ErrMissingArgument.WithDetails("mutation key is required")
	}
	return nil
}

// RecordStore is the replicated state. The primary and every replica
// apply the same mutations in the same order; Export/Import move the
// whole state for snapshots and reseeds.
//
// Implementations must be safe for concurrent use.
type RecordStore interface {
	// Apply executes one decoded frame payload.
	Apply(ctx context.Context, payload []byte) error

	// Get reads a record, reporting whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Count returns the number of live records.
	Count(ctx context.Context) (int64, error)

	// Export serializes the full state for a snapshot.
	Export(ctx context.Context) ([]byte, error)

	// Import replaces the full state from Export output.
	Import(ctx context.Context, state []byte) error

	// Reset drops all records.
	Reset(ctx context.Context) error

	// Close releases resources.
	Close() error
}
