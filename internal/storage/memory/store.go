// Package memory provides the in-memory record store for KiteSync.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kitedb/kitesync/internal/storage"
	"github.com/kitedb/kitesync/pkg/cmap"
)

// Store is an in-memory record store backed by a sharded concurrent map.
type Store struct {
	records *cmap.Map[string, string]

	// Guards Export/Import/Reset against concurrent Apply so a snapshot
	// sees a single point-in-time state.
	mu     sync.RWMutex
	closed bool
}

// Option configures the Store.
type Option func(*Store)

// WithShardCount sets the shard count of the underlying map.
func WithShardCount(n int) Option {
	return func(s *Store) {
		s.records = cmap.NewWithShards[string, string](n)
	}
}

// New creates a new in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		records: cmap.New[string, string](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply executes one replicated mutation.
func (s *Store) Apply(_ context.Context, payload []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}

	m, err := storage.DecodeMutation(payload)
	if err != nil {
		return err
	}
	switch m.Op {
	case storage.OpSet:
		s.records.Set(m.Key, m.Value)
	case storage.OpDelete:
		s.records.Delete(m.Key)
	}
	return nil
}

// Get reads a record.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, storage.ErrClosed
	}
	v, ok := s.records.Get(key)
	return v, ok, nil
}

// Count returns the number of live records.
func (s *Store) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, storage.ErrClosed
	}
	return int64(s.records.Count()), nil
}

// Export serializes the full state as a JSON object.
func (s *Store) Export(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	out := make(map[string]string, s.records.Count())
	s.records.Range(func(k, v string) bool {
		out[k] = v
		return true
	})
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("memory: export: %w", err)
	}
	return data, nil
}

// Import replaces the full state from Export output.
func (s *Store) Import(_ context.Context, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	var decoded map[string]string
	if err := json.Unmarshal(state, &decoded); err != nil {
		return fmt.Errorf("memory: import: %w", err)
	}
	s.records.Clear()
	for k, v := range decoded {
		s.records.Set(k, v)
	}
	return nil
}

// Reset drops all records.
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	s.records.Clear()
	return nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ storage.RecordStore = (*Store)(nil)
