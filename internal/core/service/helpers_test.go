package service

import (
	"context"
	"io"
	"testing"

	"github.com/kitedb/kitesync/internal/core/domain"
	"github.com/kitedb/kitesync/internal/storage"
	"github.com/kitedb/kitesync/internal/storage/memory"
	"github.com/kitedb/kitesync/internal/telemetry/logger"
	"github.com/kitedb/kitesync/internal/telemetry/metric"
)

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	l, err := logger.New(logger.Config{Level: "error", Format: "json", Output: io.Discard})
	if err != nil {
		t.Fatalf("logger.New() error = %v", err)
	}
	return l
}

func newTestPrimary(t *testing.T, mutate func(*PrimaryConfig)) (*Primary, *memory.Store) {
	t.Helper()
	store := memory.New()
	cfg := PrimaryConfig{
		NodeID:  "primary-1",
		DataDir: t.TempDir(),
		Store:   store,
		Metrics: metric.NewMetrics(),
		Logger:  testLogger(t),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := NewPrimary(cfg)
	if err != nil {
		t.Fatalf("NewPrimary() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p, store
}

func newTestReplica(t *testing.T, source *Primary) (*Replica, *memory.Store) {
	t.Helper()
	store := memory.New()
	r, err := NewReplica(ReplicaConfig{
		NodeID:  "replica-1",
		DataDir: t.TempDir(),
		Store:   store,
		Source:  NewLocalSource(source),
		Metrics: metric.NewMetrics(),
		Logger:  testLogger(t),
	})
	if err != nil {
		t.Fatalf("NewReplica() error = %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, store
}

func setPayload(t *testing.T, key, value string) []byte {
	t.Helper()
	payload, err := storage.Mutation{Op: storage.OpSet, Key: key, Value: value}.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return payload
}

func mustCommit(t *testing.T, p *Primary, key, value string) domain.CommitToken {
	t.Helper()
	token, err := p.Commit(context.Background(), setPayload(t, key, value))
	if err != nil {
		t.Fatalf("Commit(%q) error = %v", key, err)
	}
	return token
}

// catchUpFully drives the replica until no frames remain.
func catchUpFully(t *testing.T, r *Replica) {
	t.Helper()
	for {
		n, err := r.CatchUpOnce(context.Background(), 0)
		if err != nil {
			t.Fatalf("CatchUpOnce() error = %v", err)
		}
		status := r.Status(context.Background())
		if n == 0 && status.State == domain.ReplicaTailing {
			return
		}
	}
}
