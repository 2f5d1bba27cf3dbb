package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	cfg := DefaultBadgerConfig(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewBadgerStore(cfg, logger)
	if err != nil {
		t.Fatalf("NewBadgerStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustPayload(t *testing.T, m Mutation) []byte {
	t.Helper()
	payload, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return payload
}

func TestBadgerStore_ApplyGet(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	set := mustPayload(t, Mutation{Op: OpSet, Key: "user:1", Value: "alice"})
	if err := s.Apply(ctx, set); err != nil {
		t.Fatalf("Apply(set) error = %v", err)
	}

	value, ok, err := s.Get(ctx, "user:1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if value != "alice" {
		t.Errorf("Get() value = %q, want %q", value, "alice")
	}

	del := mustPayload(t, Mutation{Op: OpDelete, Key: "user:1"})
	if err := s.Apply(ctx, del); err != nil {
		t.Fatalf("Apply(delete) error = %v", err)
	}

	_, ok, err = s.Get(ctx, "user:1")
	if err != nil {
		t.Fatalf("Get() after delete error = %v", err)
	}
	if ok {
		t.Error("Get() after delete ok = true, want false")
	}
}

func TestBadgerStore_ApplyRejectsMalformedPayload(t *testing.T) {
	s := newTestBadgerStore(t)

	if err := s.Apply(context.Background(), []byte("not json")); err == nil {
		t.Fatal("Apply(malformed) error = nil, want error")
	}
}

func TestBadgerStore_Count(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		payload := mustPayload(t, Mutation{Op: OpSet, Key: key, Value: "v"})
		if err := s.Apply(ctx, payload); err != nil {
			t.Fatalf("Apply(%q) error = %v", key, err)
		}
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}
}

func TestBadgerStore_ExportImport(t *testing.T) {
	src := newTestBadgerStore(t)
	ctx := context.Background()

	for _, key := range []string{"x", "y"} {
		payload := mustPayload(t, Mutation{Op: OpSet, Key: key, Value: key + "-value"})
		if err := src.Apply(ctx, payload); err != nil {
			t.Fatalf("Apply(%q) error = %v", key, err)
		}
	}

	state, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	dst := newTestBadgerStore(t)
	stale := mustPayload(t, Mutation{Op: OpSet, Key: "stale", Value: "gone"})
	if err := dst.Apply(ctx, stale); err != nil {
		t.Fatalf("Apply(stale) error = %v", err)
	}

	if err := dst.Import(ctx, state); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	if _, ok, _ := dst.Get(ctx, "stale"); ok {
		t.Error("Import() kept pre-existing key, want replaced state")
	}
	value, ok, err := dst.Get(ctx, "x")
	if err != nil || !ok {
		t.Fatalf("Get(x) = (%v, %v), want found", ok, err)
	}
	if value != "x-value" {
		t.Errorf("Get(x) = %q, want %q", value, "x-value")
	}
}

func TestBadgerStore_Reset(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	payload := mustPayload(t, Mutation{Op: OpSet, Key: "k", Value: "v"})
	if err := s.Apply(ctx, payload); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Count() after Reset = %d, want 0", n)
	}
}

func TestBadgerStore_ClosedRejectsOperations(t *testing.T) {
	cfg := DefaultBadgerConfig(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewBadgerStore(cfg, logger)
	if err != nil {
		t.Fatalf("NewBadgerStore() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	ctx := context.Background()
	if err := s.Apply(ctx, []byte(`{"op":"set","key":"k","value":"v"}`)); err != ErrClosed {
		t.Errorf("Apply() error = %v, want ErrClosed", err)
	}
	if _, _, err := s.Get(ctx, "k"); err != ErrClosed {
		t.Errorf("Get() error = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
}
