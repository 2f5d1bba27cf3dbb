package benchmark

import (
	"context"
	"testing"

	"github.com/kitedb/kitesync/internal/storage/memory"
	"github.com/kitedb/kitesync/internal/storage/snapshot"
	"github.com/kitedb/kitesync/pkg/crypto/adaptive"
)

func prefillStore(b *testing.B, store *memory.Store, count int) {
	b.Helper()
	ctx := context.Background()
	for i := 0; i < count; i++ {
		if err := store.Apply(ctx, setPayload(b, i)); err != nil {
			b.Fatalf("Apply %d failed: %v", i, err)
		}
	}
}

// BenchmarkSnapshotCreate benchmarks snapshot creation at various scales.
func BenchmarkSnapshotCreate(b *testing.B) {
	runWithEntryCounts(b, SmallEntryCounts, func(b *testing.B, count int) {
		ctx := context.Background()
		store := memory.New()
		prefillStore(b, store, count)

		mgr, err := snapshot.NewManager(snapshot.Config{
			Dir:            b.TempDir(),
			RetentionCount: 3,
		})
		if err != nil {
			b.Fatalf("NewManager failed: %v", err)
		}

		b.ResetTimer()
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			state, err := store.Export(ctx)
			if err != nil {
				b.Fatalf("Export failed: %v", err)
			}
			if _, err := mgr.Create(state, 1, uint64(count), int64(count)); err != nil {
				b.Fatalf("Create snapshot failed: %v", err)
			}
		}

		b.StopTimer()
		reportMemory(b, "mem")
	})
}

// BenchmarkSnapshotCreateEncrypted includes encryption at rest.
func BenchmarkSnapshotCreateEncrypted(b *testing.B) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 3)
	}
	cipher, err := adaptive.New(key)
	if err != nil {
		b.Fatalf("cipher init failed: %v", err)
	}

	runWithEntryCounts(b, SmallEntryCounts, func(b *testing.B, count int) {
		ctx := context.Background()
		store := memory.New()
		prefillStore(b, store, count)

		mgr, err := snapshot.NewManager(snapshot.Config{
			Dir:            b.TempDir(),
			RetentionCount: 3,
			Cipher:         cipher,
		})
		if err != nil {
			b.Fatalf("NewManager failed: %v", err)
		}

		b.ResetTimer()
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			state, err := store.Export(ctx)
			if err != nil {
				b.Fatalf("Export failed: %v", err)
			}
			if _, err := mgr.Create(state, 1, uint64(count), int64(count)); err != nil {
				b.Fatalf("Create snapshot failed: %v", err)
			}
		}
	})
}

// BenchmarkSnapshotLoad benchmarks loading the latest snapshot.
func BenchmarkSnapshotLoad(b *testing.B) {
	runWithEntryCounts(b, SmallEntryCounts, func(b *testing.B, count int) {
		ctx := context.Background()
		store := memory.New()
		prefillStore(b, store, count)

		mgr, err := snapshot.NewManager(snapshot.Config{
			Dir:            b.TempDir(),
			RetentionCount: 3,
		})
		if err != nil {
			b.Fatalf("NewManager failed: %v", err)
		}

		state, err := store.Export(ctx)
		if err != nil {
			b.Fatalf("Export failed: %v", err)
		}
		if _, err := mgr.Create(state, 1, uint64(count), int64(count)); err != nil {
			b.Fatalf("Create snapshot failed: %v", err)
		}

		b.ResetTimer()
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			if _, _, err := mgr.Load(); err != nil {
				b.Fatalf("Load failed: %v", err)
			}
		}

		b.StopTimer()
		reportMemory(b, "mem")
	})
}

// BenchmarkStoreApply measures raw mutation application.
func BenchmarkStoreApply(b *testing.B) {
	store := memory.New()
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := store.Apply(ctx, setPayload(b, i)); err != nil {
			b.Fatalf("Apply failed: %v", err)
		}
	}
}

// BenchmarkStoreImport measures installing an exported state wholesale,
// the replica-side cost of a reseed.
func BenchmarkStoreImport(b *testing.B) {
	runWithEntryCounts(b, SmallEntryCounts, func(b *testing.B, count int) {
		ctx := context.Background()
		source := memory.New()
		prefillStore(b, source, count)
		state, err := source.Export(ctx)
		if err != nil {
			b.Fatalf("Export failed: %v", err)
		}

		target := memory.New()

		b.ResetTimer()
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			if err := target.Import(ctx, state); err != nil {
				b.Fatalf("Import failed: %v", err)
			}
		}
	})
}
