package benchmark

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"testing"

	"github.com/kitedb/kitesync/internal/core/service"
	"github.com/kitedb/kitesync/internal/storage"
	"github.com/kitedb/kitesync/internal/storage/memory"
	"github.com/kitedb/kitesync/internal/telemetry/logger"
	"github.com/kitedb/kitesync/internal/telemetry/metric"
)

// EntryCounts defines the prefill sizes for benchmarking.
var EntryCounts = []int{1000, 10000, 100000}

// SmallEntryCounts for quick benchmarks.
var SmallEntryCounts = []int{1000, 10000}

// benchLogger returns a logger that discards all output.
func benchLogger(b *testing.B) logger.Logger {
	b.Helper()
	l, err := logger.New(logger.Config{Level: "error", Format: "json", Output: io.Discard})
	if err != nil {
		b.Fatalf("logger.New failed: %v", err)
	}
	return l
}

// setPayload encodes a set mutation for key index i.
func setPayload(b *testing.B, i int) []byte {
	b.Helper()
	payload, err := storage.Mutation{
		Op:    storage.OpSet,
		Key:   fmt.Sprintf("bench-key-%d", i),
		Value: fmt.Sprintf("bench-value-%d-0123456789abcdef0123456789abcdef", i),
	}.Encode()
	if err != nil {
		b.Fatalf("encode mutation: %v", err)
	}
	return payload
}

// newBenchPrimary creates a primary coordinator backed by a fresh
// in-memory store and a temp data dir.
func newBenchPrimary(b *testing.B) (*service.Primary, *memory.Store) {
	b.Helper()
	store := memory.New()
	p, err := service.NewPrimary(service.PrimaryConfig{
		NodeID:  "bench-primary",
		DataDir: b.TempDir(),
		Store:   store,
		Metrics: metric.NewMetrics(),
		Logger:  benchLogger(b),
	})
	if err != nil {
		b.Fatalf("NewPrimary failed: %v", err)
	}
	b.Cleanup(func() { _ = p.Close() })
	return p, store
}

// prefillPrimary commits count mutations.
func prefillPrimary(b *testing.B, p *service.Primary, count int) {
	b.Helper()
	ctx := context.Background()
	for i := 0; i < count; i++ {
		if _, err := p.Commit(ctx, setPayload(b, i)); err != nil {
			b.Fatalf("prefill commit %d: %v", i, err)
		}
	}
}

// reportMemory reports memory usage.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
	b.ReportMetric(float64(m.NumGC), prefix+"_GC")
}

// runWithEntryCounts runs a benchmark function with various prefill sizes.
func runWithEntryCounts(b *testing.B, counts []int, benchFn func(b *testing.B, count int)) {
	for _, count := range counts {
		b.Run(fmt.Sprintf("entries_%d", count), func(b *testing.B) {
			benchFn(b, count)
		})
	}
}
