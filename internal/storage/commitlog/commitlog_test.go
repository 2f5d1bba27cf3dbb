package commitlog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/kitedb/kitesync/internal/core/domain"
	"github.com/kitedb/kitesync/pkg/crypto/adaptive"
)

func frame(epoch, index uint64, payload string) domain.LogFrame {
	return domain.LogFrame{
		Epoch:    epoch,
		LogIndex: index,
		Payload:  []byte(payload),
		ByteSize: len(payload),
	}
}

func mustAppend(t *testing.T, l *Log, frames ...domain.LogFrame) {
	t.Helper()
	for _, f := range frames {
		if err := l.Append(f); err != nil {
			t.Fatalf("Append %s: %v", f.Token(), err)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("x")
	if cfg.Dir != "x" {
		t.Fatalf("Dir = %q, want %q", cfg.Dir, "x")
	}
	if cfg.MaxSegmentBytes != DefaultMaxSegmentBytes {
		t.Fatalf("MaxSegmentBytes = %d, want %d", cfg.MaxSegmentBytes, DefaultMaxSegmentBytes)
	}
	if cfg.MaxSegmentEntries != DefaultMaxSegmentEntries {
		t.Fatalf("MaxSegmentEntries = %d, want %d", cfg.MaxSegmentEntries, DefaultMaxSegmentEntries)
	}
	if !cfg.Fsync {
		t.Fatal("Fsync should default on")
	}
}

func TestAppendRead_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	mustAppend(t, l,
		frame(1, 1, "set a 1"),
		frame(1, 2, "set b 2"),
		frame(1, 3, "del a"),
	)

	head, ok := l.Head()
	if !ok || head != (domain.CommitToken{Epoch: 1, LogIndex: 3}) {
		t.Fatalf("Head = %v ok=%v", head, ok)
	}

	page, err := l.ReadPage(Position{}, 0, 0)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if len(page.Frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(page.Frames))
	}
	if page.HasMore {
		t.Fatal("HasMore should be false at end of log")
	}
	if !bytes.Equal(page.Frames[1].Payload, []byte("set b 2")) {
		t.Fatalf("payload = %q", page.Frames[1].Payload)
	}
	if page.Frames[2].Token().String() != "1:3" {
		t.Fatalf("token = %s", page.Frames[2].Token())
	}
}

func TestAppend_SuccessionRules(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if err := l.Append(frame(1, 2, "x")); err == nil {
		t.Fatal("first frame with index 2 should be rejected")
	}
	mustAppend(t, l, frame(1, 1, "x"))

	if err := l.Append(frame(1, 3, "gap")); err == nil {
		t.Fatal("gapped index should be rejected")
	}
	if err := l.Append(frame(2, 5, "bad epoch start")); err == nil {
		t.Fatal("new epoch must start at index 1")
	}

	// Promotion path: next epoch restarts at index 1.
	mustAppend(t, l, frame(2, 1, "y"))

	if err := l.Append(frame(1, 2, "stale")); err == nil {
		t.Fatal("older epoch should be rejected")
	} else if !errors.Is(err, domain.ErrStalePrimary) {
		t.Fatalf("error = %v, want ErrStalePrimary", err)
	}
}

func TestRotationAndSealing(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MaxSegmentEntries = 2
	l, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := uint64(1); i <= 5; i++ {
		mustAppend(t, l, frame(1, i, fmt.Sprintf("op-%d", i)))
	}
	if got := l.SegmentCount(); got != 3 {
		t.Fatalf("SegmentCount = %d, want 3", got)
	}
	if got := l.EntryCount(); got != 5 {
		t.Fatalf("EntryCount = %d, want 5", got)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Every segment should now carry a valid seal trailer.
	for _, name := range []string{"seg-00000001.log", "seg-00000002.log", "seg-00000003.log"} {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		stat, _ := f.Stat()
		sealed, _, err := verifySealTrailer(f, stat.Size())
		f.Close()
		if err != nil {
			t.Fatalf("verify %s: %v", name, err)
		}
		if !sealed {
			t.Fatalf("%s should be sealed", name)
		}
	}
}

func TestReopen_ResumesAppending(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustAppend(t, l, frame(1, 1, "a"), frame(1, 2, "b"))
	// No Close: the active segment stays unsealed, as after a crash.

	l2, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()

	head, ok := l2.Head()
	if !ok || head.String() != "1:2" {
		t.Fatalf("Head after reopen = %v ok=%v", head, ok)
	}
	mustAppend(t, l2, frame(1, 3, "c"))

	page, err := l2.ReadPage(Position{}, 0, 0)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if len(page.Frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(page.Frames))
	}
}

func TestReopen_TruncatesTornTail(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustAppend(t, l, frame(1, 1, "a"), frame(1, 2, "b"))

	// Simulate a torn write on the active segment.
	path := filepath.Join(dir, "seg-00000001.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.Write([]byte{0x00, 0x00, 0x00, 0x30, 0xde}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	l2, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()

	head, ok := l2.Head()
	if !ok || head.String() != "1:2" {
		t.Fatalf("Head = %v ok=%v, want 1:2", head, ok)
	}
	mustAppend(t, l2, frame(1, 3, "c"))
}

func TestReadPage_Budgets(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	for i := uint64(1); i <= 6; i++ {
		mustAppend(t, l, frame(1, i, "0123456789")) // 10 bytes each
	}

	// Frame budget.
	page, err := l.ReadPage(Position{}, 2, 0)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if len(page.Frames) != 2 || !page.HasMore {
		t.Fatalf("frames = %d HasMore=%v, want 2/true", len(page.Frames), page.HasMore)
	}

	// Resume from the returned cursor.
	page2, err := l.ReadPage(page.Next, 10, 0)
	if err != nil {
		t.Fatalf("ReadPage 2: %v", err)
	}
	if len(page2.Frames) != 4 || page2.HasMore {
		t.Fatalf("frames = %d HasMore=%v, want 4/false", len(page2.Frames), page2.HasMore)
	}
	if page2.Frames[0].Token().String() != "1:3" {
		t.Fatalf("resume token = %s, want 1:3", page2.Frames[0].Token())
	}

	// Byte budget: 25 bytes fits two 10-byte frames before the third.
	page3, err := l.ReadPage(Position{}, 0, 25)
	if err != nil {
		t.Fatalf("ReadPage 3: %v", err)
	}
	if len(page3.Frames) != 2 || !page3.HasMore {
		t.Fatalf("frames = %d HasMore=%v, want 2/true", len(page3.Frames), page3.HasMore)
	}

	// An oversized first frame is still delivered.
	page4, err := l.ReadPage(Position{}, 0, 3)
	if err != nil {
		t.Fatalf("ReadPage 4: %v", err)
	}
	if len(page4.Frames) != 1 || !page4.HasMore {
		t.Fatalf("frames = %d HasMore=%v, want 1/true", len(page4.Frames), page4.HasMore)
	}
}

func TestTrimBelow(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MaxSegmentEntries = 1
	l, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	for i := uint64(1); i <= 6; i++ {
		mustAppend(t, l, frame(1, i, fmt.Sprintf("op-%d", i)))
	}
	// With MaxSegmentEntries=1 each frame gets its own segment.

	pruned, err := l.TrimBelow(domain.CommitToken{Epoch: 1, LogIndex: 3}, 2)
	if err != nil {
		t.Fatalf("TrimBelow: %v", err)
	}
	if pruned != 3 {
		t.Fatalf("pruned = %d, want 3", pruned)
	}

	first, ok := l.RetainedFrom()
	if !ok || first.String() != "1:4" {
		t.Fatalf("RetainedFrom = %v ok=%v, want 1:4", first, ok)
	}
	if got := l.TrimmedThrough(); got.String() != "1:3" {
		t.Fatalf("TrimmedThrough = %s, want 1:3", got)
	}

	// Safeguard: a bound at the head must leave minRetainEntries frames.
	pruned, err = l.TrimBelow(domain.CommitToken{Epoch: 1, LogIndex: 6}, 2)
	if err != nil {
		t.Fatalf("TrimBelow 2: %v", err)
	}
	if got := l.EntryCount(); got < 2 {
		t.Fatalf("EntryCount = %d, retention safeguard violated", got)
	}
	_ = pruned
}

func TestTrimBelow_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MaxSegmentEntries = 1
	l, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := uint64(1); i <= 4; i++ {
		mustAppend(t, l, frame(1, i, "x"))
	}
	if _, err := l.TrimBelow(domain.CommitToken{Epoch: 1, LogIndex: 2}, 1); err != nil {
		t.Fatalf("TrimBelow: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()
	if got := l2.TrimmedThrough(); got.String() != "1:2" {
		t.Fatalf("TrimmedThrough after reopen = %s, want 1:2", got)
	}
	if _, _, err := l2.PositionAfter(domain.CommitToken{Epoch: 1, LogIndex: 1}); !errors.Is(err, domain.ErrReseedRequired) {
		t.Fatalf("error = %v, want ErrReseedRequired", err)
	}
}

func TestPositionAfter(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MaxSegmentEntries = 2
	l, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	for i := uint64(1); i <= 5; i++ {
		mustAppend(t, l, frame(1, i, fmt.Sprintf("op-%d", i)))
	}

	pos, found, err := l.PositionAfter(domain.CommitToken{Epoch: 1, LogIndex: 2})
	if err != nil {
		t.Fatalf("PositionAfter: %v", err)
	}
	if !found {
		t.Fatal("expected a frame after 1:2")
	}
	page, err := l.ReadPage(pos, 1, 0)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if len(page.Frames) != 1 || page.Frames[0].Token().String() != "1:3" {
		t.Fatalf("frame after 1:2 = %v", page.Frames)
	}

	// At the head: nothing follows yet.
	_, found, err = l.PositionAfter(domain.CommitToken{Epoch: 1, LogIndex: 5})
	if err != nil {
		t.Fatalf("PositionAfter head: %v", err)
	}
	if found {
		t.Fatal("no frame should follow the head")
	}

	// Below the retained boundary after a trim.
	if _, err := l.TrimBelow(domain.CommitToken{Epoch: 1, LogIndex: 2}, 1); err != nil {
		t.Fatalf("TrimBelow: %v", err)
	}
	if _, _, err := l.PositionAfter(domain.CommitToken{Epoch: 1, LogIndex: 1}); !errors.Is(err, domain.ErrReseedRequired) {
		t.Fatalf("error = %v, want ErrReseedRequired", err)
	}
	// The boundary itself is still serveable.
	if _, _, err := l.PositionAfter(domain.CommitToken{Epoch: 1, LogIndex: 2}); err != nil {
		t.Fatalf("boundary position: %v", err)
	}
}

func TestEncryptedPayload_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	key := bytes.Repeat([]byte{0x42}, 32)
	cipher, err := adaptive.New(key)
	if err != nil {
		t.Fatalf("adaptive.New: %v", err)
	}

	cfg := DefaultConfig(dir)
	cfg.Cipher = cipher
	l, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustAppend(t, l, frame(1, 1, "secret payload"))
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Ciphertext must not appear in the raw file.
	raw, err := os.ReadFile(filepath.Join(dir, "seg-00000001.log"))
	if err != nil {
		t.Fatalf("read segment: %v", err)
	}
	if bytes.Contains(raw, []byte("secret payload")) {
		t.Fatal("payload stored in the clear despite cipher")
	}

	l2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()
	page, err := l2.ReadPage(Position{}, 0, 0)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if len(page.Frames) != 1 || string(page.Frames[0].Payload) != "secret payload" {
		t.Fatalf("frames = %+v", page.Frames)
	}
}

func TestStoreEpoch_Fencing(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustAppend(t, l, frame(1, 1, "x"))

	if err := l.StoreEpoch(3); err != nil {
		t.Fatalf("StoreEpoch: %v", err)
	}
	if err := l.Append(frame(2, 1, "fenced")); err == nil {
		t.Fatal("append under a lower epoch should be rejected after StoreEpoch")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()
	if got := l2.Epoch(); got != 3 {
		t.Fatalf("Epoch after reopen = %d, want 3", got)
	}
}
