// Package commitlog provides the segmented, append-only replication log.
//
// Frames are appended in strict commit order and identified by their
// (epoch, log_index) position. Segments rotate by size or entry count,
// sealed segments carry a sha256 trailer, and retention removes whole
// segments only. A manifest sidecar records the highest epoch and the
// retention boundary across restarts.
package commitlog

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sync"

	"github.com/kitedb/kitesync/internal/core/domain"
	"github.com/kitedb/kitesync/pkg/crypto/adaptive"
)

// Default configuration values.
const (
	DefaultMaxSegmentBytes   int64 = 64 << 20 // 64MB
	DefaultMaxSegmentEntries       = 100000
)

// Config configures a commit log.
type Config struct {
	Dir string

	// MaxSegmentBytes rotates the active segment when frame data would
	// exceed this size.
	MaxSegmentBytes int64

	// MaxSegmentEntries rotates the active segment when it would exceed
	// this many frames.
	MaxSegmentEntries int

	// Fsync controls whether every append is synced before returning.
	// Commit acknowledgements require durability, so this defaults on.
	Fsync bool

	// Cipher optionally encrypts frame payloads at rest.
	Cipher adaptive.Cipher
}

// DefaultConfig returns the default commit log configuration.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:               dir,
		MaxSegmentBytes:   DefaultMaxSegmentBytes,
		MaxSegmentEntries: DefaultMaxSegmentEntries,
		Fsync:             true,
	}
}

// Log is a segmented on-disk commit log. All methods are safe for
// concurrent use.
type Log struct {
	cfg    Config
	cipher adaptive.Cipher

	mu sync.Mutex

	metas    []segmentMeta
	manifest Manifest

	active     *os.File
	activeHash hash.Hash
	head       domain.CommitToken
	closed     bool
}

// Open opens or creates a commit log in cfg.Dir, rebuilding segment
// metadata from disk and resuming the newest unsealed segment.
func Open(cfg Config) (*Log, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("commitlog: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("commitlog: create dir: %w", err)
	}
	if cfg.MaxSegmentBytes == 0 {
		cfg.MaxSegmentBytes = DefaultMaxSegmentBytes
	}
	if cfg.MaxSegmentEntries == 0 {
		cfg.MaxSegmentEntries = DefaultMaxSegmentEntries
	}

	manifest, _, err := loadManifest(cfg.Dir)
	if err != nil {
		return nil, err
	}

	metas, err := scanSegments(cfg.Dir, cfg.Cipher)
	if err != nil {
		return nil, err
	}

	l := &Log{
		cfg:      cfg,
		cipher:   cfg.Cipher,
		metas:    metas,
		manifest: manifest,
	}

	for i := range metas {
		if metas[i].entries > 0 {
			l.head = metas[i].last
		}
	}
	if l.head.Epoch > l.manifest.Epoch {
		l.manifest.Epoch = l.head.Epoch
	}

	if len(l.metas) == 0 || l.metas[len(l.metas)-1].sealed {
		nextID := uint64(1)
		if n := len(l.metas); n > 0 {
			nextID = l.metas[n-1].id + 1
		}
		if err := l.openNewSegmentLocked(nextID); err != nil {
			return nil, err
		}
	} else if err := l.resumeSegmentLocked(); err != nil {
		return nil, err
	}

	return l, nil
}

// Append writes a frame and makes it durable before returning. The frame
// must be the immediate successor of the current head: the next index in
// the same epoch, or index 1 in a newer epoch.
func (l *Log) Append(f domain.LogFrame) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("commitlog: log is closed")
	}
	if err := l.validateSuccessionLocked(f); err != nil {
		return err
	}

	encoded, err := encodeFrame(f, l.cipher)
	if err != nil {
		return err
	}

	meta := &l.metas[len(l.metas)-1]
	if meta.entries > 0 &&
		(meta.dataLen+int64(len(encoded)) > l.cfg.MaxSegmentBytes || meta.entries+1 > l.cfg.MaxSegmentEntries) {
		if err := l.sealActiveLocked(); err != nil {
			return err
		}
		if err := l.openNewSegmentLocked(meta.id + 1); err != nil {
			return err
		}
		meta = &l.metas[len(l.metas)-1]
	}

	n, err := l.active.Write(encoded)
	if n > 0 {
		l.activeHash.Write(encoded[:n])
		meta.dataLen += int64(n)
	}
	if err != nil {
		return fmt.Errorf("commitlog: write frame: %w", err)
	}
	if l.cfg.Fsync {
		if err := l.active.Sync(); err != nil {
			return fmt.Errorf("commitlog: sync: %w", err)
		}
	}

	token := f.Token()
	if meta.entries == 0 {
		meta.first = token
	}
	meta.last = token
	meta.entries++
	l.head = token

	if token.Epoch > l.manifest.Epoch {
		l.manifest.Epoch = token.Epoch
		if err := storeManifest(l.cfg.Dir, l.manifest); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) validateSuccessionLocked(f domain.LogFrame) error {
	if f.Epoch == 0 || f.LogIndex == 0 {
		return domain.ErrInvalidArgument.WithDetails(
			fmt.Sprintf("frame position %d:%d out of range", f.Epoch, f.LogIndex))
	}
	if f.Epoch < l.manifest.Epoch {
		return domain.ErrStalePrimary.WithDetails(
			fmt.Sprintf("frame epoch %d below log epoch %d", f.Epoch, l.manifest.Epoch))
	}

	prev := l.head
	if prev.IsZero() {
		prev = domain.CommitToken{Epoch: l.manifest.TrimmedEpoch, LogIndex: l.manifest.TrimmedLogIndex}
	}
	if prev.IsZero() {
		if f.LogIndex != 1 {
			return domain.ErrInvalidArgument.WithDetails(
				fmt.Sprintf("first frame must carry log index 1, got %d", f.LogIndex))
		}
		return nil
	}
	sameEpochNext := f.Epoch == prev.Epoch && f.LogIndex == prev.LogIndex+1
	newEpochFirst := f.Epoch > prev.Epoch && f.LogIndex == 1
	if !sameEpochNext && !newEpochFirst {
		return domain.ErrInvalidArgument.WithDetails(
			fmt.Sprintf("frame %s does not follow head %s", f.Token(), prev))
	}
	return nil
}

// Head returns the position of the newest frame, if any frame is retained.
func (l *Log) Head() (domain.CommitToken, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head, !l.head.IsZero()
}

// Epoch returns the highest epoch ever recorded.
func (l *Log) Epoch() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.manifest.Epoch
}

// StoreEpoch persists a new fencing epoch before any frame is written
// under it. The epoch may only move forward.
func (l *Log) StoreEpoch(epoch uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if epoch < l.manifest.Epoch {
		return domain.ErrInvalidArgument.WithDetails(
			fmt.Sprintf("epoch %d below recorded epoch %d", epoch, l.manifest.Epoch))
	}
	if epoch == l.manifest.Epoch {
		return nil
	}
	l.manifest.Epoch = epoch
	return storeManifest(l.cfg.Dir, l.manifest)
}

// RetainedFrom returns the position of the oldest retained frame.
func (l *Log) RetainedFrom() (domain.CommitToken, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.metas {
		if l.metas[i].entries > 0 {
			return l.metas[i].first, true
		}
	}
	return domain.CommitToken{}, false
}

// TrimmedThrough returns the position of the newest frame removed by
// retention, or the zero token if nothing was trimmed.
func (l *Log) TrimmedThrough() domain.CommitToken {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.CommitToken{Epoch: l.manifest.TrimmedEpoch, LogIndex: l.manifest.TrimmedLogIndex}
}

// SegmentCount returns the number of segment files, including the active one.
func (l *Log) SegmentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.metas)
}

// EntryCount returns the number of retained frames.
func (l *Log) EntryCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for i := range l.metas {
		total += l.metas[i].entries
	}
	return total
}

// Close seals the active segment.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.sealActiveLocked()
}

func (l *Log) openNewSegmentLocked(id uint64) error {
	path := filepath.Join(l.cfg.Dir, formatSegmentFilename(id))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("commitlog: open segment: %w", err)
	}

	h := sha256.New()
	if _, err := file.Write([]byte(MagicBytes)); err != nil {
		file.Close()
		return fmt.Errorf("commitlog: write magic: %w", err)
	}
	h.Write([]byte(MagicBytes))

	l.active = file
	l.activeHash = h
	l.metas = append(l.metas, segmentMeta{
		id:      id,
		path:    path,
		dataLen: MagicBytesSize,
	})
	return nil
}

// resumeSegmentLocked reopens the newest unsealed segment for appends,
// truncating any torn frame at the tail and rebuilding the running hash.
func (l *Log) resumeSegmentLocked() error {
	meta := &l.metas[len(l.metas)-1]

	ro, err := os.Open(meta.path)
	if err != nil {
		return fmt.Errorf("commitlog: open segment: %w", err)
	}
	goodEnd := int64(MagicBytesSize)
	walkErr := walkFrames(ro, MagicBytesSize, meta.dataLen, l.cipher, func(_ domain.LogFrame, end int64) bool {
		goodEnd = end
		return true
	})
	ro.Close()
	if walkErr != nil && goodEnd == MagicBytesSize && meta.entries > 0 {
		return fmt.Errorf("commitlog: resume segment %s: %w", meta.path, walkErr)
	}

	file, err := os.OpenFile(meta.path, os.O_RDWR, DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("commitlog: reopen segment: %w", err)
	}
	if err := file.Truncate(goodEnd); err != nil {
		file.Close()
		return fmt.Errorf("commitlog: truncate torn tail: %w", err)
	}
	if _, err := file.Seek(goodEnd, 0); err != nil {
		file.Close()
		return fmt.Errorf("commitlog: seek: %w", err)
	}

	h := sha256.New()
	rs, err := os.Open(meta.path)
	if err != nil {
		file.Close()
		return fmt.Errorf("commitlog: rehash segment: %w", err)
	}
	buf := make([]byte, 32*1024)
	var hashed int64
	for hashed < goodEnd {
		want := int64(len(buf))
		if goodEnd-hashed < want {
			want = goodEnd - hashed
		}
		n, rerr := rs.Read(buf[:want])
		if n > 0 {
			h.Write(buf[:n])
			hashed += int64(n)
		}
		if rerr != nil {
			break
		}
	}
	rs.Close()
	if hashed != goodEnd {
		file.Close()
		return fmt.Errorf("commitlog: rehash segment %s: short read", meta.path)
	}

	meta.dataLen = goodEnd
	l.active = file
	l.activeHash = h
	return nil
}

func (l *Log) sealActiveLocked() error {
	if l.active == nil {
		return nil
	}
	checksum := l.activeHash.Sum(nil)
	if _, err := l.active.Write(checksum); err != nil {
		return fmt.Errorf("commitlog: write seal: %w", err)
	}
	if err := l.active.Sync(); err != nil {
		return fmt.Errorf("commitlog: sync seal: %w", err)
	}
	if err := l.active.Close(); err != nil {
		return fmt.Errorf("commitlog: close segment: %w", err)
	}
	l.active = nil
	l.activeHash = nil
	l.metas[len(l.metas)-1].sealed = true
	return nil
}
