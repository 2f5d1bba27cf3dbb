package commitlog

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/kitedb/kitesync/internal/core/domain"
	"github.com/kitedb/kitesync/pkg/crypto/adaptive"
)

// File format constants.
const (
	FilePrefix      = "seg-"
	FileExtension   = ".log"
	MagicBytes      = "KITELOG\x01"
	MagicBytesSize  = 8
	ChecksumSize    = 32
	DefaultFilePerm = 0600
	DefaultDirPerm  = 0750
)

var (
	ErrCorruptedFrame   = errors.New("commitlog: corrupted frame")
	ErrChecksumMismatch = errors.New("commitlog: checksum mismatch")
	errInvalidMagic     = errors.New("commitlog: invalid magic bytes")
)

// segmentMeta is the in-memory index entry for one segment file.
// First/Last are the commit positions of the first and last frames;
// both are zero for an empty (just-opened) segment.
type segmentMeta struct {
	id      uint64
	path    string
	first   domain.CommitToken
	last    domain.CommitToken
	entries int
	sealed  bool
	dataLen int64 // bytes excluding the seal trailer
}

func formatSegmentFilename(segmentID uint64) string {
	return fmt.Sprintf("%s%08d%s", FilePrefix, segmentID, FileExtension)
}

func parseSegmentFilename(name string) (uint64, bool) {
	if len(name) < len(FilePrefix)+len(FileExtension) {
		return 0, false
	}
	if name[:len(FilePrefix)] != FilePrefix || name[len(name)-len(FileExtension):] != FileExtension {
		return 0, false
	}
	var id uint64
	_, err := fmt.Sscanf(name, FilePrefix+"%d"+FileExtension, &id)
	return id, err == nil
}

// scanSegments builds segment metadata by reading every segment file in dir,
// oldest first. Frames after a corruption point in the newest segment are
// discarded; corruption in an older, sealed segment is an error.
func scanSegments(dir string, cipher adaptive.Cipher) ([]segmentMeta, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("commitlog: read dir: %w", err)
	}

	var metas []segmentMeta
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := parseSegmentFilename(e.Name())
		if !ok {
			continue
		}
		metas = append(metas, segmentMeta{id: id, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].id < metas[j].id })

	for i := range metas {
		if err := readSegmentMeta(&metas[i], cipher); err != nil {
			return nil, err
		}
	}
	return metas, nil
}

func readSegmentMeta(meta *segmentMeta, cipher adaptive.Cipher) error {
	f, err := os.Open(meta.path)
	if err != nil {
		return fmt.Errorf("commitlog: open segment: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("commitlog: stat segment: %w", err)
	}

	sealed, dataLen, err := verifySealTrailer(f, stat.Size())
	if err != nil {
		return err
	}
	meta.sealed = sealed
	meta.dataLen = dataLen

	err = walkFrames(f, MagicBytesSize, dataLen, cipher, func(frame domain.LogFrame, _ int64) bool {
		if meta.entries == 0 {
			meta.first = frame.Token()
		}
		meta.last = frame.Token()
		meta.entries++
		return true
	})
	if err != nil {
		if sealed {
			return fmt.Errorf("commitlog: sealed segment %s damaged: %w", meta.path, err)
		}
		// Unsealed tail segment: frames after the corruption point are lost.
		return nil
	}
	return nil
}

// walkFrames streams frames from offset start up to limit, invoking fn with
// each decoded frame and the byte offset immediately after it. fn returning
// false stops the walk.
func walkFrames(f *os.File, start, limit int64, cipher adaptive.Cipher, fn func(frame domain.LogFrame, end int64) bool) error {
	if start < MagicBytesSize {
		magic := make([]byte, MagicBytesSize)
		if _, err := io.ReadFull(io.NewSectionReader(f, 0, MagicBytesSize), magic); err != nil {
			return fmt.Errorf("commitlog: read magic: %w", err)
		}
		if string(magic) != MagicBytes {
			return errInvalidMagic
		}
		start = MagicBytesSize
	}
	if start >= limit {
		return nil
	}

	r := bufio.NewReader(io.NewSectionReader(f, start, limit-start))
	pos := start
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return ErrCorruptedFrame
		}
		length := binary.BigEndian.Uint32(lenBuf[:])
		if length < frameFixedLen {
			return ErrCorruptedFrame
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(r, raw); err != nil {
			return ErrCorruptedFrame
		}
		frame, err := decodeFrame(raw, cipher)
		if err != nil {
			return err
		}
		pos += int64(lenFieldSize) + int64(length)
		if !fn(frame, pos) {
			return nil
		}
	}
}

// verifySealTrailer reports whether the file ends in a valid sha256 seal.
// dataLen is the frame data length excluding any trailer.
func verifySealTrailer(f *os.File, size int64) (sealed bool, dataLen int64, err error) {
	if size < MagicBytesSize {
		return false, size, nil
	}

	magic := make([]byte, MagicBytesSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, MagicBytesSize), magic); err != nil {
		return false, 0, fmt.Errorf("commitlog: read magic: %w", err)
	}
	if string(magic) != MagicBytes {
		return false, 0, errInvalidMagic
	}

	if size < MagicBytesSize+ChecksumSize {
		return false, size, nil
	}

	trailer := make([]byte, ChecksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, size-ChecksumSize, ChecksumSize), trailer); err != nil {
		return false, 0, fmt.Errorf("commitlog: read seal trailer: %w", err)
	}

	h := sha256.New()
	dataLen = size - ChecksumSize
	if _, err := io.CopyN(h, io.NewSectionReader(f, 0, dataLen), dataLen); err != nil {
		return false, 0, fmt.Errorf("commitlog: hash: %w", err)
	}
	if !bytes.Equal(h.Sum(nil), trailer) {
		return false, size, nil
	}
	return true, dataLen, nil
}
