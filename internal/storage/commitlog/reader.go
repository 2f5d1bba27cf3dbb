package commitlog

import (
	"fmt"
	"os"

	"github.com/kitedb/kitesync/internal/core/domain"
)

// Position addresses a byte offset inside a segment file. The zero value
// means "start of the oldest retained frame".
type Position struct {
	SegmentID uint64
	Offset    int64
}

// IsZero reports whether p is the start-of-log position.
func (p Position) IsZero() bool {
	return p.SegmentID == 0 && p.Offset == 0
}

// Page is one budget-bounded slice of the log.
type Page struct {
	Frames []domain.LogFrame
	Next   Position
	// HasMore reports whether frames exist past Next at read time.
	HasMore bool
}

// ReadPage reads frames starting at pos, honoring both budgets.
// maxFrames <= 0 means unlimited frames, maxBytes <= 0 means unlimited
// bytes. A frame that alone exceeds the byte budget is still returned
// when it is the first frame of the page, so a reader always advances.
func (l *Log) ReadPage(pos Position, maxFrames int, maxBytes int64) (Page, error) {
	l.mu.Lock()
	metas := make([]segmentMeta, len(l.metas))
	copy(metas, l.metas)
	cipher := l.cipher
	l.mu.Unlock()

	if len(metas) == 0 {
		return Page{Next: pos}, nil
	}

	start, err := resolvePosition(metas, pos)
	if err != nil {
		return Page{}, err
	}

	page := Page{Next: start}
	var pageBytes int64

	for i := segmentIndex(metas, page.Next.SegmentID); i < len(metas); i++ {
		meta := metas[i]
		offset := int64(MagicBytesSize)
		if meta.id == page.Next.SegmentID && page.Next.Offset > offset {
			offset = page.Next.Offset
		}
		if offset >= meta.dataLen {
			page.Next = Position{SegmentID: meta.id, Offset: meta.dataLen}
			continue
		}

		f, err := os.Open(meta.path)
		if err != nil {
			return Page{}, fmt.Errorf("commitlog: open segment: %w", err)
		}
		budgetHit := false
		err = walkFrames(f, offset, meta.dataLen, cipher, func(frame domain.LogFrame, end int64) bool {
			if maxFrames > 0 && len(page.Frames) >= maxFrames {
				budgetHit = true
				return false
			}
			if maxBytes > 0 && len(page.Frames) > 0 && pageBytes+int64(frame.ByteSize) > maxBytes {
				budgetHit = true
				return false
			}
			page.Frames = append(page.Frames, frame)
			pageBytes += int64(frame.ByteSize)
			page.Next = Position{SegmentID: meta.id, Offset: end}
			return true
		})
		f.Close()
		if err != nil {
			return Page{}, err
		}
		if budgetHit {
			page.HasMore = true
			return page, nil
		}
		page.Next = Position{SegmentID: meta.id, Offset: meta.dataLen}
	}
	return page, nil
}

// PositionAfter returns the position of the first frame ordered after
// token. It fails with ErrReseedRequired when that frame was already
// removed by retention. The boolean reports whether such a frame exists
// yet; when it does not, the returned position is the current end of log.
func (l *Log) PositionAfter(token domain.CommitToken) (Position, bool, error) {
	l.mu.Lock()
	metas := make([]segmentMeta, len(l.metas))
	copy(metas, l.metas)
	trimmed := domain.CommitToken{Epoch: l.manifest.TrimmedEpoch, LogIndex: l.manifest.TrimmedLogIndex}
	cipher := l.cipher
	l.mu.Unlock()

	if token.Compare(trimmed) < 0 {
		return Position{}, false, domain.ErrReseedRequired.WithDetails(
			fmt.Sprintf("position %s below retained boundary %s", token, trimmed))
	}

	end := Position{}
	if n := len(metas); n > 0 {
		end = Position{SegmentID: metas[n-1].id, Offset: metas[n-1].dataLen}
	}

	for _, meta := range metas {
		if meta.entries == 0 || meta.last.Compare(token) <= 0 {
			continue
		}
		var (
			found Position
			prev  = int64(MagicBytesSize)
			hit   bool
		)
		f, err := os.Open(meta.path)
		if err != nil {
			return Position{}, false, fmt.Errorf("commitlog: open segment: %w", err)
		}
		werr := walkFrames(f, MagicBytesSize, meta.dataLen, cipher, func(frame domain.LogFrame, endOff int64) bool {
			if frame.Token().Compare(token) > 0 {
				found = Position{SegmentID: meta.id, Offset: prev}
				hit = true
				return false
			}
			prev = endOff
			return true
		})
		f.Close()
		if werr != nil {
			return Position{}, false, werr
		}
		if hit {
			return found, true, nil
		}
	}
	return end, false, nil
}

// resolvePosition normalizes a caller-supplied position against the
// current segment set. A zero position resolves to the oldest retained
// segment; a position in a trimmed segment is no longer serveable.
func resolvePosition(metas []segmentMeta, pos Position) (Position, error) {
	if pos.IsZero() {
		return Position{SegmentID: metas[0].id, Offset: MagicBytesSize}, nil
	}
	if pos.SegmentID < metas[0].id {
		return Position{}, domain.ErrReseedRequired.WithDetails(
			fmt.Sprintf("segment %d removed by retention", pos.SegmentID))
	}
	if pos.SegmentID > metas[len(metas)-1].id {
		return Position{}, domain.ErrInvalidArgument.WithDetails(
			fmt.Sprintf("segment %d beyond end of log", pos.SegmentID))
	}
	if pos.Offset < MagicBytesSize {
		pos.Offset = MagicBytesSize
	}
	return pos, nil
}

func segmentIndex(metas []segmentMeta, id uint64) int {
	for i := range metas {
		if metas[i].id >= id {
			return i
		}
	}
	return len(metas)
}
