package commitlog

import (
	"fmt"
	"os"

	"github.com/kitedb/kitesync/internal/core/domain"
)

// DefaultMinRetainEntries is the retention safeguard: trimming never
// drops the retained frame count below this.
const DefaultMinRetainEntries = 2

// TrimBelow removes whole segments whose every frame is positioned at or
// before bound. The active segment is never removed, and at least
// minRetainEntries frames always survive. Returns the number of segments
// removed.
func (l *Log) TrimBelow(bound domain.CommitToken, minRetainEntries int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, fmt.Errorf("commitlog: log is closed")
	}
	if minRetainEntries < 0 {
		minRetainEntries = 0
	}

	total := 0
	for i := range l.metas {
		total += l.metas[i].entries
	}

	// The last segment is the active one and always stays.
	cut := 0
	remaining := total
	for cut < len(l.metas)-1 {
		meta := l.metas[cut]
		if meta.entries > 0 && meta.last.Compare(bound) > 0 {
			break
		}
		if remaining-meta.entries < minRetainEntries {
			break
		}
		remaining -= meta.entries
		cut++
	}
	if cut == 0 {
		return 0, nil
	}

	// Persist the boundary before unlinking so a crash mid-trim is
	// indistinguishable from a completed trim.
	newest := l.manifest
	for i := 0; i < cut; i++ {
		if l.metas[i].entries > 0 {
			newest.TrimmedEpoch = l.metas[i].last.Epoch
			newest.TrimmedLogIndex = l.metas[i].last.LogIndex
		}
	}
	if err := storeManifest(l.cfg.Dir, newest); err != nil {
		return 0, err
	}
	l.manifest = newest

	for i := 0; i < cut; i++ {
		if err := os.Remove(l.metas[i].path); err != nil {
			return i, fmt.Errorf("commitlog: remove segment: %w", err)
		}
	}
	l.metas = l.metas[cut:]
	return cut, nil
}
