package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/kitedb/kitesync/internal/core/domain"
	"github.com/kitedb/kitesync/internal/storage"
	"github.com/kitedb/kitesync/internal/storage/commitlog"
	"github.com/kitedb/kitesync/internal/storage/snapshot"
	"github.com/kitedb/kitesync/internal/telemetry/logger"
	"github.com/kitedb/kitesync/internal/telemetry/metric"
	"github.com/kitedb/kitesync/internal/transport"
	"github.com/kitedb/kitesync/pkg/cmap"
	"github.com/kitedb/kitesync/pkg/crypto/adaptive"
)

const (
	// DefaultMaxPageFrames bounds a log page when the caller supplies
	// no frame budget.
	DefaultMaxPageFrames = 512

	// DefaultMaxPageBytes bounds a log page when the caller supplies
	// no byte budget.
	DefaultMaxPageBytes = int64(4 << 20)

	progressFilename = "replicas.json"
)

// PrimaryConfig holds construction parameters for a Primary.
type PrimaryConfig struct {
	// NodeID identifies this node in snapshots and logs.
	NodeID string

	// DataDir is the root directory for the commit log, snapshots and
	// progress sidecar.
	DataDir string

	// Store is the replicated record store mutations apply to.
	Store storage.RecordStore

	// Cipher optionally encrypts log payloads and snapshot data at rest.
	Cipher adaptive.Cipher

	// MaxSegmentBytes / MaxSegmentEntries bound log segment rotation.
	// Zero values use the commit log defaults.
	MaxSegmentBytes   int64
	MaxSegmentEntries int

	// MinRetainEntries is the retention safeguard: RunRetention never
	// trims the log below this many entries.
	MinRetainEntries int

	// RetentionFloor is a log index (in the current epoch) below which
	// frames may be trimmed even when a replica still reports an older
	// position. Zero disables the floor, so retention is bounded purely
	// by the slowest replica.
	RetentionFloor uint64

	// SnapshotRetention is the number of checkpoint snapshots kept by
	// Prune. Zero uses the snapshot manager default.
	SnapshotRetention int

	Metrics *metric.Metrics
	Logger  logger.Logger
}

// Primary coordinates the write side of replication: it orders
// mutations into the commit log, mints commit tokens, tracks replica
// progress, trims the log and serves transport exports.
//
// A single mutex serializes commits, promotion and retention. Reads
// of exported state take the same mutex so snapshots observe a commit
// boundary, never a half-applied mutation.
type Primary struct {
	nodeID    string
	store     storage.RecordStore
	log       *commitlog.Log
	snapshots *snapshot.Manager
	metrics   *metric.Metrics
	logger    logger.Logger

	mu       sync.Mutex
	epoch    uint64
	closed   bool
	minKeep  int
	floor    uint64
	progress *cmap.Map[string, domain.ReplicaProgress]

	progressPath string
}

// NewPrimary opens the commit log and snapshot store under
// cfg.DataDir and recovers the record store to the committed head:
// newest valid snapshot first, then replay of every frame above it.
func NewPrimary(cfg PrimaryConfig) (*Primary, error) {
	if cfg.DataDir == "" {
		return nil, domain.ErrConfiguration.WithDetails("data dir is required")
	}
	if cfg.Store == nil {
		return nil, domain.ErrConfiguration.WithDetails("record store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.NewMetrics()
	}
	if cfg.MinRetainEntries <= 0 {
		cfg.MinRetainEntries = commitlog.DefaultMinRetainEntries
	}

	logCfg := commitlog.DefaultConfig(filepath.Join(cfg.DataDir, "log"))
	logCfg.Cipher = cfg.Cipher
	if cfg.MaxSegmentBytes > 0 {
		logCfg.MaxSegmentBytes = cfg.MaxSegmentBytes
	}
	if cfg.MaxSegmentEntries > 0 {
		logCfg.MaxSegmentEntries = cfg.MaxSegmentEntries
	}
	commitLog, err := commitlog.Open(logCfg)
	if err != nil {
		return nil, err
	}

	snapCfg := snapshot.DefaultConfig(filepath.Join(cfg.DataDir, "snapshots"))
	snapCfg.Cipher = cfg.Cipher
	snapCfg.NodeID = cfg.NodeID
	if cfg.SnapshotRetention > 0 {
		snapCfg.RetentionCount = cfg.SnapshotRetention
	}
	snapshots, err := snapshot.NewManager(snapCfg)
	if err != nil {
		commitLog.Close()
		return nil, err
	}

	p := &Primary{
		nodeID:       cfg.NodeID,
		store:        cfg.Store,
		log:          commitLog,
		snapshots:    snapshots,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With("component", "primary", "node_id", cfg.NodeID),
		epoch:        commitLog.Epoch(),
		minKeep:      cfg.MinRetainEntries,
		floor:        cfg.RetentionFloor,
		progress:     cmap.New[string, domain.ReplicaProgress](),
		progressPath: filepath.Join(cfg.DataDir, progressFilename),
	}

	if err := p.recover(context.Background()); err != nil {
		commitLog.Close()
		return nil, err
	}
	if err := p.loadProgress(); err != nil {
		commitLog.Close()
		return nil, err
	}

	head, _ := commitLog.Head()
	p.metrics.HeadEpoch.Set(float64(p.epoch))
	p.metrics.HeadLogIndex.Set(float64(head.LogIndex))
	p.logger.Info("primary recovered",
		"epoch", p.epoch,
		"head", head.String(),
		"entries", commitLog.EntryCount())

	return p, nil
}

// recover restores the record store: newest valid snapshot, then
// replay of commit log frames above the snapshot position.
func (p *Primary) recover(ctx context.Context) error {
	var replayFrom commitlog.Position

	state, info, err := p.snapshots.Load()
	switch {
	case err == nil:
		if err := p.store.Import(ctx, state); err != nil {
			return domain.ErrStorageError.
				WithDetails("install recovery snapshot").
				WithCause(err)
		}
		snapToken := domain.CommitToken{Epoch: info.Epoch, LogIndex: info.HeadLogIndex}
		pos, _, perr := p.log.PositionAfter(snapToken)
		if perr != nil {
			return perr
		}
		replayFrom = pos
	case errors.Is(err, snapshot.ErrNoSnapshots):
		if err := p.store.Reset(ctx); err != nil {
			return domain.ErrStorageError.
				WithDetails("reset store before replay").
				WithCause(err)
		}
	default:
		return domain.ErrStorageError.
			WithDetails("load recovery snapshot").
			WithCause(err)
	}

	replayed := 0
	for {
		page, err := p.log.ReadPage(replayFrom, DefaultMaxPageFrames, 0)
		if err != nil {
			return err
		}
		for _, frame := range page.Frames {
			if err := p.store.Apply(ctx, frame.Payload); err != nil {
				return domain.ErrStorageError.
					WithDetails(fmt.Sprintf("replay frame %s", frame.Token())).
					WithCause(err)
			}
			replayed++
		}
		replayFrom = page.Next
		if !page.HasMore {
			break
		}
	}
	if replayed > 0 {
		p.logger.Info("replayed commit log", "frames", replayed)
	}
	return nil
}

// ============================================================================
// Commit path
// ============================================================================

// Tx is a commit handle pinned to the epoch it was opened under. A
// promotion between Begin and Commit fences the transaction.
type Tx struct {
	p     *Primary
	epoch uint64
}

// Begin opens a commit handle under the current epoch.
func (p *Primary) Begin(ctx context.Context) (*Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, domain.ErrInternalServer.WithDetails("primary is closed")
	}
	return &Tx{p: p, epoch: p.epoch}, nil
}

// Commit appends the payload to the commit log, applies it to the
// record store and returns the minted commit token. It fails with
// ErrStalePrimary when a promotion happened after Begin.
func (t *Tx) Commit(ctx context.Context, payload []byte) (domain.CommitToken, error) {
	p := t.p
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return domain.CommitToken{}, domain.ErrInternalServer.WithDetails("primary is closed")
	}
	if t.epoch != p.epoch {
		return domain.CommitToken{}, domain.ErrStalePrimary.WithDetails(
			fmt.Sprintf("transaction epoch %d, current epoch %d", t.epoch, p.epoch))
	}

	token := p.nextTokenLocked()
	frame := domain.LogFrame{
		Epoch:    token.Epoch,
		LogIndex: token.LogIndex,
		Payload:  payload,
		ByteSize: len(payload),
	}
	if err := p.log.Append(frame); err != nil {
		return domain.CommitToken{}, err
	}
	if err := p.store.Apply(ctx, payload); err != nil {
		// The frame is durable; recovery replays it on restart.
		return domain.CommitToken{}, domain.ErrStorageError.
			WithDetails(fmt.Sprintf("apply committed frame %s", token)).
			WithCause(err)
	}

	p.metrics.CommitsTotal.Inc()
	p.metrics.CommitBytesTotal.Add(float64(len(payload)))
	p.metrics.HeadEpoch.Set(float64(token.Epoch))
	p.metrics.HeadLogIndex.Set(float64(token.LogIndex))
	return token, nil
}

// nextTokenLocked mints the next commit token. The log index restarts
// at 1 whenever the head precedes the current epoch.
func (p *Primary) nextTokenLocked() domain.CommitToken {
	head, ok := p.log.Head()
	if ok && head.Epoch == p.epoch {
		return domain.CommitToken{Epoch: p.epoch, LogIndex: head.LogIndex + 1}
	}
	return domain.CommitToken{Epoch: p.epoch, LogIndex: 1}
}

// Commit is a convenience for single-shot commits.
func (p *Primary) Commit(ctx context.Context, payload []byte) (domain.CommitToken, error) {
	tx, err := p.Begin(ctx)
	if err != nil {
		return domain.CommitToken{}, err
	}
	return tx.Commit(ctx, payload)
}

// PromoteToNextEpoch advances the epoch by one and persists it. Every
// transaction opened under an older epoch fails from this point on.
func (p *Primary) PromoteToNextEpoch(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, domain.ErrInternalServer.WithDetails("primary is closed")
	}

	next := p.epoch + 1
	if err := p.log.StoreEpoch(next); err != nil {
		return 0, err
	}
	p.epoch = next
	p.metrics.Promotions.Inc()
	p.metrics.HeadEpoch.Set(float64(next))
	p.logger.Info("promoted to new epoch", "epoch", next)
	return next, nil
}

// ============================================================================
// Replica progress and retention
// ============================================================================

// ReportReplicaProgress records how far a replica has applied. Reports
// ahead of the committed head are rejected; reports behind the stored
// mark are ignored so progress never regresses.
func (p *Primary) ReportReplicaProgress(ctx context.Context, replicaID string, token domain.CommitToken) error {
	if replicaID == "" {
		return domain.ErrMissingArgument.WithDetails("replica_id is required")
	}

	p.mu.Lock()
	head, hasHead := p.log.Head()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return domain.ErrInternalServer.WithDetails("primary is closed")
	}
	if !hasHead && !token.IsZero() {
		return domain.ErrProgressAhead.WithDetails(
			fmt.Sprintf("reported %s but nothing committed yet", token))
	}
	if hasHead && head.Before(token) {
		return domain.ErrProgressAhead.WithDetails(
			fmt.Sprintf("reported %s beyond head %s", token, head))
	}

	report := domain.ReplicaProgress{
		ReplicaID: replicaID,
		Epoch:     token.Epoch,
		LogIndex:  token.LogIndex,
	}
	p.progress.Update(replicaID, func(current domain.ReplicaProgress, exists bool) domain.ReplicaProgress {
		if exists && token.Before(current.Position()) {
			return current
		}
		return report
	})

	if hasHead {
		stored, _ := p.progress.Get(replicaID)
		p.metrics.ReplicaLag.WithLabelValues(replicaID).Set(lagEntries(head, stored.Position()))
	}
	return p.saveProgress()
}

// lagEntries approximates the entry distance between the head and a
// replica position. Across epochs the log index distance is an upper
// bound, which is what the gauge is for.
func lagEntries(head, applied domain.CommitToken) float64 {
	if !applied.Before(head) {
		return 0
	}
	if head.LogIndex >= applied.LogIndex {
		return float64(head.LogIndex - applied.LogIndex)
	}
	return float64(head.LogIndex)
}

// RunRetention trims whole log segments below the slowest replica's
// progress, raised to the configured floor, never keeping fewer than
// the minimum retained entries. With no registered replicas nothing
// is trimmed.
func (p *Primary) RunRetention(ctx context.Context) (domain.RetentionOutcome, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return domain.RetentionOutcome{}, domain.ErrInternalServer.WithDetails("primary is closed")
	}
	epoch := p.epoch
	p.mu.Unlock()

	progress, ok := p.minProgress()
	if !ok {
		return p.retentionOutcome(0), nil
	}

	// Frames at the minimum progress stay retained, so the trim bound
	// is the position just before it. The floor raises the bound past
	// slow replicas when configured.
	bound, trimmable := trimBoundBefore(progress)
	if p.floor > 1 {
		floorBound := domain.CommitToken{Epoch: epoch, LogIndex: p.floor - 1}
		if !trimmable || bound.Before(floorBound) {
			bound = floorBound
			trimmable = true
		}
	}
	if !trimmable {
		return p.retentionOutcome(0), nil
	}

	pruned, err := p.log.TrimBelow(bound, p.minKeep)
	if err != nil {
		return domain.RetentionOutcome{}, err
	}
	if pruned > 0 {
		p.metrics.PrunedSegments.Add(float64(pruned))
		p.logger.Info("retention pruned segments",
			"segments", pruned,
			"bound", bound.String())
	}
	return p.retentionOutcome(pruned), nil
}

// trimBoundBefore returns the highest token strictly below t. The
// first index of an epoch has no nameable predecessor across the
// epoch boundary, so nothing is trimmable from that report alone.
func trimBoundBefore(t domain.CommitToken) (domain.CommitToken, bool) {
	if t.LogIndex > 1 {
		return domain.CommitToken{Epoch: t.Epoch, LogIndex: t.LogIndex - 1}, true
	}
	return domain.CommitToken{}, false
}

func (p *Primary) retentionOutcome(pruned int) domain.RetentionOutcome {
	outcome := domain.RetentionOutcome{PrunedSegments: pruned}
	if retained, ok := p.log.RetainedFrom(); ok {
		outcome.RetainedFrom = retained.LogIndex
	}
	return outcome
}

// minProgress returns the slowest replica position, if any replica
// has reported.
func (p *Primary) minProgress() (domain.CommitToken, bool) {
	var (
		min   domain.CommitToken
		found bool
	)
	p.progress.Range(func(_ string, rp domain.ReplicaProgress) bool {
		pos := rp.Position()
		if !found || pos.Before(min) {
			min = pos
			found = true
		}
		return true
	})
	return min, found
}

// ============================================================================
// Transport exports
// ============================================================================

// ExportSnapshot produces a full state transfer pinned at the current
// head. The export is persisted as a checkpoint before it is served.
// With includeData false the state bytes are omitted from the result,
// for callers probing snapshot metadata.
func (p *Primary) ExportSnapshot(ctx context.Context, includeData bool) (*transport.Snapshot, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, domain.ErrInternalServer.WithDetails("primary is closed")
	}
	head, _ := p.log.Head()
	if head.IsZero() {
		head = domain.CommitToken{Epoch: p.epoch}
	}
	state, err := p.store.Export(ctx)
	if err != nil {
		p.mu.Unlock()
		return nil, domain.ErrStorageError.WithDetails("export store state").WithCause(err)
	}
	count, err := p.store.Count(ctx)
	if err != nil {
		p.mu.Unlock()
		return nil, domain.ErrStorageError.WithDetails("count records").WithCause(err)
	}
	p.mu.Unlock()

	info, err := p.snapshots.Create(state, head.Epoch, head.LogIndex, count)
	if err != nil {
		return nil, domain.ErrTransientIO.WithDetails("persist snapshot").WithCause(err)
	}
	p.metrics.SnapshotExports.Inc()

	snap := &transport.Snapshot{
		SnapshotID:  info.ID,
		Token:       head.String(),
		RecordCount: count,
	}
	if includeData {
		snap.State = state
	}
	return snap, nil
}

// Checkpoint persists a snapshot of the current state and prunes old
// checkpoint files. Used by the periodic checkpoint loop.
func (p *Primary) Checkpoint(ctx context.Context) error {
	if _, err := p.ExportSnapshot(ctx, false); err != nil {
		return err
	}
	return p.snapshots.Prune()
}

// ExportLogPage serves one page of the commit log for a replica pull.
// An empty cursor starts at the oldest retained frame. The returned
// page carries a next cursor exactly when more frames were available
// at read time.
func (p *Primary) ExportLogPage(ctx context.Context, req transport.LogPageRequest) (*transport.LogPage, error) {
	var pos commitlog.Position
	if req.Cursor != "" {
		cursor, err := transport.DecodeCursor(req.Cursor)
		if err != nil {
			return nil, err
		}
		pos = commitlog.Position{SegmentID: cursor.SegmentID, Offset: cursor.Offset}
	}

	maxFrames := req.MaxFrames
	if maxFrames <= 0 {
		maxFrames = DefaultMaxPageFrames
	}
	maxBytes := req.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPageBytes
	}

	page, err := p.log.ReadPage(pos, maxFrames, maxBytes)
	if err != nil {
		return nil, err
	}

	out := &transport.LogPage{
		Frames: transport.FramesFromDomain(page.Frames, req.WantPayload()),
	}
	var pageBytes int
	for _, frame := range page.Frames {
		pageBytes += frame.ByteSize
	}
	p.metrics.TransportPages.Inc()
	p.metrics.TransportBytes.Add(float64(pageBytes))

	if page.HasMore {
		last := transport.Cursor{SegmentID: page.Next.SegmentID, Offset: page.Next.Offset}
		if n := len(page.Frames); n > 0 {
			last.Epoch = page.Frames[n-1].Epoch
			last.LogIndex = page.Frames[n-1].LogIndex
		}
		encoded, err := last.Encode()
		if err != nil {
			return nil, err
		}
		out.NextCursor = &encoded
	}
	return out, nil
}

// ============================================================================
// Status
// ============================================================================

// Status reports the primary's replication state.
func (p *Primary) Status(ctx context.Context) domain.PrimaryStatus {
	p.mu.Lock()
	epoch := p.epoch
	head, hasHead := p.log.Head()
	p.mu.Unlock()

	status := domain.PrimaryStatus{
		Role:         "primary",
		Epoch:        epoch,
		SegmentCount: p.log.SegmentCount(),
	}
	if hasHead {
		status.HeadLogIndex = head.LogIndex
		status.LastCommitToken = head.String()
	}
	if retained, ok := p.log.RetainedFrom(); ok {
		status.RetainedFrom = retained.LogIndex
	}

	p.progress.Range(func(_ string, rp domain.ReplicaProgress) bool {
		status.ReplicaLags = append(status.ReplicaLags, rp)
		return true
	})
	sortReplicaLags(status.ReplicaLags)
	return status
}

// Close seals the active log segment and releases the log. The record
// store stays open; its owner closes it.
func (p *Primary) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.log.Close()
}

// ============================================================================
// Progress persistence
// ============================================================================

type progressFile struct {
	Replicas map[string]string `json:"replicas"`
}

func (p *Primary) loadProgress() error {
	data, err := os.ReadFile(p.progressPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return domain.ErrTransientIO.WithDetails("read replica progress").WithCause(err)
	}
	var pf progressFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return domain.ErrTransientIO.WithDetails("decode replica progress").WithCause(err)
	}
	for id, raw := range pf.Replicas {
		token, err := domain.ParseCommitToken(raw)
		if err != nil {
			return domain.ErrTransientIO.WithDetails(
				fmt.Sprintf("replica %s has malformed progress %q", id, raw)).WithCause(err)
		}
		p.progress.Set(id, domain.ReplicaProgress{
			ReplicaID: id,
			Epoch:     token.Epoch,
			LogIndex:  token.LogIndex,
		})
	}
	return nil
}

func (p *Primary) saveProgress() error {
	pf := progressFile{Replicas: make(map[string]string)}
	p.progress.Range(func(id string, rp domain.ReplicaProgress) bool {
		pf.Replicas[id] = rp.Position().String()
		return true
	})
	data, err := json.Marshal(pf)
	if err != nil {
		return domain.ErrInternalServer.WithCause(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.progressPath), "replicas-*.tmp")
	if err != nil {
		return domain.ErrTransientIO.WithDetails("write replica progress").WithCause(err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return domain.ErrTransientIO.WithDetails("write replica progress").WithCause(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return domain.ErrTransientIO.WithDetails("sync replica progress").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return domain.ErrTransientIO.WithDetails("close replica progress").WithCause(err)
	}
	if err := os.Rename(tmpPath, p.progressPath); err != nil {
		os.Remove(tmpPath)
		return domain.ErrTransientIO.WithDetails("replace replica progress").WithCause(err)
	}
	return nil
}

func sortReplicaLags(lags []domain.ReplicaProgress) {
	sort.Slice(lags, func(i, j int) bool {
		return lags[i].ReplicaID < lags[j].ReplicaID
	})
}
