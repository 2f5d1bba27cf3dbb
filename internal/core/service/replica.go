package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kitedb/kitesync/internal/core/domain"
	"github.com/kitedb/kitesync/internal/storage"
	"github.com/kitedb/kitesync/internal/telemetry/logger"
	"github.com/kitedb/kitesync/internal/telemetry/metric"
	"github.com/kitedb/kitesync/internal/transport"
)

const (
	// waitPollInterval is the cadence WaitForToken re-checks the
	// applied position under its deadline.
	waitPollInterval = 10 * time.Millisecond

	cursorFilename = "replica-cursor.json"
)

// ReplicaConfig holds construction parameters for a Replica.
type ReplicaConfig struct {
	// NodeID identifies this replica in progress reports.
	NodeID string

	// DataDir holds the durable cursor sidecar.
	DataDir string

	// Store is the local record store snapshot and frames apply to.
	Store storage.RecordStore

	// Source is the primary the replica pulls from.
	Source transport.Source

	Metrics *metric.Metrics
	Logger  logger.Logger
}

// Replica drives the pull side of replication. It starts
// uninitialized, installs a snapshot to begin tailing, applies log
// pages in strict order and degrades to needing a reseed when it
// observes a gap or falls behind the primary's retained window.
type Replica struct {
	nodeID     string
	store      storage.RecordStore
	source     transport.Source
	sourceName string
	metrics    *metric.Metrics
	logger     logger.Logger

	mu      sync.Mutex
	state   domain.ReplicaState
	applied domain.CommitToken
	cursor  string
	lastErr string

	cursorPath string
}

// NewReplica creates a replica. When a durable cursor from a previous
// run exists it is restored, so a replica backed by a durable store
// resumes tailing without a fresh bootstrap.
func NewReplica(cfg ReplicaConfig) (*Replica, error) {
	if cfg.NodeID == "" {
		return nil, domain.ErrConfiguration.WithDetails("node id is required")
	}
	if cfg.DataDir == "" {
		return nil, domain.ErrConfiguration.WithDetails("data dir is required")
	}
	if cfg.Store == nil {
		return nil, domain.ErrConfiguration.WithDetails("record store is required")
	}
	if cfg.Source == nil {
		return nil, domain.ErrConfiguration.WithDetails("transport source is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.NewMetrics()
	}
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, domain.ErrTransientIO.WithDetails("create data dir").WithCause(err)
	}

	r := &Replica{
		nodeID:     cfg.NodeID,
		store:      cfg.Store,
		source:     cfg.Source,
		sourceName: "local",
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With("component", "replica", "node_id", cfg.NodeID),
		state:      domain.ReplicaUninitialized,
		cursorPath: filepath.Join(cfg.DataDir, cursorFilename),
	}
	if named, ok := cfg.Source.(interface{ BaseURL() string }); ok {
		r.sourceName = named.BaseURL()
	}
	if err := r.loadCursor(); err != nil {
		return nil, err
	}
	return r, nil
}

// BootstrapFromSnapshot installs a full state transfer from the
// source. It is the only way out of the uninitialized state, and is
// valid only when uninitialized or needing a reseed.
func (r *Replica) BootstrapFromSnapshot(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case domain.ReplicaClosed:
		r.mu.Unlock()
		return domain.ErrReplicaClosed
	case domain.ReplicaUninitialized, domain.ReplicaNeedsReseed:
	default:
		state := r.state
		r.mu.Unlock()
		return domain.ErrInvalidArgument.WithDetails(
			fmt.Sprintf("bootstrap is not valid from state %s", state))
	}
	prev := r.state
	r.state = domain.ReplicaBootstrapping
	r.mu.Unlock()

	if err := r.installSnapshot(ctx); err != nil {
		r.setError(prev, err)
		return err
	}
	return nil
}

// ReseedFromSnapshot discards local progress and reinstalls from a
// fresh snapshot. It is the recovery path out of needs_reseed.
func (r *Replica) ReseedFromSnapshot(ctx context.Context) error {
	r.mu.Lock()
	if r.state == domain.ReplicaClosed {
		r.mu.Unlock()
		return domain.ErrReplicaClosed
	}
	if r.state == domain.ReplicaUninitialized {
		r.mu.Unlock()
		return domain.ErrReplicaUninitialized.WithDetails("bootstrap before reseeding")
	}
	r.state = domain.ReplicaBootstrapping
	r.mu.Unlock()

	if err := r.installSnapshot(ctx); err != nil {
		r.setError(domain.ReplicaNeedsReseed, err)
		return err
	}
	r.metrics.Reseeds.Inc()
	r.logger.Info("reseeded from snapshot")
	return nil
}

// installSnapshot fetches and applies a snapshot, then resets the
// transport cursor so the next pull starts at the retained window.
func (r *Replica) installSnapshot(ctx context.Context) error {
	snap, err := r.source.FetchSnapshot(ctx)
	if err != nil {
		return err
	}
	token, err := snap.CommitToken()
	if err != nil {
		return err
	}
	if err := r.store.Import(ctx, snap.State); err != nil {
		return domain.ErrStorageError.WithDetails("install snapshot state").WithCause(err)
	}

	r.mu.Lock()
	r.applied = token
	r.cursor = ""
	r.state = domain.ReplicaTailing
	r.lastErr = ""
	saveErr := r.saveCursorLocked()
	r.mu.Unlock()
	if saveErr != nil {
		return saveErr
	}

	r.logger.Info("snapshot installed",
		"snapshot_id", snap.SnapshotID,
		"token", token.String(),
		"records", snap.RecordCount)
	return nil
}

// CatchUpOnce pulls one log page from the source and applies it in
// order. The whole page is validated before anything applies: a gap
// anywhere in the page fails with ErrReseedRequired and leaves the
// store untouched. Returns the number of frames applied.
func (r *Replica) CatchUpOnce(ctx context.Context, maxFrames int) (int, error) {
	r.mu.Lock()
	switch r.state {
	case domain.ReplicaClosed:
		r.mu.Unlock()
		return 0, domain.ErrReplicaClosed
	case domain.ReplicaUninitialized:
		r.mu.Unlock()
		return 0, domain.ErrReplicaUninitialized
	case domain.ReplicaNeedsReseed:
		r.mu.Unlock()
		return 0, domain.ErrReseedRequired.WithDetails("reseed before catching up")
	}
	cursor := r.cursor
	applied := r.applied
	r.mu.Unlock()

	page, err := r.source.FetchLogPage(ctx, transport.LogPageRequest{
		Cursor:    cursor,
		MaxFrames: maxFrames,
	})
	if err != nil {
		if errors.Is(err, domain.ErrReseedRequired) {
			r.setError(domain.ReplicaNeedsReseed, err)
		} else {
			r.setError(domain.ReplicaLagging, err)
		}
		return 0, err
	}

	// Frames at or below the applied position are redelivered when a
	// pull resumes from a stale cursor; they are skipped, not gaps.
	pending := make([]transport.WireFrame, 0, len(page.Frames))
	expect := applied
	for _, frame := range page.Frames {
		token := frame.Token()
		if token.Compare(expect) <= 0 {
			continue
		}
		if !followsDirectly(expect, token) {
			gapErr := domain.ErrReseedRequired.WithDetails(
				fmt.Sprintf("gap: applied %s, next frame %s", expect, token))
			r.setError(domain.ReplicaNeedsReseed, gapErr)
			return 0, gapErr
		}
		pending = append(pending, frame)
		expect = token
	}

	count := 0
	for _, frame := range pending {
		if err := r.store.Apply(ctx, frame.Payload); err != nil {
			applyErr := domain.ErrStorageError.
				WithDetails(fmt.Sprintf("apply frame %s", frame.Token())).
				WithCause(err)
			r.setError(domain.ReplicaLagging, applyErr)
			return count, applyErr
		}
		count++
		r.mu.Lock()
		r.applied = frame.Token()
		r.mu.Unlock()
		r.metrics.FramesApplied.Inc()
	}

	r.mu.Lock()
	if page.NextCursor != nil {
		r.cursor = *page.NextCursor
		r.state = domain.ReplicaLagging
	} else {
		r.state = domain.ReplicaTailing
	}
	r.lastErr = ""
	saveErr := r.saveCursorLocked()
	r.mu.Unlock()
	if saveErr != nil {
		return count, saveErr
	}
	return count, nil
}

// followsDirectly reports whether next is the immediate successor of
// applied: the next index in the same epoch, or index 1 of a newer
// epoch. The zero applied token accepts any epoch's first frame.
func followsDirectly(applied, next domain.CommitToken) bool {
	if next.Epoch == applied.Epoch {
		return next.LogIndex == applied.LogIndex+1
	}
	return next.Epoch > applied.Epoch && next.LogIndex == 1
}

// WaitForToken blocks until the replica's applied position reaches
// token, polling at a fixed cadence. It returns true when the token
// applied within the timeout. A timeout of zero or less performs one
// immediate check. It never mutates replica state; a catch-up loop
// must be advancing the replica concurrently.
func (r *Replica) WaitForToken(ctx context.Context, token domain.CommitToken, timeout time.Duration) (bool, error) {
	check := func() (bool, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.state == domain.ReplicaClosed {
			return false, domain.ErrReplicaClosed
		}
		return !r.applied.Before(token), nil
	}

	reached, err := check()
	if err != nil || reached || timeout <= 0 {
		if err == nil && !reached {
			r.metrics.WaitTimeouts.Inc()
		}
		return reached, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, domain.ErrTransientIO.WithDetails("wait cancelled").WithCause(ctx.Err())
		case <-deadline.C:
			r.metrics.WaitTimeouts.Inc()
			return false, nil
		case <-ticker.C:
			reached, err := check()
			if err != nil || reached {
				return reached, err
			}
		}
	}
}

// Status reports the replica's replication state.
func (r *Replica) Status(ctx context.Context) domain.ReplicaStatus {
	r.mu.Lock()
	status := domain.ReplicaStatus{
		Role:            "replica",
		State:           r.state,
		AppliedEpoch:    r.applied.Epoch,
		AppliedLogIndex: r.applied.LogIndex,
		NeedsReseed:     r.state == domain.ReplicaNeedsReseed,
		Source:          r.sourceName,
		LastError:       r.lastErr,
	}
	if !r.applied.IsZero() {
		status.AppliedToken = r.applied.String()
	}
	r.mu.Unlock()

	if count, err := r.store.Count(ctx); err == nil {
		status.RecordCount = count
	}
	return status
}

// AppliedToken returns the last applied commit token.
func (r *Replica) AppliedToken() domain.CommitToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applied
}

// Close marks the replica terminal. The record store stays open; its
// owner closes it.
func (r *Replica) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == domain.ReplicaClosed {
		return nil
	}
	r.state = domain.ReplicaClosed
	return r.saveCursorLocked()
}

// setError records the failure in status and moves to the given state.
func (r *Replica) setError(state domain.ReplicaState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == domain.ReplicaClosed {
		return
	}
	r.state = state
	r.lastErr = err.Error()
	if saveErr := r.saveCursorLocked(); saveErr != nil {
		r.logger.Error("persist cursor after failure", "error", saveErr)
	}
}

// ============================================================================
// Durable cursor
// ============================================================================

type cursorFile struct {
	Applied     string `json:"applied,omitempty"`
	Cursor      string `json:"cursor,omitempty"`
	State       string `json:"state"`
	LastError   string `json:"last_error,omitempty"`
	NeedsReseed bool   `json:"needs_reseed"`
}

func (r *Replica) loadCursor() error {
	data, err := os.ReadFile(r.cursorPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return domain.ErrTransientIO.WithDetails("read replica cursor").WithCause(err)
	}
	var cf cursorFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return domain.ErrTransientIO.WithDetails("decode replica cursor").WithCause(err)
	}

	if cf.Applied != "" {
		token, err := domain.ParseCommitToken(cf.Applied)
		if err != nil {
			return domain.ErrTransientIO.
				WithDetails(fmt.Sprintf("replica cursor has malformed token %q", cf.Applied)).
				WithCause(err)
		}
		r.applied = token
	}
	r.cursor = cf.Cursor
	r.lastErr = cf.LastError

	state := domain.ReplicaState(cf.State)
	switch {
	case cf.NeedsReseed:
		r.state = domain.ReplicaNeedsReseed
	case state == domain.ReplicaTailing || state == domain.ReplicaLagging:
		// A replica that was tailing resumes lagging until it verifies
		// its position against the primary.
		r.state = domain.ReplicaLagging
	default:
		r.state = domain.ReplicaUninitialized
	}
	return nil
}

func (r *Replica) saveCursorLocked() error {
	cf := cursorFile{
		Cursor:      r.cursor,
		State:       string(r.state),
		LastError:   r.lastErr,
		NeedsReseed: r.state == domain.ReplicaNeedsReseed,
	}
	if !r.applied.IsZero() {
		cf.Applied = r.applied.String()
	}
	data, err := json.Marshal(cf)
	if err != nil {
		return domain.ErrInternalServer.WithCause(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.cursorPath), "cursor-*.tmp")
	if err != nil {
		return domain.ErrTransientIO.WithDetails("write replica cursor").WithCause(err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return domain.ErrTransientIO.WithDetails("write replica cursor").WithCause(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return domain.ErrTransientIO.WithDetails("sync replica cursor").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return domain.ErrTransientIO.WithDetails("close replica cursor").WithCause(err)
	}
	if err := os.Rename(tmpPath, r.cursorPath); err != nil {
		os.Remove(tmpPath)
		return domain.ErrTransientIO.WithDetails("replace replica cursor").WithCause(err)
	}
	return nil
}
