// Package domain defines the core domain models for KiteSync.
package domain

// LogFrame is a single replicated log entry. Frames are produced by the
// primary in strict commit order and applied by replicas in the same order.
type LogFrame struct {
	Epoch    uint64 `json:"epoch"`
	LogIndex uint64 `json:"log_index"`
	Payload  []byte `json:"payload,omitempty"`
	ByteSize int    `json:"byte_size"`
}

// Token returns the commit token that acknowledged this frame.
func (f LogFrame) Token() CommitToken {
	return CommitToken{Epoch: f.Epoch, LogIndex: f.LogIndex}
}

// ReplicaState is the lifecycle state of a replica coordinator.
type ReplicaState string

const (
	// ReplicaUninitialized is the state before any snapshot is installed.
	ReplicaUninitialized ReplicaState = "uninitialized"
	// ReplicaBootstrapping is the state while the initial snapshot is applied.
	ReplicaBootstrapping ReplicaState = "bootstrapping"
	// ReplicaTailing is the steady state: within the primary's retained window.
	ReplicaTailing ReplicaState = "tailing"
	// ReplicaLagging is the state when the replica is behind but recoverable.
	ReplicaLagging ReplicaState = "lagging"
	// ReplicaNeedsReseed is entered when incremental catch-up can no longer
	// succeed and a fresh snapshot is required.
	ReplicaNeedsReseed ReplicaState = "needs_reseed"
	// ReplicaClosed is terminal.
	ReplicaClosed ReplicaState = "closed"
)

// IsValid reports whether s is one of the defined replica states.
func (s ReplicaState) IsValid() bool {
	switch s {
	case ReplicaUninitialized, ReplicaBootstrapping, ReplicaTailing,
		ReplicaLagging, ReplicaNeedsReseed, ReplicaClosed:
		return true
	}
	return false
}

// ReplicaProgress is a replica's acknowledged apply position as reported
// to the primary. The primary keeps the highest position seen per replica.
type ReplicaProgress struct {
	ReplicaID string `json:"replica_id"`
	Epoch     uint64 `json:"epoch"`
	LogIndex  uint64 `json:"log_index"`
}

// Position returns the progress as a commit token for ordering.
func (p ReplicaProgress) Position() CommitToken {
	return CommitToken{Epoch: p.Epoch, LogIndex: p.LogIndex}
}

// PrimaryStatus is the primary coordinator's observable state.
type PrimaryStatus struct {
	Role            string            `json:"role"`
	Epoch           uint64            `json:"epoch"`
	HeadLogIndex    uint64            `json:"head_log_index"`
	LastCommitToken string            `json:"last_commit_token,omitempty"`
	RetainedFrom    uint64            `json:"retained_from_log_index"`
	SegmentCount    int               `json:"segment_count"`
	ReplicaLags     []ReplicaProgress `json:"replica_lags"`
}

// ReplicaStatus is the replica coordinator's observable state.
type ReplicaStatus struct {
	Role            string       `json:"role"`
	State           ReplicaState `json:"state"`
	AppliedEpoch    uint64       `json:"applied_epoch"`
	AppliedLogIndex uint64       `json:"applied_log_index"`
	AppliedToken    string       `json:"applied_token,omitempty"`
	NeedsReseed     bool         `json:"needs_reseed"`
	Source          string       `json:"source"`
	LastError       string       `json:"last_error,omitempty"`
	RecordCount     int64        `json:"record_count"`
}

// RetentionOutcome reports the effect of one retention pass on the primary.
type RetentionOutcome struct {
	PrunedSegments int    `json:"pruned_segments"`
	RetainedFrom   uint64 `json:"retained_from_log_index"`
}
