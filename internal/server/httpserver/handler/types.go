package handler

// ProgressRequest is the body for POST /replication/progress.
type ProgressRequest struct {
	ReplicaID string `json:"replica_id"`
	Token     string `json:"token"`
}

// PromoteResponse is the body for POST /replication/promote.
type PromoteResponse struct {
	Epoch uint64 `json:"epoch"`
}

// PullRequest is the body for POST /replication/pull. MaxFrames zero
// means no limit beyond the transport page budgets.
type PullRequest struct {
	MaxFrames int `json:"max_frames"`
}

// PullResponse is the body for POST /replication/pull.
type PullResponse struct {
	FramesApplied int    `json:"frames_applied"`
	State         string `json:"state"`
	AppliedToken  string `json:"applied_token,omitempty"`
}

// WaitRequest is the body for POST /replication/wait.
type WaitRequest struct {
	Token     string `json:"token"`
	TimeoutMS int64  `json:"timeout_ms"`
}

// WaitResponse is the body for POST /replication/wait.
type WaitResponse struct {
	Reached bool   `json:"reached"`
	Applied string `json:"applied"`
}
