package transport

import (
	"context"

	"github.com/kitedb/kitesync/internal/core/domain"
)

// WireFrame is the transport form of a commit log frame. Payload is
// base64-encoded by encoding/json.
type WireFrame struct {
	Epoch    uint64 `json:"epoch"`
	LogIndex uint64 `json:"log_index"`
	Payload  []byte `json:"payload,omitempty"`
	ByteSize int    `json:"byte_size"`
}

// Token returns the frame's commit token.
func (f WireFrame) Token() domain.CommitToken {
	return domain.CommitToken{Epoch: f.Epoch, LogIndex: f.LogIndex}
}

// LogPage is one page of a paginated log transfer. NextCursor is nil
// exactly when the page reached the primary's committed head; any
// non-nil cursor means more frames were available when the page was cut.
type LogPage struct {
	Frames     []WireFrame `json:"frames"`
	NextCursor *string     `json:"next_cursor"`
}

// LogPageRequest carries the paging parameters of a log transfer.
// Cursor is empty on the first request of a transfer.
type LogPageRequest struct {
	Cursor         string `json:"cursor,omitempty"`
	MaxFrames      int    `json:"max_frames,omitempty"`
	MaxBytes       int64  `json:"max_bytes,omitempty"`
	IncludePayload *bool  `json:"include_payload,omitempty"`
}

// WantPayload reports whether frame payloads were requested. Payloads
// are included unless the request explicitly opted out.
func (r LogPageRequest) WantPayload() bool {
	return r.IncludePayload == nil || *r.IncludePayload
}

// Snapshot is the transport form of a full state transfer. State is
// the primary's exported record state; Token is the string form of
// the commit token the export reflects.
type Snapshot struct {
	SnapshotID  string `json:"snapshot_id"`
	Token       string `json:"token"`
	RecordCount int64  `json:"record_count"`
	State       []byte `json:"state"`
}

// CommitToken parses the snapshot's token field.
func (s Snapshot) CommitToken() (domain.CommitToken, error) {
	token, err := domain.ParseCommitToken(s.Token)
	if err != nil {
		return domain.CommitToken{}, domain.ErrTransportDecode.
			WithDetails("snapshot token is not valid").
			WithCause(err)
	}
	return token, nil
}

// Source is the replica's view of a primary. Implementations fetch
// snapshot and log transfers; the replica state machine interprets them.
type Source interface {
	// FetchSnapshot retrieves the primary's most recent full state export.
	FetchSnapshot(ctx context.Context) (*Snapshot, error)

	// FetchLogPage retrieves one page of log frames starting after the
	// given cursor. An empty cursor starts at the retained window.
	FetchLogPage(ctx context.Context, req LogPageRequest) (*LogPage, error)
}

// FramesToDomain converts wire frames back into log frames.
func FramesToDomain(frames []WireFrame) []domain.LogFrame {
	out := make([]domain.LogFrame, len(frames))
	for i, f := range frames {
		out[i] = domain.LogFrame{
			Epoch:    f.Epoch,
			LogIndex: f.LogIndex,
			Payload:  f.Payload,
			ByteSize: f.ByteSize,
		}
	}
	return out
}

// FramesFromDomain converts log frames into their wire form. When
// includePayload is false the payloads are stripped; ByteSize still
// reports the stored payload length so replicas can size transfers.
func FramesFromDomain(frames []domain.LogFrame, includePayload bool) []WireFrame {
	out := make([]WireFrame, len(frames))
	for i, f := range frames {
		wf := WireFrame{
			Epoch:    f.Epoch,
			LogIndex: f.LogIndex,
			ByteSize: f.ByteSize,
		}
		if includePayload {
			wf.Payload = f.Payload
		}
		out[i] = wf
	}
	return out
}
