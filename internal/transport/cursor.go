package transport

import (
	"encoding/base64"
	"encoding/json"

	"github.com/kitedb/kitesync/internal/core/domain"
)

// Cursor is the decoded form of a log page cursor. It pins a physical
// position in the primary's commit log together with the token of the
// last frame delivered before that position.
//
// Replicas must treat the encoded form as opaque: the primary is free
// to change the layout between versions, and a replica that fabricates
// cursors gets ErrCursorMalformed or frames it has already applied.
type Cursor struct {
	Epoch     uint64 `json:"epoch"`
	SegmentID uint64 `json:"segment_id"`
	Offset    int64  `json:"offset"`
	LogIndex  uint64 `json:"log_index"`
}

// Token returns the commit token of the last frame the cursor follows.
func (c Cursor) Token() domain.CommitToken {
	return domain.CommitToken{Epoch: c.Epoch, LogIndex: c.LogIndex}
}

// Encode serializes the cursor into its opaque wire form.
func (c Cursor) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", domain.ErrInternalServer.WithCause(err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor parses an opaque cursor string. An empty string is not
// a valid cursor; callers use the empty string to mean "start of the
// retained window" and must not pass it here.
func DecodeCursor(encoded string) (Cursor, error) {
	if encoded == "" {
		return Cursor{}, domain.ErrCursorMalformed.
			WithDetails("cursor is empty")
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Cursor{}, domain.ErrCursorMalformed.
			WithDetails("cursor is not valid base64").
			WithCause(err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, domain.ErrCursorMalformed.
			WithDetails("cursor payload is not valid").
			WithCause(err)
	}
	if c.Offset < 0 {
		return Cursor{}, domain.ErrCursorMalformed.
			WithDetails("cursor offset is negative")
	}
	return c, nil
}
