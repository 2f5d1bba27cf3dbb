package handler

import (
	"net/http"
	"strconv"

	"github.com/kitedb/kitesync/internal/core/domain"
	"github.com/kitedb/kitesync/internal/transport"
)

// handleTransportSnapshot handles GET /replication/transport/snapshot.
// Query: include_data (default true). With include_data=false only the
// snapshot header is returned, which is enough to preview the token
// and record count without moving the state blob.
func (h *Handler) handleTransportSnapshot(w http.ResponseWriter, r *http.Request) {
	p, err := h.requirePrimary()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	includeData := true
	if raw := r.URL.Query().Get("include_data"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, r, domain.ErrInvalidArgument.WithDetails("include_data must be a boolean"))
			return
		}
		includeData = v
	}

	snap, err := p.ExportSnapshot(r.Context(), includeData)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// handleTransportLog handles GET /replication/transport/log.
// Query: cursor, max_frames, max_bytes, include_payload.
func (h *Handler) handleTransportLog(w http.ResponseWriter, r *http.Request) {
	p, err := h.requirePrimary()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	req := transport.LogPageRequest{Cursor: q.Get("cursor")}

	if raw := q.Get("max_frames"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			h.writeError(w, r, domain.ErrInvalidArgument.WithDetails("max_frames must be a non-negative integer"))
			return
		}
		req.MaxFrames = v
	}
	if raw := q.Get("max_bytes"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			h.writeError(w, r, domain.ErrInvalidArgument.WithDetails("max_bytes must be a non-negative integer"))
			return
		}
		req.MaxBytes = int64(v)
	}
	if raw := q.Get("include_payload"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, r, domain.ErrInvalidArgument.WithDetails("include_payload must be a boolean"))
			return
		}
		req.IncludePayload = &v
	}

	page, err := p.ExportLogPage(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

// handlePromote handles POST /replication/promote.
func (h *Handler) handlePromote(w http.ResponseWriter, r *http.Request) {
	p, err := h.requirePrimary()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	epoch, err := p.PromoteToNextEpoch(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("promoted to new epoch", "epoch", epoch)
	h.writeJSON(w, http.StatusOK, PromoteResponse{Epoch: epoch})
}

// handleProgress handles POST /replication/progress. Remote replicas
// report their applied position here so retention can account for
// them.
func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.requirePrimary()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req ProgressRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	token, err := domain.ParseCommitToken(req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := p.ReportReplicaProgress(r.Context(), req.ReplicaID, token); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// handleRetention handles POST /replication/retention/run.
func (h *Handler) handleRetention(w http.ResponseWriter, r *http.Request) {
	p, err := h.requirePrimary()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	outcome, err := p.RunRetention(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, outcome)
}

// handleCheckpoint handles POST /replication/checkpoint.
func (h *Handler) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	p, err := h.requirePrimary()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := p.Checkpoint(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}
