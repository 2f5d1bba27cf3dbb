package handler

import (
	"net/http"
	"time"

	"github.com/kitedb/kitesync/internal/core/domain"
)

// handleBootstrap handles POST /replication/bootstrap.
func (h *Handler) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	rep, err := h.requireReplica()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := rep.BootstrapFromSnapshot(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rep.Status(r.Context()))
}

// handlePull handles POST /replication/pull. Body: {max_frames}.
func (h *Handler) handlePull(w http.ResponseWriter, r *http.Request) {
	rep, err := h.requireReplica()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req PullRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.MaxFrames < 0 {
		h.writeError(w, r, domain.ErrInvalidArgument.WithDetails("max_frames must be a non-negative integer"))
		return
	}

	applied, err := rep.CatchUpOnce(r.Context(), req.MaxFrames)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := rep.Status(r.Context())
	h.writeJSON(w, http.StatusOK, PullResponse{
		FramesApplied: applied,
		State:         string(status.State),
		AppliedToken:  status.AppliedToken,
	})
}

// handleReseed handles POST /replication/reseed.
func (h *Handler) handleReseed(w http.ResponseWriter, r *http.Request) {
	rep, err := h.requireReplica()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := rep.ReseedFromSnapshot(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rep.Status(r.Context()))
}

// handleWait handles POST /replication/wait.
// Body: {token, timeout_ms}. A non-positive timeout performs a single
// immediate check of the applied position.
func (h *Handler) handleWait(w http.ResponseWriter, r *http.Request) {
	rep, err := h.requireReplica()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req WaitRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Token == "" {
		h.writeError(w, r, domain.ErrMissingArgument.WithDetails("token is required"))
		return
	}
	token, err := domain.ParseCommitToken(req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	reached, err := rep.WaitForToken(r.Context(), token, time.Duration(req.TimeoutMS)*time.Millisecond)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, WaitResponse{
		Reached: reached,
		Applied: rep.AppliedToken().String(),
	})
}
