package handler

import (
	"net/http"
	"time"
)

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	role := "replica"
	if h.primary != nil {
		role = "primary"
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"node_id": h.nodeID,
		"role":    role,
		"uptime":  time.Since(h.started).Truncate(time.Second).String(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /ready. A replica is ready once it has a
// position to serve reads from; the primary is ready when it accepts
// commits.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.replica != nil {
		status := h.replica.Status(r.Context())
		if status.AppliedLogIndex == 0 {
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"state":  string(status.State),
			})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
