package handler

import (
	"net/http"

	"github.com/kitedb/kitesync/internal/telemetry/metric"
)

// handleStatus handles GET /replication/status. It reports the role
// view of whichever service this node runs.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if h.primary != nil {
		h.writeJSON(w, http.StatusOK, h.primary.Status(r.Context()))
		return
	}
	h.writeJSON(w, http.StatusOK, h.replica.Status(r.Context()))
}

// handleMetricsPrometheus handles GET /replication/metrics/prometheus.
func (h *Handler) handleMetricsPrometheus(w http.ResponseWriter, r *http.Request) {
	h.metrics.Handler().ServeHTTP(w, r)
}

// handleMetricsOTelJSON handles GET /replication/metrics/otel-json.
// It renders the same registry as the Prometheus endpoint in the
// OTLP/JSON resource-metrics shape.
func (h *Handler) handleMetricsOTelJSON(w http.ResponseWriter, r *http.Request) {
	body, err := metric.EncodeOTelJSON(h.metrics.Registry(), "kitesync-"+h.nodeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
