package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kitedb/kitesync/internal/core/domain"
	"github.com/kitedb/kitesync/internal/core/service"
	"github.com/kitedb/kitesync/internal/telemetry/logger"
	"github.com/kitedb/kitesync/internal/telemetry/metric"
)

// Handler routes replication API requests to the node's services.
// Exactly one of Primary or Replica is set, depending on the node's
// role; requests against the other role's operations fail with a
// domain error.
type Handler struct {
	primary *service.Primary
	replica *service.Replica
	metrics *metric.Metrics
	logger  logger.Logger
	nodeID  string
	started time.Time
	mux     *http.ServeMux
}

// Config holds the services a Handler serves.
type Config struct {
	NodeID  string
	Primary *service.Primary
	Replica *service.Replica
	Metrics *metric.Metrics
	Logger  logger.Logger
}

// New creates a Handler for the given node role.
func New(cfg Config) *Handler {
	h := &Handler{
		primary: cfg.Primary,
		replica: cfg.Replica,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		nodeID:  cfg.NodeID,
		started: time.Now(),
		mux:     http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	// Read surface
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)
	h.mux.HandleFunc("GET /replication/status", h.handleStatus)
	h.mux.HandleFunc("GET /replication/metrics/prometheus", h.handleMetricsPrometheus)
	h.mux.HandleFunc("GET /replication/metrics/otel-json", h.handleMetricsOTelJSON)

	// Primary transport surface
	h.mux.HandleFunc("GET /replication/transport/snapshot", h.handleTransportSnapshot)
	h.mux.HandleFunc("GET /replication/transport/log", h.handleTransportLog)

	// Primary control operations
	h.mux.HandleFunc("POST /replication/promote", h.handlePromote)
	h.mux.HandleFunc("POST /replication/progress", h.handleProgress)
	h.mux.HandleFunc("POST /replication/retention/run", h.handleRetention)
	h.mux.HandleFunc("POST /replication/checkpoint", h.handleCheckpoint)

	// Replica operations
	h.mux.HandleFunc("POST /replication/bootstrap", h.handleBootstrap)
	h.mux.HandleFunc("POST /replication/pull", h.handlePull)
	h.mux.HandleFunc("POST /replication/reseed", h.handleReseed)
	h.mux.HandleFunc("POST /replication/wait", h.handleWait)
}

// requirePrimary returns the primary service or a role error.
func (h *Handler) requirePrimary() (*service.Primary, error) {
	if h.primary == nil {
		return nil, domain.ErrBadRequest.WithDetails("node is not the primary")
	}
	return h.primary, nil
}

// requireReplica returns the replica service or a role error.
func (h *Handler) requireReplica() (*service.Replica, error) {
	if h.replica == nil {
		return nil, domain.ErrBadRequest.WithDetails("node is not a replica")
	}
	return h.replica, nil
}

// decodeBody decodes a JSON request body. An empty body leaves dst at
// its zero value so optional bodies work.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.ErrBadRequest.WithDetails("malformed JSON body").WithCause(err)
	}
	return nil
}

// writeJSON writes a JSON response body.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// errorBody is the wire form of a failed request. The transport
// client decodes it back into the matching domain error.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// writeError maps a service error to an HTTP response.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		h.logger.Error("internal error", "path", r.URL.Path, "error", err)
		de = domain.ErrInternalServer
	}

	status := errorCodeToHTTPStatus(de.Code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "code", de.Code, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", de.Code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{
		Code:    de.Code,
		Message: de.Message,
		Details: de.Details,
	})
}

// errorCodeToHTTPStatus maps domain error codes to HTTP status codes.
// The reseed signal uses 410 so a remote replica can distinguish a
// gone log window from an ordinary client error.
func errorCodeToHTTPStatus(code string) int {
	switch {
	case strings.HasSuffix(code, "-4100"):
		return http.StatusGone
	case strings.HasSuffix(code, "-4090"):
		return http.StatusConflict
	case strings.HasSuffix(code, "-4040"):
		return http.StatusNotFound
	case strings.HasSuffix(code, "-4290"):
		return http.StatusTooManyRequests
	case strings.HasSuffix(code, "-4010"):
		return http.StatusUnauthorized
	case strings.HasPrefix(code, "KS-ARG-"):
		return http.StatusBadRequest
	case strings.HasSuffix(code, "-4000"),
		strings.HasSuffix(code, "-4001"),
		strings.HasSuffix(code, "-4002"),
		strings.HasSuffix(code, "-4003"):
		return http.StatusBadRequest
	case code == "KS-IO-5030":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
