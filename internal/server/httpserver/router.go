package httpserver

import (
	"net/http"

	"github.com/kitedb/kitesync/internal/core/service"
	"github.com/kitedb/kitesync/internal/server/httpserver/handler"
	"github.com/kitedb/kitesync/internal/telemetry/logger"
	"github.com/kitedb/kitesync/internal/telemetry/metric"
)

// RouterConfig holds configuration for the replication API router.
type RouterConfig struct {
	// NodeID identifies this node in health and metrics output.
	NodeID string

	// Primary is set on the primary node, Replica on replica nodes.
	Primary *service.Primary
	Replica *service.Replica

	// Gate authorizes control operations. Nil disables gating, which is
	// only appropriate for listeners with out-of-band access control
	// such as the local admin socket.
	Gate *service.AdminGate

	// Metrics backs the metrics endpoints.
	Metrics *metric.Metrics

	// Logger for request logging.
	Logger logger.Logger

	// AdminAllowList is the IP/CIDR allowlist for gated endpoints
	// (empty = no restriction).
	AdminAllowList []string

	// RateLimit is the per-IP request rate for gated endpoints
	// (requests/second; 0 disables limiting).
	RateLimit float64

	// RateBurst is the per-IP burst size. Defaults to RateLimit
	// rounded up when zero.
	RateBurst int
}

// NewRouter creates the HTTP router with all routes and middleware.
// Health, readiness and replication status stay open; the transport
// and control surfaces pass the admin gate, the allowlist and the
// rate limiter.
func NewRouter(cfg *RouterConfig) http.Handler {
	h := handler.New(handler.Config{
		NodeID:  cfg.NodeID,
		Primary: cfg.Primary,
		Replica: cfg.Replica,
		Metrics: cfg.Metrics,
		Logger:  cfg.Logger,
	})

	openHandler := Chain(h,
		RequestID(),
		Recover(cfg.Logger),
		AccessLog(cfg.Logger),
	)

	gatedMiddlewares := []Middleware{
		RequestID(),
		Recover(cfg.Logger),
		AccessLog(cfg.Logger),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit) + 1
		}
		gatedMiddlewares = append(gatedMiddlewares, RateLimit(cfg.RateLimit, burst))
	}
	if len(cfg.AdminAllowList) > 0 {
		gatedMiddlewares = append(gatedMiddlewares, NetworkACL(&NetworkACLConfig{
			AllowList: cfg.AdminAllowList,
			Logger:    cfg.Logger,
		}))
	}
	if cfg.Gate != nil {
		gatedMiddlewares = append(gatedMiddlewares, AdminGate(cfg.Gate))
	}
	gatedHandler := Chain(h, gatedMiddlewares...)

	mux := http.NewServeMux()

	// Open read surface
	mux.Handle("GET /health", openHandler)
	mux.Handle("GET /ready", openHandler)
	mux.Handle("GET /replication/status", openHandler)

	// Metrics
	mux.Handle("GET /replication/metrics/prometheus", gatedHandler)
	mux.Handle("GET /replication/metrics/otel-json", gatedHandler)

	// Transport surface (primary)
	mux.Handle("GET /replication/transport/snapshot", gatedHandler)
	mux.Handle("GET /replication/transport/log", gatedHandler)

	// Control operations (primary)
	mux.Handle("POST /replication/promote", gatedHandler)
	mux.Handle("POST /replication/progress", gatedHandler)
	mux.Handle("POST /replication/retention/run", gatedHandler)
	mux.Handle("POST /replication/checkpoint", gatedHandler)

	// Replica operations
	mux.Handle("POST /replication/bootstrap", gatedHandler)
	mux.Handle("POST /replication/pull", gatedHandler)
	mux.Handle("POST /replication/reseed", gatedHandler)
	mux.Handle("POST /replication/wait", gatedHandler)

	return mux
}
