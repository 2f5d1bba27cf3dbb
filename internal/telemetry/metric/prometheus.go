// Package metric provides Prometheus metrics for KiteSync.
//
// All replication metrics live under the kitedb_replication_ prefix.
// The registry is explicit rather than global so tests and embedded
// deployments can run multiple nodes in one process.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "kitedb"
	subsystem = "replication"
)

// Metrics holds all replication metrics registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	// Primary metrics
	CommitsTotal     prometheus.Counter
	CommitBytesTotal prometheus.Counter
	HeadEpoch        prometheus.Gauge
	HeadLogIndex     prometheus.Gauge
	ReplicaLag       *prometheus.GaugeVec
	PrunedSegments   prometheus.Counter
	SnapshotExports  prometheus.Counter
	Promotions       prometheus.Counter

	// Replica metrics
	FramesApplied prometheus.Counter
	Reseeds       prometheus.Counter
	WaitTimeouts  prometheus.Counter

	// Transport metrics
	TransportPages prometheus.Counter
	TransportBytes prometheus.Counter
}

// NewMetrics creates the replication metric set on a fresh registry
// that also carries the standard Go runtime and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newMetricsOn(registry)
}

// NewMetricsOn creates the replication metric set on an existing
// registry, for callers composing several metric sets.
func NewMetricsOn(registry *prometheus.Registry) *Metrics {
	return newMetricsOn(registry)
}

func newMetricsOn(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		CommitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commits_total",
			Help:      "Total committed mutations",
		}),
		CommitBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commit_bytes_total",
			Help:      "Total committed payload bytes",
		}),
		HeadEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "head_epoch",
			Help:      "Current commit epoch",
		}),
		HeadLogIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "head_log_index",
			Help:      "Log index of the latest committed mutation",
		}),
		ReplicaLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "replica_lag_entries",
			Help:      "Entries between a replica's reported progress and the committed head",
		}, []string{"replica_id"}),
		PrunedSegments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retention_pruned_segments_total",
			Help:      "Log segments removed by retention",
		}),
		SnapshotExports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "snapshot_exports_total",
			Help:      "Full state exports served to replicas",
		}),
		Promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "promotions_total",
			Help:      "Epoch promotions performed on this node",
		}),
		FramesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_applied_total",
			Help:      "Log frames applied by the replica",
		}),
		Reseeds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reseeds_total",
			Help:      "Full reseeds performed by the replica",
		}),
		WaitTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "wait_timeouts_total",
			Help:      "WaitForToken calls that timed out before the token applied",
		}),
		TransportPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transport_pages_total",
			Help:      "Log pages served over the transport",
		}),
		TransportBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transport_bytes_total",
			Help:      "Payload bytes served over the transport",
		}),
	}

	registry.MustRegister(
		m.CommitsTotal,
		m.CommitBytesTotal,
		m.HeadEpoch,
		m.HeadLogIndex,
		m.ReplicaLag,
		m.PrunedSegments,
		m.SnapshotExports,
		m.Promotions,
		m.FramesApplied,
		m.Reseeds,
		m.WaitTimeouts,
		m.TransportPages,
		m.TransportBytes,
	)
	return m
}

// Registry exposes the underlying registry for additional collectors,
// such as the Badger store gauges.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
