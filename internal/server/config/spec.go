// Package config defines the server configuration structure.
package config

import "time"

// ServerConfig is the root configuration for kitesync-server.
type ServerConfig struct {
	Server      ServerSection      `koanf:"server"`
	Replication ReplicationSection `koanf:"replication"`
	Storage     StorageSection     `koanf:"storage"`
	Security    SecuritySection    `koanf:"security"`
	Log         LogSection         `koanf:"log"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP  HTTPConfig  `koanf:"http"`
	Local LocalConfig `koanf:"local"`
}

// LocalConfig configures the optional unix domain socket for host-local
// administration. Empty SocketPath disables the local listener.
type LocalConfig struct {
	SocketPath string `koanf:"socket_path"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr        string `koanf:"addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`
}

// ReplicationSection configures the replication coordinator.
type ReplicationSection struct {
	// Role is "primary" or "replica".
	Role string `koanf:"role"`

	// NodeID is the unique identifier for this node. If empty, a
	// random ID is generated at startup.
	NodeID string `koanf:"node_id"`

	// PrimaryURL is the primary's base URL. Required on replicas.
	PrimaryURL string `koanf:"primary_url"`

	// PullInterval is how often a replica pulls new log frames.
	PullInterval time.Duration `koanf:"pull_interval"`

	// PullMaxFrames bounds a single pull (0 = transport default).
	PullMaxFrames int `koanf:"pull_max_frames"`

	// ProgressInterval is how often a replica reports its applied
	// position to the primary.
	ProgressInterval time.Duration `koanf:"progress_interval"`

	// CheckpointInterval is how often the primary persists a snapshot
	// checkpoint (0 disables the loop).
	CheckpointInterval time.Duration `koanf:"checkpoint_interval"`

	// RetentionInterval is how often the primary runs log retention
	// (0 disables the loop).
	RetentionInterval time.Duration `koanf:"retention_interval"`

	// RetentionFloor lets retention advance to this log index in the
	// current epoch even past slow replicas (0 = never).
	RetentionFloor uint64 `koanf:"retention_floor"`

	// MinRetainEntries is the minimum number of log entries retention
	// always keeps.
	MinRetainEntries uint64 `koanf:"min_retain_entries"`

	// SegmentMaxBytes rotates log segments above this size.
	SegmentMaxBytes int64 `koanf:"segment_max_bytes"`

	// SegmentMaxEntries rotates log segments above this entry count.
	SegmentMaxEntries int `koanf:"segment_max_entries"`

	// SnapshotKeep is how many snapshot checkpoints to retain.
	SnapshotKeep int `koanf:"snapshot_keep"`
}

// StorageSection configures the replicated record store.
type StorageSection struct {
	// DataDir holds the commit log, snapshots and store state.
	DataDir string `koanf:"data_dir"`

	// Engine is "memory" or "badger".
	Engine string `koanf:"engine"`

	// BadgerCacheMB is the Badger block cache size in MiB.
	BadgerCacheMB int `koanf:"badger_cache_mb"`

	// BadgerGCInterval is how often Badger value log GC runs.
	BadgerGCInterval time.Duration `koanf:"badger_gc_interval"`
}

// SecuritySection configures the admin gate and encryption.
type SecuritySection struct {
	// AdminAuthMode is one of none, token, mtls, token_or_mtls,
	// token_and_mtls.
	AdminAuthMode string `koanf:"admin_auth_mode"`

	// AdminToken is the bearer token for the token modes. Replicas
	// also present it to the primary's transport endpoints.
	AdminToken string `koanf:"admin_token"`

	// ClientCertHeader names the forwarded client certificate header
	// for the mtls modes behind a TLS-terminating proxy.
	ClientCertHeader string `koanf:"client_cert_header"`

	// SubjectPattern restricts mtls subjects to this regular
	// expression (empty accepts any non-empty subject).
	SubjectPattern string `koanf:"subject_pattern"`

	// AdminAllowList is an IP/CIDR allowlist for gated endpoints.
	AdminAllowList []string `koanf:"admin_allow_list"`

	// RateLimit is the per-IP request rate for gated endpoints
	// (requests/second, 0 disables).
	RateLimit float64 `koanf:"rate_limit"`

	// EncryptionKey enables at-rest encryption of commit log frames
	// and snapshots when set.
	EncryptionKey string `koanf:"encryption_key"`

	// TLSCAFile adds trusted roots for outbound transport connections.
	TLSCAFile string `koanf:"tls_ca_file"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
