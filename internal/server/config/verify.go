// Package config defines the server configuration structure.
package config

import (
	"errors"
	"os"

	"github.com/kitedb/kitesync/internal/core/service"
)

// Verify validates the configuration. The admin gate configuration is
// built eagerly so a bad mode or pattern fails at startup instead of
// on the first gated request.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyReplication(&cfg.Replication); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	return verifySecurity(&cfg.Security)
}

func verifyServer(cfg *ServerSection) error {
	if cfg.HTTP.Addr == "" {
		return errors.New("server.http.addr is required")
	}
	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		return errors.New("server.http.tls_cert_file and tls_key_file must be set together")
	}
	return nil
}

func verifyReplication(cfg *ReplicationSection) error {
	switch cfg.Role {
	case "primary", "replica":
	default:
		return errors.New("replication.role must be primary or replica")
	}
	if cfg.Role == "replica" && cfg.PrimaryURL == "" {
		return errors.New("replication.primary_url is required for the replica role")
	}
	if cfg.Role == "replica" && cfg.PullInterval <= 0 {
		return errors.New("replication.pull_interval must be positive for the replica role")
	}
	if cfg.SnapshotKeep < 1 {
		return errors.New("replication.snapshot_keep must be at least 1")
	}
	if cfg.PullMaxFrames < 0 {
		return errors.New("replication.pull_max_frames must not be negative")
	}
	if cfg.SegmentMaxBytes < 0 || cfg.SegmentMaxEntries < 0 {
		return errors.New("replication segment limits must not be negative")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	switch cfg.Engine {
	case "memory", "badger":
	default:
		return errors.New("storage.engine must be memory or badger")
	}

	// Check if data directory exists or can be created
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return errors.New("cannot create data directory: " + err.Error())
	}
	return nil
}

func verifySecurity(cfg *SecuritySection) error {
	_, err := service.NewAdminGate(service.AdminGateConfig{
		Mode:             service.AuthMode(cfg.AdminAuthMode),
		Token:            cfg.AdminToken,
		ClientCertHeader: cfg.ClientCertHeader,
		SubjectPattern:   cfg.SubjectPattern,
	})
	if err != nil {
		return err
	}
	if cfg.RateLimit < 0 {
		return errors.New("security.rate_limit must not be negative")
	}
	if cfg.TLSCAFile != "" {
		if _, err := os.Stat(cfg.TLSCAFile); err != nil {
			return errors.New("security.tls_ca_file not readable: " + err.Error())
		}
	}
	return nil
}
