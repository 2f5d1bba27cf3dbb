// Package config defines the server configuration structure.
package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr = "127.0.0.1:5480"

	DefaultRole             = "primary"
	DefaultPullInterval     = 500 * time.Millisecond
	DefaultProgressInterval = 5 * time.Second
	DefaultCheckpointEvery  = 5 * time.Minute
	DefaultRetentionEvery   = time.Minute
	DefaultMinRetainEntries = 1024
	DefaultSnapshotKeep     = 3

	DefaultDataDir       = "/var/lib/kitesync/data"
	DefaultStorageEngine = "memory"

	DefaultAdminAuthMode = "token"
	DefaultRateLimit     = 100.0

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr: DefaultHTTPAddr,
			},
		},
		Replication: ReplicationSection{
			Role:               DefaultRole,
			PullInterval:       DefaultPullInterval,
			ProgressInterval:   DefaultProgressInterval,
			CheckpointInterval: DefaultCheckpointEvery,
			RetentionInterval:  DefaultRetentionEvery,
			MinRetainEntries:   DefaultMinRetainEntries,
			SnapshotKeep:       DefaultSnapshotKeep,
		},
		Storage: StorageSection{
			DataDir: DefaultDataDir,
			Engine:  DefaultStorageEngine,
		},
		Security: SecuritySection{
			AdminAuthMode: DefaultAdminAuthMode,
			RateLimit:     DefaultRateLimit,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
