// Package storage provides the storage layer for KiteSync.
//
// The layer combines a replicated record store, the segmented commit log,
// and snapshots:
//
//   - Record Store: the replicated key/value state, in memory or on Badger
//   - Commit Log: append-only frames for replication and crash recovery
//   - Snapshot: point-in-time exports for replica bootstrap and fast restart
//
// Every committed mutation is appended to the commit log before being
// acknowledged; replicas apply the same frames in the same order.
package storage
