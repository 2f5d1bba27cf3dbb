// Package memory provides the in-memory record store for KiteSync.
//
// It implements storage.RecordStore using a sharded concurrent map,
// suitable for tests, single-node development, and replicas that rebuild
// state from snapshots on start.
package memory
