// Package snapshot provides snapshot management for KiteSync.
//
// Snapshots are full dumps of the replicated store pinned to a commit
// position, enabling replica bootstrap and faster primary recovery by
// reducing commit log replay.
//
// File format:
//
//	snapshot-<ulid>.snap
//	[magic:8 "KITESNAP"]
//	[HeaderLen:4][HeaderJSON:HeaderLen]
//	[DataLen:4][Data:DataLen]   (exported store state, or encrypted bytes)
//	[checksum:32 SHA-256 of all bytes above]
//
// Recovery process:
//
//  1. Load the newest valid snapshot
//  2. Replay commit log frames after the snapshot's (epoch, log_index)
package snapshot
