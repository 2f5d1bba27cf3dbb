// Package transport defines the wire representation of replication
// transfers between a primary and its replicas.
//
// Two transfer kinds exist: a snapshot transfer carrying a full state
// export plus the commit token it reflects, and a log page transfer
// carrying an ordered batch of commit log frames. Log pages paginate
// with an opaque cursor; a replica echoes the cursor back unmodified
// to resume where the previous page ended. The cursor encodes a
// physical log position so the primary can resume reads without
// scanning from the start of the retained window.
//
// HTTPSource implements the replica side of both transfers over HTTP
// with bounded retries for transient failures.
package transport
