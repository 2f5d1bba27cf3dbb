// Package handler provides HTTP request handlers for the KiteSync
// replication API.
//
// The handlers expose the primary's transport surface (snapshot and
// log page export), control operations (promote, retention,
// checkpoint, progress reporting), the replica's pull/reseed/wait
// operations, and the status and metrics read surface. Authorization
// is applied by the router middleware, not here; the only policy in
// this package is the role check (primary operations 400 on a replica
// node and vice versa).
package handler
