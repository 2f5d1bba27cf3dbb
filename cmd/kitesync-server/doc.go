// Package main provides the entry point for kitesync-server.
//
// kitesync-server runs one KiteSync replication node: either the
// primary, which orders commits into the segmented log and serves the
// snapshot/log transport, or a replica, which bootstraps from a
// snapshot and tails the primary's log over HTTP.
package main
