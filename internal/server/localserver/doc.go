// Package localserver exposes the replication HTTP surface over a unix
// domain socket for local administration.
//
// The socket bypasses the network listener entirely, which makes it
// suitable for host-local tooling (the kitesync-cli admin commands)
// even when the TCP surface is firewalled or TLS-only. Access control
// is left to filesystem permissions on the socket path.
package localserver
