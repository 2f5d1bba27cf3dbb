// Package command provides CLI command definitions for kitesync-cli.
//
// Commands are built with urfave/cli/v2 and follow a consistent
// pattern: parse flags, call the node's replication API through the
// connection client, and format the result with the output package.
//
//   - root.go: app construction and global flags
//   - status.go: status and health commands
//   - primary.go: promote, checkpoint and retention commands
//   - replica.go: pull, reseed, bootstrap and wait commands
package command
