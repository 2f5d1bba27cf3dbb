// kitesync-cli is the command-line management tool for KiteSync nodes.
//
// It talks to a node's replication API over TCP or the local admin unix
// socket:
//
//	kitesync-cli --server primary:5480 --token $KITESYNC_ADMIN_TOKEN status
//	kitesync-cli --socket /run/kitesync/admin.sock promote --yes
//	kitesync-cli --server replica:5480 -t $TOKEN wait 2:17 --timeout 10s
package main
