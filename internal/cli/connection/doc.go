// Package connection provides the HTTP client kitesync-cli uses to
// talk to a KiteSync node, over TCP or the local admin unix socket.
//
// The client sends the admin bearer token on every request and decodes
// the server's error envelope ({code, message, details}) into readable
// command errors.
package connection
