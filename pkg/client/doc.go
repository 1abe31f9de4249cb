// Package client implements the HTTP client the CLI uses to talk to the
// daemon over its unix socket.
package client
