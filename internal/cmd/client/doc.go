// Package client implements the CLI command groups that talk to a running
// relay server over its HTTP API.
package client
