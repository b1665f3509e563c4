// Package serverrun boots the relay server: storage and runtime wiring, the
// websocket acceptor, the HTTP API, and graceful shutdown on signals.
package serverrun
