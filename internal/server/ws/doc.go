// Package wsserver accepts client websocket connections and binds them to
// the relay hub.
//
// Each accepted connection gets a uuid identity, a buffered write pump, and
// a read loop that feeds raw frames to the hub. A read error or close tears
// the connection down through hub.Unregister exactly once.
package wsserver
