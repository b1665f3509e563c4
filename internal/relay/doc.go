// Package relay implements the command relay core: the connection hub,
// the queue dispatcher, the request/response correlator, and the heartbeat
// monitor.
//
// The hub owns the set of live duplex connections and fans outbound frames
// out to all of them. The dispatcher drains the durable command queue and
// requeues commands that arrive while no client is connected. The correlator
// suspends callers awaiting a reply keyed by correlation id and wakes exactly
// one of them when a matching frame arrives. The heartbeat monitor probes
// connections and evicts the silently dead.
//
// All shared mutable state (live-connection set, waiter table) is guarded by
// per-structure mutexes; network writes happen outside the locks.
package relay
