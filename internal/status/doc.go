// Package status implements Relay's key/value status store with TTL support.
//
// The store backs the liveness flags the hub and heartbeat monitor maintain
// and the per-task status/result keys producers poll. TTLs are enforced both
// lazily on Get and physically by a background sweeper that scans the expiry
// index.
//
// # Keyspace
//
//	kv/{key}                    - expiresMs(8B BE) | value (expiresMs 0 = no TTL)
//	kv_exp/{expires_ms}/{key}   - expiry index for the sweeper
package status
