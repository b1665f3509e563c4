// Package pebblestore wraps a Pebble database with the fsync policy and the
// small helper surface the relay's durable structures (queue, status store,
// journal) need. All higher-level keyspaces live in their owning packages;
// this wrapper only knows about bytes.
package pebblestore
