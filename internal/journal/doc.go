// Package journal implements a capped, durable activity log.
//
// Components record notable transitions (client connects, deliveries,
// requeues, task state changes) and the dashboard reads them newest-first.
// The journal keeps at most Cap entries; older entries are trimmed inline
// as new ones are appended.
//
// # Keyspace
//
//	j/m           - metadata: lastSeq (8B BE) | firstSeq (8B BE)
//	j/e/{seq_be8} - JSON-encoded entries
package journal
