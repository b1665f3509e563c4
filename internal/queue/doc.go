// Package queue implements Relay's durable FIFO queues on Pebble.
//
// A queue is a named, strictly ordered list of opaque payloads with blocking
// pop semantics:
//
//	q, _ := queue.Open(db, "commands")
//	_, _ = q.Push(ctx, payload)
//	item, err := q.BlockingPop(ctx, 5*time.Second) // ErrEmpty on timeout
//	_ = q.Requeue(ctx, item)                       // back to the tail, attempts+1
//
// # Keyspace
//
//	q/{name}/m           - metadata: lastSeq (8B BE) | count (4B BE)
//	q/{name}/e/{seq_be8} - entries
//
// Entries are stored as enqueuedMs(8B BE) | attempts(4B BE) | payload |
// crc32c(all preceding). Corrupt records are dropped on pop with the caller
// notified via the returned error.
//
// Blocking waits use a notify channel that is closed and replaced on every
// push, so poppers suspend instead of polling.
package queue
