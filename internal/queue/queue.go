package queue

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
)

// ErrEmpty is returned by BlockingPop when the wait times out with no item.
var ErrEmpty = errors.New("queue: empty")

// ErrCorruptEntry is returned when the head record fails its checksum. The
// entry is removed so the queue keeps draining.
var ErrCorruptEntry = errors.New("queue: corrupt entry")

// Item is a popped queue entry.
type Item struct {
	Seq        uint64
	Payload    []byte
	EnqueuedMs int64
	// Attempts counts prior deliveries of this item (0 on first pop).
	Attempts uint32
}

// Queue is a durable named FIFO with blocking pop.
type Queue struct {
	db   *pebblestore.DB
	name string

	mu       sync.Mutex
	lastSeq  uint64
	count    uint32
	notifyCh chan struct{}
}

// Open initializes a Queue and restores lastSeq/count from metadata if present.
func Open(db *pebblestore.DB, name string) (*Queue, error) {
	q := &Queue{db: db, name: name, notifyCh: make(chan struct{})}
	if meta, err := db.Get(MetaKey(name)); err == nil && len(meta) >= 12 {
		q.lastSeq = binary.BigEndian.Uint64(meta[0:8])
		q.count = binary.BigEndian.Uint32(meta[8:12])
	} else if err != nil && !pebblestore.IsNotFound(err) {
		return nil, err
	}
	return q, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Len returns the number of stored items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.count)
}

// Push appends a payload at the tail and wakes blocked poppers.
func (q *Queue) Push(ctx context.Context, payload []byte) (uint64, error) {
	return q.push(ctx, payload, time.Now().UnixMilli(), 0)
}

// Requeue re-inserts a previously popped item at the tail, preserving its
// enqueue timestamp and incrementing its attempt count.
func (q *Queue) Requeue(ctx context.Context, it Item) (uint64, error) {
	return q.push(ctx, it.Payload, it.EnqueuedMs, it.Attempts+1)
}

func (q *Queue) push(ctx context.Context, payload []byte, enqueuedMs int64, attempts uint32) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	b := q.db.NewBatch()
	defer b.Close()

	q.lastSeq++
	seq := q.lastSeq
	if err := b.Set(EntryKey(q.name, seq), EncodeEntry(payload, enqueuedMs, attempts), nil); err != nil {
		return 0, err
	}
	if err := b.Set(MetaKey(q.name), q.encodeMeta(q.count+1), nil); err != nil {
		return 0, err
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		q.lastSeq--
		return 0, err
	}
	q.count++

	// Wake all waiters; they race for the head under q.mu.
	close(q.notifyCh)
	q.notifyCh = make(chan struct{})
	return seq, nil
}

// BlockingPop removes and returns the head item. When the queue is empty it
// suspends until a push occurs, ctx is done, or timeout elapses. A timeout
// <= 0 waits until ctx is done. Returns ErrEmpty on timeout and ctx.Err()
// on cancellation.
func (q *Queue) BlockingPop(ctx context.Context, timeout time.Duration) (Item, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		it, ok, ch, err := q.popHead(ctx)
		if err != nil {
			return Item{}, err
		}
		if ok {
			return it, nil
		}

		if deadline.IsZero() {
			select {
			case <-ch:
			case <-ctx.Done():
				return Item{}, ctx.Err()
			}
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Item{}, ErrEmpty
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return Item{}, ErrEmpty
		case <-ctx.Done():
			timer.Stop()
			return Item{}, ctx.Err()
		}
	}
}

// popHead removes the first entry if present. When the queue is empty it
// returns the notify channel captured under the same lock as the emptiness
// check, so a push between the check and the caller's wait cannot slip by
// unobserved. A corrupt head entry is deleted and surfaced as
// ErrCorruptEntry so the caller can log it.
func (q *Queue) popHead(ctx context.Context) (Item, bool, chan struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	iter, err := q.db.PrefixIter(EntryPrefix(q.name))
	if err != nil {
		return Item{}, false, nil, err
	}
	if !iter.First() {
		_ = iter.Close()
		return Item{}, false, q.notifyCh, nil
	}
	key := append([]byte(nil), iter.Key()...)
	val := append([]byte(nil), iter.Value()...)
	_ = iter.Close()

	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Delete(key, nil); err != nil {
		return Item{}, false, nil, err
	}
	next := q.count
	if next > 0 {
		next--
	}
	if err := b.Set(MetaKey(q.name), q.encodeMeta(next), nil); err != nil {
		return Item{}, false, nil, err
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return Item{}, false, nil, err
	}
	q.count = next

	payload, enqMs, attempts, ok := DecodeEntry(val)
	if !ok {
		return Item{}, false, nil, ErrCorruptEntry
	}
	return Item{Seq: seqFromEntryKey(key), Payload: payload, EnqueuedMs: enqMs, Attempts: attempts}, true, nil, nil
}

func (q *Queue) encodeMeta(count uint32) []byte {
	var meta [12]byte
	binary.BigEndian.PutUint64(meta[0:8], q.lastSeq)
	binary.BigEndian.PutUint32(meta[8:12], count)
	return meta[:]
}
