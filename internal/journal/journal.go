package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
	logpkg "github.com/rzbill/relay/pkg/log"
)

// DefaultCap bounds the journal when no cap is configured.
const DefaultCap = 1000

// Entry is one recorded activity.
type Entry struct {
	Seq     uint64          `json:"seq"`
	TsMs    int64           `json:"ts_ms"`
	Kind    string          `json:"kind"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Journal is a capped append-only activity log.
type Journal struct {
	db     *pebblestore.DB
	logger logpkg.Logger
	cap    int

	mu       sync.Mutex
	lastSeq  uint64
	firstSeq uint64
}

var (
	metaKey     = []byte("j/m")
	entryPrefix = []byte("j/e/")
)

func entryKey(seq uint64) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], seq)
	return key
}

// Open initializes a Journal, restoring sequence bounds from metadata.
func Open(db *pebblestore.DB, logger logpkg.Logger, capEntries int) (*Journal, error) {
	if capEntries <= 0 {
		capEntries = DefaultCap
	}
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	j := &Journal{db: db, logger: logger.WithComponent("journal"), cap: capEntries, firstSeq: 1}
	if meta, err := db.Get(metaKey); err == nil && len(meta) >= 16 {
		j.lastSeq = binary.BigEndian.Uint64(meta[0:8])
		j.firstSeq = binary.BigEndian.Uint64(meta[8:16])
	} else if err != nil && !pebblestore.IsNotFound(err) {
		return nil, err
	}
	return j, nil
}

// Append stores an entry, trimming the oldest entries beyond the cap.
func (j *Journal) Append(ctx context.Context, kind, message string, details json.RawMessage) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	b := j.db.NewBatch()
	defer b.Close()

	seq := j.lastSeq + 1
	e := Entry{Seq: seq, TsMs: time.Now().UnixMilli(), Kind: kind, Message: message, Details: details}
	val, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := b.Set(entryKey(seq), val, nil); err != nil {
		return err
	}

	first := j.firstSeq
	for seq-first+1 > uint64(j.cap) {
		if err := b.Delete(entryKey(first), nil); err != nil {
			return err
		}
		first++
	}

	var meta [16]byte
	binary.BigEndian.PutUint64(meta[0:8], seq)
	binary.BigEndian.PutUint64(meta[8:16], first)
	if err := b.Set(metaKey, meta[:], nil); err != nil {
		return err
	}
	if err := j.db.CommitBatch(ctx, b); err != nil {
		return err
	}
	j.lastSeq = seq
	j.firstSeq = first
	return nil
}

// Record is the fire-and-forget form of Append: details are marshalled and
// failures are logged rather than returned. Safe for hot paths.
func (j *Journal) Record(kind, message string, details any) {
	var raw json.RawMessage
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			j.logger.Warn("journal details not serializable", logpkg.Str("kind", kind), logpkg.Err(err))
		} else {
			raw = b
		}
	}
	if err := j.Append(context.Background(), kind, message, raw); err != nil {
		j.logger.Warn("journal append failed", logpkg.Str("kind", kind), logpkg.Err(err))
	}
}

// Len returns the number of stored entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.lastSeq < j.firstSeq {
		return 0
	}
	return int(j.lastSeq - j.firstSeq + 1)
}

// ReadRecent returns up to limit entries, newest first.
func (j *Journal) ReadRecent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	iter, err := j.db.PrefixIter(entryPrefix)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Entry
	for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue // skip unreadable entries
		}
		out = append(out, e)
	}
	return out, nil
}
