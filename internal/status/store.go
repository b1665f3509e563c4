package status

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
	logpkg "github.com/rzbill/relay/pkg/log"
)

const (
	kvPrefix  = "kv/"
	expPrefix = "kv_exp/"
)

// Store is a string key/value store with optional TTLs.
type Store struct {
	db     *pebblestore.DB
	logger logpkg.Logger

	// mu serializes Set/Delete so the expiry index never holds stale
	// entries for a rewritten key.
	mu sync.Mutex

	// nowMs is overridable in tests.
	nowMs func() int64
}

// New creates a Store on the given database.
func New(db *pebblestore.DB, logger logpkg.Logger) *Store {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	return &Store{
		db:     db,
		logger: logger.WithComponent("status"),
		nowMs:  func() int64 { return time.Now().UnixMilli() },
	}
}

func kvKey(key string) []byte { return []byte(kvPrefix + key) }

func expKey(expiresMs int64, key string) []byte {
	prefix := []byte(expPrefix)
	out := make([]byte, len(prefix)+8+len(key))
	copy(out, prefix)
	binary.BigEndian.PutUint64(out[len(prefix):], uint64(expiresMs))
	copy(out[len(prefix)+8:], key)
	return out
}

// Set writes key=value. A ttl of zero means the key never expires; a
// positive ttl replaces any previous expiry.
func (s *Store) Set(key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()

	// Drop the previous expiry index entry, if any.
	if old, err := s.db.Get(kvKey(key)); err == nil && len(old) >= 8 {
		if oldExp := int64(binary.BigEndian.Uint64(old[0:8])); oldExp > 0 {
			if err := b.Delete(expKey(oldExp, key), nil); err != nil {
				return err
			}
		}
	}

	var expiresMs int64
	if ttl > 0 {
		expiresMs = s.nowMs() + ttl.Milliseconds()
	}
	rec := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(rec[0:8], uint64(expiresMs))
	copy(rec[8:], value)
	if err := b.Set(kvKey(key), rec, nil); err != nil {
		return err
	}
	if expiresMs > 0 {
		if err := b.Set(expKey(expiresMs, key), nil, nil); err != nil {
			return err
		}
	}
	return s.db.CommitBatch(context.Background(), b)
}

// Get returns the value for key. Expired keys read as absent even before the
// sweeper has removed them.
func (s *Store) Get(key string) (string, bool, error) {
	rec, err := s.db.Get(kvKey(key))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	if len(rec) < 8 {
		return "", false, nil
	}
	if exp := int64(binary.BigEndian.Uint64(rec[0:8])); exp > 0 && exp <= s.nowMs() {
		return "", false, nil
	}
	return string(rec[8:]), true, nil
}

// Delete removes a key. Idempotent.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()
	if old, err := s.db.Get(kvKey(key)); err == nil && len(old) >= 8 {
		if oldExp := int64(binary.BigEndian.Uint64(old[0:8])); oldExp > 0 {
			if err := b.Delete(expKey(oldExp, key), nil); err != nil {
				return err
			}
		}
	}
	if err := b.Delete(kvKey(key), nil); err != nil {
		return err
	}
	return s.db.CommitBatch(context.Background(), b)
}

// Sweep physically removes keys whose expiry is at or before now. Returns
// the number of keys removed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowMs()
	iter, err := s.db.PrefixIter([]byte(expPrefix))
	if err != nil {
		return 0, err
	}

	type victim struct {
		idxKey []byte
		key    string
	}
	var victims []victim
	for ok := iter.First(); ok; ok = iter.Next() {
		k := iter.Key()
		if len(k) < len(expPrefix)+8 {
			continue
		}
		exp := int64(binary.BigEndian.Uint64(k[len(expPrefix) : len(expPrefix)+8]))
		if exp > now {
			break
		}
		victims = append(victims, victim{
			idxKey: append([]byte(nil), k...),
			key:    string(k[len(expPrefix)+8:]),
		})
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	if len(victims) == 0 {
		return 0, nil
	}

	b := s.db.NewBatch()
	defer b.Close()
	for _, v := range victims {
		if err := b.Delete(v.idxKey, nil); err != nil {
			return 0, err
		}
		if err := b.Delete(kvKey(v.key), nil); err != nil {
			return 0, err
		}
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	return len(victims), nil
}

// RunSweeper periodically sweeps expired keys until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.logger.Warn("sweep failed", logpkg.Err(err))
			} else if n > 0 {
				s.logger.Debug("swept expired keys", logpkg.Int("count", n))
			}
		}
	}
}
