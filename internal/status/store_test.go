package status

import (
	"context"
	"testing"
	"time"

	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
	logpkg "github.com/rzbill/relay/pkg/log"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, logpkg.NewTestLogger())
}

func TestSetGetNoTTL(t *testing.T) {
	s := openTestStore(t)
	if err := s.Set(AggregateKey, Connected, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.Get(AggregateKey)
	if err != nil || !ok || v != Connected {
		t.Fatalf("get: %q %v %v", v, ok, err)
	}
}

func TestTTLExpiryIsLazy(t *testing.T) {
	s := openTestStore(t)
	now := int64(1_000_000)
	s.nowMs = func() int64 { return now }

	if err := s.Set("k", "v", 500*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := s.Get("k"); !ok {
		t.Fatalf("key should be visible before expiry")
	}
	now += 600
	if _, ok, _ := s.Get("k"); ok {
		t.Fatalf("expired key should read as absent before sweep")
	}
}

func TestSweepRemovesExpiredOnly(t *testing.T) {
	s := openTestStore(t)
	now := int64(1_000_000)
	s.nowMs = func() int64 { return now }

	_ = s.Set("short", "a", 100*time.Millisecond)
	_ = s.Set("long", "b", 10*time.Second)
	_ = s.Set("forever", "c", 0)

	now += 200
	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 swept, got %d", n)
	}
	if _, ok, _ := s.Get("long"); !ok {
		t.Fatalf("unexpired key swept")
	}
	if _, ok, _ := s.Get("forever"); !ok {
		t.Fatalf("non-TTL key swept")
	}
}

func TestOverwriteResetsTTL(t *testing.T) {
	s := openTestStore(t)
	now := int64(1_000_000)
	s.nowMs = func() int64 { return now }

	_ = s.Set("k", "v1", 100*time.Millisecond)
	now += 50
	_ = s.Set("k", "v2", 10*time.Second)
	now += 100 // past the original expiry

	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	v, ok, _ := s.Get("k")
	if !ok || v != "v2" {
		t.Fatalf("rewritten key lost: %q %v", v, ok)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	_ = s.Set("k", "v", time.Minute)
	if err := s.Delete("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, ok, _ := s.Get("k"); ok {
		t.Fatalf("key survived delete")
	}
}
