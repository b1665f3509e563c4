package queue

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	q, err := Open(db, "commands")
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	return q
}

func TestPushPopFIFO(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c"} {
		if _, err := q.Push(ctx, []byte(p)); err != nil {
			t.Fatalf("push %q: %v", p, err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("len: want 3, got %d", q.Len())
	}
	for _, want := range []string{"a", "b", "c"} {
		it, err := q.BlockingPop(ctx, time.Second)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if string(it.Payload) != want {
			t.Fatalf("order: want %q, got %q", want, it.Payload)
		}
		if it.Attempts != 0 {
			t.Fatalf("fresh item attempts: %d", it.Attempts)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("len after drain: %d", q.Len())
	}
}

func TestBlockingPopTimesOut(t *testing.T) {
	q := openTestQueue(t)
	start := time.Now()
	_, err := q.BlockingPop(context.Background(), 100*time.Millisecond)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("want ErrEmpty, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond || elapsed > time.Second {
		t.Fatalf("timeout not respected: %v", elapsed)
	}
}

func TestBlockingPopWakesOnPush(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	got := make(chan Item, 1)
	go func() {
		it, err := q.BlockingPop(ctx, 5*time.Second)
		if err == nil {
			got <- it
		}
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := q.Push(ctx, []byte("wake")); err != nil {
		t.Fatalf("push: %v", err)
	}
	select {
	case it := <-got:
		if string(it.Payload) != "wake" {
			t.Fatalf("payload: %q", it.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("popper not woken by push")
	}
}

func TestConcurrentPushPopLosesNoWakeups(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	const n = 50

	got := make(chan Item, n)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			// No pop timeout: a push whose wakeup is dropped leaves this
			// goroutine blocked and the test fails on the drain deadline.
			it, err := q.BlockingPop(ctx, 0)
			if err != nil {
				return
			}
			got <- it
		}
	}()

	for i := 0; i < n; i++ {
		if _, err := q.Push(ctx, []byte{byte(i)}); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case it := <-got:
			if len(it.Payload) != 1 || it.Payload[0] != byte(i) {
				t.Fatalf("item %d: got %v", i, it.Payload)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("popper stalled after %d of %d items", i, n)
		}
	}
	wg.Wait()
	if q.Len() != 0 {
		t.Fatalf("len after drain: %d", q.Len())
	}
}

func TestBlockingPopCancel(t *testing.T) {
	q := openTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := q.BlockingPop(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestRequeueGoesToTail(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	payload := []byte(`{"type":"echo","payload":"hi","task_id":"t1"}`)
	if _, err := q.Push(ctx, payload); err != nil {
		t.Fatalf("push: %v", err)
	}
	it, err := q.BlockingPop(ctx, time.Second)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if _, err := q.Push(ctx, []byte("newer")); err != nil {
		t.Fatalf("push newer: %v", err)
	}
	if _, err := q.Requeue(ctx, it); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("len: %d", q.Len())
	}

	first, _ := q.BlockingPop(ctx, time.Second)
	if string(first.Payload) != "newer" {
		t.Fatalf("requeued item jumped the tail: %q", first.Payload)
	}
	second, _ := q.BlockingPop(ctx, time.Second)
	if !bytes.Equal(second.Payload, payload) {
		t.Fatalf("requeued payload not byte-identical: %q", second.Payload)
	}
	if second.Attempts != 1 {
		t.Fatalf("attempts after requeue: %d", second.Attempts)
	}
	if second.EnqueuedMs != it.EnqueuedMs {
		t.Fatalf("requeue should preserve enqueue time")
	}
}

func TestReopenRestoresState(t *testing.T) {
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	ctx := context.Background()
	q, _ := Open(db, "commands")
	if _, err := q.Push(ctx, []byte("persisted")); err != nil {
		t.Fatalf("push: %v", err)
	}
	_ = db.Close()

	db2, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("reopen pebble: %v", err)
	}
	defer db2.Close()
	q2, err := Open(db2, "commands")
	if err != nil {
		t.Fatalf("reopen queue: %v", err)
	}
	if q2.Len() != 1 {
		t.Fatalf("len after reopen: %d", q2.Len())
	}
	it, err := q2.BlockingPop(ctx, time.Second)
	if err != nil || string(it.Payload) != "persisted" {
		t.Fatalf("pop after reopen: %q %v", it.Payload, err)
	}
}

func TestRecordRoundTripAndCorruption(t *testing.T) {
	enc := EncodeEntry([]byte("payload"), 1234, 7)
	payload, ms, attempts, ok := DecodeEntry(enc)
	if !ok || string(payload) != "payload" || ms != 1234 || attempts != 7 {
		t.Fatalf("round trip: %q %d %d %v", payload, ms, attempts, ok)
	}
	enc[len(enc)-1] ^= 0xFF
	if _, _, _, ok := DecodeEntry(enc); ok {
		t.Fatalf("corrupt record decoded")
	}
}
