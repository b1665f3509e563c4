package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	logpkg "github.com/rzbill/relay/pkg/log"
)

func TestAwaitResolvedByReply(t *testing.T) {
	c := NewCorrelator(logpkg.NewTestLogger())
	go func() {
		time.Sleep(10 * time.Millisecond)
		if !c.Resolve("r1", json.RawMessage(`"pong"`)) {
			t.Error("resolve found no waiter")
		}
	}()
	payload, err := c.AwaitReply(context.Background(), "r1", time.Second)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if string(payload) != `"pong"` {
		t.Fatalf("payload: %s", payload)
	}
	if c.Pending() != 0 {
		t.Fatalf("waiter not removed")
	}
}

func TestAwaitTimesOut(t *testing.T) {
	c := NewCorrelator(logpkg.NewTestLogger())
	start := time.Now()
	_, err := c.AwaitReply(context.Background(), "r2", 100*time.Millisecond)
	if !errors.Is(err, ErrAwaitTimeout) {
		t.Fatalf("want ErrAwaitTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("blocked too long: %v", elapsed)
	}
	if c.Pending() != 0 {
		t.Fatalf("timed-out waiter not removed")
	}
	// A reply after the timeout is a harmless no-op.
	if c.Resolve("r2", json.RawMessage(`1`)) {
		t.Fatalf("late reply woke a waiter")
	}
}

func TestDuplicateWaiterFailsFast(t *testing.T) {
	c := NewCorrelator(logpkg.NewTestLogger())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.AwaitReply(context.Background(), "dup", time.Second)
		errCh <- err
	}()
	for c.Pending() == 0 {
		time.Sleep(time.Millisecond)
	}
	if _, err := c.AwaitReply(context.Background(), "dup", time.Second); !errors.Is(err, ErrDuplicateWaiter) {
		t.Fatalf("want ErrDuplicateWaiter, got %v", err)
	}
	c.Resolve("dup", nil)
	if err := <-errCh; err != nil {
		t.Fatalf("first waiter: %v", err)
	}
}

func TestResolveWithoutWaiterIsNoop(t *testing.T) {
	c := NewCorrelator(logpkg.NewTestLogger())
	if c.Resolve("ghost", json.RawMessage(`{}`)) {
		t.Fatalf("resolve reported a waiter")
	}
}

func TestConcurrentDistinctIDs(t *testing.T) {
	c := NewCorrelator(logpkg.NewTestLogger())
	ids := []string{"a", "b", "c", "d"}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			payload, err := c.AwaitReply(context.Background(), id, time.Second)
			if err != nil {
				t.Errorf("await %s: %v", id, err)
				return
			}
			if string(payload) != `"`+id+`"` {
				t.Errorf("cross-talk: id %s got %s", id, payload)
			}
		}(id)
	}
	for c.Pending() != len(ids) {
		time.Sleep(time.Millisecond)
	}
	for _, id := range ids {
		c.Resolve(id, json.RawMessage(`"`+id+`"`))
	}
	wg.Wait()
}

func TestAwaitCancelledByContext(t *testing.T) {
	c := NewCorrelator(logpkg.NewTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := c.AwaitReply(ctx, "r3", time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if c.Pending() != 0 {
		t.Fatalf("cancelled waiter not removed")
	}
}
