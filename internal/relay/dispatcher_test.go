package relay

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/relay/internal/queue"
	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
	logpkg "github.com/rzbill/relay/pkg/log"
)

type fakeTracker struct {
	mu         sync.Mutex
	processing []string
	failed     []string
}

func (f *fakeTracker) MarkProcessing(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processing = append(f.processing, taskID)
}

func (f *fakeTracker) MarkFailed(taskID, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, taskID)
}

func openTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	q, err := queue.Open(db, "commands")
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	return q
}

func TestNoRecipientRequeuesSameBytes(t *testing.T) {
	q := openTestQueue(t)
	hub, _ := newTestHub()
	d := NewDispatcher(q, hub, nil, nil, logpkg.NewTestLogger(), DispatcherOptions{
		PopTimeout:     50 * time.Millisecond,
		RequeueBackoff: 10 * time.Millisecond,
		MaxAttempts:    10,
	})

	payload := []byte(`{"type":"echo","payload":"hi","task_id":"t1"}`)
	if _, err := q.Push(context.Background(), payload); err != nil {
		t.Fatalf("push: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	deadline := time.Now().Add(2 * time.Second)
	for q.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if q.Len() == 0 {
		t.Fatalf("command lost while no client connected")
	}
	it, err := q.BlockingPop(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("pop after requeue: %v", err)
	}
	if !bytes.Equal(it.Payload, payload) {
		t.Fatalf("payload changed across requeue: %s", it.Payload)
	}
	if it.Attempts == 0 {
		t.Fatalf("attempt count not incremented")
	}
}

func TestAllSendsFailingRequeuesCommand(t *testing.T) {
	q := openTestQueue(t)
	hub, _ := newTestHub()
	hub.Register(NewConn("stuck", RoleExtension, &fakeTransport{fail: true}))
	tracker := &fakeTracker{}
	d := NewDispatcher(q, hub, tracker, nil, logpkg.NewTestLogger(), DispatcherOptions{
		PopTimeout:     50 * time.Millisecond,
		RequeueBackoff: 10 * time.Millisecond,
		MaxAttempts:    10,
	})

	payload := []byte(`{"type":"echo","payload":"hi","task_id":"t4"}`)
	if _, err := q.Push(context.Background(), payload); err != nil {
		t.Fatalf("push: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	deadline := time.Now().Add(2 * time.Second)
	for q.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if q.Len() == 0 {
		t.Fatalf("command lost while every send failed")
	}
	it, err := q.BlockingPop(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("pop after requeue: %v", err)
	}
	if !bytes.Equal(it.Payload, payload) {
		t.Fatalf("payload changed across requeue: %s", it.Payload)
	}
	if it.Attempts == 0 {
		t.Fatalf("attempt count not incremented")
	}
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if len(tracker.processing) != 0 {
		t.Fatalf("task marked processing with no recipient: %v", tracker.processing)
	}
}

func TestDeliveryFansOutAndMarksProcessing(t *testing.T) {
	q := openTestQueue(t)
	hub, _ := newTestHub()
	tr1 := &fakeTransport{}
	tr2 := &fakeTransport{}
	hub.Register(NewConn("c1", RoleExtension, tr1))
	hub.Register(NewConn("c2", RoleWorker, tr2))
	tracker := &fakeTracker{}
	d := NewDispatcher(q, hub, tracker, nil, logpkg.NewTestLogger(), DispatcherOptions{
		PopTimeout:     50 * time.Millisecond,
		RequeueBackoff: 10 * time.Millisecond,
		MaxAttempts:    10,
	})

	payload := []byte(`{"type":"SEND","payload":{"prompt":"hi"},"task_id":"t2"}`)
	if _, err := q.Push(context.Background(), payload); err != nil {
		t.Fatalf("push: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(tr1.sentFrames()) > 0 && len(tr2.sentFrames()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	for name, tr := range map[string]*fakeTransport{"c1": tr1, "c2": tr2} {
		frames := tr.sentFrames()
		if len(frames) != 1 || frames[0].Type != "SEND" {
			t.Fatalf("%s frames: %+v", name, frames)
		}
	}
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if len(tracker.processing) != 1 || tracker.processing[0] != "t2" {
		t.Fatalf("processing marks: %v", tracker.processing)
	}
	if q.Len() != 0 {
		t.Fatalf("delivered command still queued")
	}
}

func TestPoisonCommandDroppedNotRequeued(t *testing.T) {
	q := openTestQueue(t)
	hub, _ := newTestHub()
	d := NewDispatcher(q, hub, nil, nil, logpkg.NewTestLogger(), DispatcherOptions{
		PopTimeout:     50 * time.Millisecond,
		RequeueBackoff: 10 * time.Millisecond,
		MaxAttempts:    10,
	})

	if _, err := q.Push(context.Background(), []byte(`this is not a command`)); err != nil {
		t.Fatalf("push: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	deadline := time.Now().Add(2 * time.Second)
	for q.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if q.Len() != 0 {
		t.Fatalf("poison command requeued")
	}
}

func TestRedeliveryCapMarksTaskFailed(t *testing.T) {
	q := openTestQueue(t)
	hub, _ := newTestHub()
	tracker := &fakeTracker{}
	d := NewDispatcher(q, hub, tracker, nil, logpkg.NewTestLogger(), DispatcherOptions{
		PopTimeout:     50 * time.Millisecond,
		RequeueBackoff: time.Millisecond,
		MaxAttempts:    3,
	})

	if _, err := q.Push(context.Background(), []byte(`{"type":"SEND","task_id":"t3"}`)); err != nil {
		t.Fatalf("push: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		tracker.mu.Lock()
		n := len(tracker.failed)
		tracker.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if len(tracker.failed) != 1 || tracker.failed[0] != "t3" {
		t.Fatalf("failed marks: %v", tracker.failed)
	}
	if q.Len() != 0 {
		t.Fatalf("capped command still queued")
	}
}
