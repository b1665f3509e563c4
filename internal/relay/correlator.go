package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	logpkg "github.com/rzbill/relay/pkg/log"
)

var (
	// ErrDuplicateWaiter is returned when a correlation id already has an
	// outstanding waiter. Duplicate ids are a caller error.
	ErrDuplicateWaiter = errors.New("relay: duplicate correlation waiter")

	// ErrAwaitTimeout is returned when no reply arrives before the deadline.
	ErrAwaitTimeout = errors.New("relay: await timeout")
)

// Correlator matches asynchronous replies to suspended callers by
// correlation id. Each outstanding request holds a buffered channel; Resolve
// removes the waiter under the lock before sending, so a reply wakes at most
// one caller and late replies are dropped.
type Correlator struct {
	logger logpkg.Logger

	mu      sync.Mutex
	waiters map[string]chan json.RawMessage
}

// NewCorrelator creates an empty waiter table.
func NewCorrelator(logger logpkg.Logger) *Correlator {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	return &Correlator{
		logger:  logger.WithComponent("correlator"),
		waiters: make(map[string]chan json.RawMessage),
	}
}

// Pending returns the number of outstanding waiters.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// AwaitReply registers a waiter for id and suspends until a matching reply
// arrives, the timeout elapses, or ctx is done. The waiter is always removed
// before returning, so a late reply cannot resurrect it.
func (c *Correlator) AwaitReply(ctx context.Context, id string, timeout time.Duration) (json.RawMessage, error) {
	ch := make(chan json.RawMessage, 1)

	c.mu.Lock()
	if _, exists := c.waiters[id]; exists {
		c.mu.Unlock()
		return nil, ErrDuplicateWaiter
	}
	c.waiters[id] = ch
	c.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case payload := <-ch:
		return payload, nil
	case <-timeoutCh:
		return c.abandon(id, ch, ErrAwaitTimeout)
	case <-ctx.Done():
		return c.abandon(id, ch, ctx.Err())
	}
}

// abandon removes the waiter after a timeout or cancellation. Resolve may
// have won the race and already sent a payload; prefer it when present.
func (c *Correlator) abandon(id string, ch chan json.RawMessage, cause error) (json.RawMessage, error) {
	c.mu.Lock()
	_, outstanding := c.waiters[id]
	if outstanding {
		delete(c.waiters, id)
	}
	c.mu.Unlock()
	if !outstanding {
		select {
		case payload := <-ch:
			return payload, nil
		default:
		}
	}
	return nil, cause
}

// Resolve wakes the waiter for id with payload. Resolving an id with no
// outstanding waiter is a no-op; late and duplicate replies are expected.
// Reports whether a waiter was woken.
func (c *Correlator) Resolve(id string, payload json.RawMessage) bool {
	c.mu.Lock()
	ch, ok := c.waiters[id]
	if ok {
		delete(c.waiters, id)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("reply with no outstanding waiter", logpkg.Str("request_id", id))
		return false
	}
	ch <- payload
	return true
}
