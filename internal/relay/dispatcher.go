package relay

import (
	"context"
	"errors"
	"time"

	"github.com/rzbill/relay/internal/queue"
	logpkg "github.com/rzbill/relay/pkg/log"
)

// Tracker observes task delivery transitions. Implemented by the task
// service; methods must tolerate unknown ids.
type Tracker interface {
	MarkProcessing(taskID string)
	MarkFailed(taskID string, reason string)
}

// DispatcherOptions tune the drain loop.
type DispatcherOptions struct {
	// PopTimeout bounds each blocking pop so the loop can observe ctx
	// cancellation promptly. <= 0 means wait on ctx alone.
	PopTimeout time.Duration
	// RequeueBackoff is the pause after a no-recipient requeue, keeping the
	// loop from spinning hot while no client is connected.
	RequeueBackoff time.Duration
	// MaxAttempts caps redelivery of a single command. A command requeued
	// this many times is dropped and its task marked failed.
	MaxAttempts uint32
}

// DefaultDispatcherOptions matches the original broker's pacing.
func DefaultDispatcherOptions() DispatcherOptions {
	return DispatcherOptions{
		PopTimeout:     5 * time.Second,
		RequeueBackoff: time.Second,
		MaxAttempts:    300,
	}
}

// Dispatcher drains the command queue and fans each command out through the
// hub. Commands popped while no client is connected go back onto the tail of
// the queue rather than being lost.
type Dispatcher struct {
	queue   *queue.Queue
	hub     *Hub
	tracker Tracker
	journal Recorder
	logger  logpkg.Logger
	opts    DispatcherOptions
}

// NewDispatcher wires a drain loop over q delivering through hub. tracker
// and journal may be nil.
func NewDispatcher(q *queue.Queue, hub *Hub, tracker Tracker, journal Recorder, logger logpkg.Logger, opts DispatcherOptions) *Dispatcher {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	if opts.RequeueBackoff <= 0 {
		opts.RequeueBackoff = time.Second
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultDispatcherOptions().MaxAttempts
	}
	return &Dispatcher{
		queue:   q,
		hub:     hub,
		tracker: tracker,
		journal: journal,
		logger:  logger.WithComponent("dispatcher"),
		opts:    opts,
	}
}

// Run drains the queue until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", logpkg.Str("queue", d.queue.Name()))
	for {
		if ctx.Err() != nil {
			d.logger.Info("dispatcher stopped")
			return
		}
		it, err := d.queue.BlockingPop(ctx, d.opts.PopTimeout)
		switch {
		case err == nil:
			d.deliver(ctx, it)
		case errors.Is(err, queue.ErrEmpty):
			// Timed-out pop; loop back around.
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			d.logger.Info("dispatcher stopped")
			return
		case errors.Is(err, queue.ErrCorruptEntry):
			d.logger.Warn("dropping corrupt queue entry", logpkg.Err(err))
			d.record("poison", "dropped corrupt queue entry", nil)
		default:
			d.logger.Error("queue pop failed, backing off", logpkg.Err(err))
			d.sleep(ctx, d.opts.RequeueBackoff)
		}
	}
}

// deliver runs one dispatch cycle for a popped item.
func (d *Dispatcher) deliver(ctx context.Context, it queue.Item) {
	cmd, err := ParseCommand(it.Payload)
	if err != nil {
		// Poison: an entry that will never parse is dropped, not requeued.
		d.logger.Warn("dropping unparseable command", logpkg.Err(err))
		d.record("poison", "dropped unparseable command", nil)
		return
	}

	if d.hub.IsEmpty() {
		d.requeueOrDrop(ctx, it, cmd)
		return
	}

	delivered, failed := d.hub.Broadcast(it.Payload, "")
	if delivered == 0 {
		// Every send failed, or the live set drained between the emptiness
		// check and the fan-out. Nobody has the command, so it goes back.
		d.logger.Warn("no client received command, requeueing",
			logpkg.Str("type", cmd.Type), logpkg.Str("task_id", cmd.TaskID),
			logpkg.Int("failed_targets", len(failed)))
		d.requeueOrDrop(ctx, it, cmd)
		return
	}

	if d.tracker != nil && cmd.TaskID != "" {
		d.tracker.MarkProcessing(cmd.TaskID)
	}
	d.logger.Debug("command delivered",
		logpkg.Str("type", cmd.Type), logpkg.Str("task_id", cmd.TaskID),
		logpkg.Int("delivered", delivered), logpkg.Int("failed_targets", len(failed)))
	d.record("delivery", "command delivered", map[string]any{
		"type": cmd.Type, "task_id": cmd.TaskID, "failed_targets": failed,
	})
}

// requeueOrDrop puts an undelivered item back on the tail, or drops it and
// fails the task once the redelivery cap is reached.
func (d *Dispatcher) requeueOrDrop(ctx context.Context, it queue.Item, cmd Command) {
	if it.Attempts >= d.opts.MaxAttempts {
		d.logger.Warn("redelivery cap reached, dropping command",
			logpkg.Str("type", cmd.Type), logpkg.Str("task_id", cmd.TaskID),
			logpkg.Int("attempts", int(it.Attempts)))
		d.record("drop", "redelivery cap reached", map[string]string{"type": cmd.Type, "task_id": cmd.TaskID})
		if d.tracker != nil && cmd.TaskID != "" {
			d.tracker.MarkFailed(cmd.TaskID, "no client received command before redelivery cap")
		}
		return
	}
	if _, err := d.queue.Requeue(ctx, it); err != nil {
		d.logger.Error("requeue failed, command lost", logpkg.Str("type", cmd.Type), logpkg.Err(err))
		return
	}
	d.logger.Debug("undelivered command requeued",
		logpkg.Str("type", cmd.Type), logpkg.Int("attempts", int(it.Attempts)+1))
	d.sleep(ctx, d.opts.RequeueBackoff)
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) record(kind, message string, details any) {
	if d.journal != nil {
		d.journal.Record(kind, message, details)
	}
}
