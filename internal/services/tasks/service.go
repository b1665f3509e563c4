package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/relay/internal/journal"
	"github.com/rzbill/relay/internal/queue"
	"github.com/rzbill/relay/internal/relay"
	"github.com/rzbill/relay/internal/status"
	"github.com/rzbill/relay/pkg/id"
	logpkg "github.com/rzbill/relay/pkg/log"
)

var (
	// ErrTaskNotFound is returned when a task id has no status key.
	ErrTaskNotFound = errors.New("tasks: not found")

	// ErrNoResponse is returned when a response long-poll times out empty.
	ErrNoResponse = errors.New("tasks: no response available")
)

// Options tune task lifecycle behavior.
type Options struct {
	// ResultTTL bounds how long completed/failed status and result keys
	// linger before expiring.
	ResultTTL time.Duration
	// DefaultAwaitTimeout is used for request/await calls that do not carry
	// their own timeout.
	DefaultAwaitTimeout time.Duration
}

// DefaultOptions keeps results for 10 minutes and awaits replies for 25
// seconds, the pacing the original workers and dashboard used.
func DefaultOptions() Options {
	return Options{ResultTTL: 10 * time.Minute, DefaultAwaitTimeout: 25 * time.Second}
}

// TaskView is the producer polling contract for one task.
type TaskView struct {
	TaskID string          `json:"task_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// ConnView describes one live connection for the status endpoint.
type ConnView struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	Remote      string `json:"remote"`
	Ready       bool   `json:"ready"`
	ConnectedAt int64  `json:"connected_at_ms"`
	LastSeen    int64  `json:"last_seen_ms"`
}

// StatusView is the liveness snapshot for the status endpoint.
type StatusView struct {
	Aggregate   string     `json:"status"`
	Connections []ConnView `json:"connections"`
}

// Service coordinates the queues, status store, correlator, and hub for the
// HTTP surface. It is the hub's Resolver and Sink.
type Service struct {
	commands   *queue.Queue
	responses  *queue.Queue
	store      *status.Store
	correlator *relay.Correlator
	hub        *relay.Hub
	journal    *journal.Journal
	ids        *id.Generator
	logger     logpkg.Logger
	opts       Options

	mu      sync.Mutex
	subs    map[int]chan relay.Frame
	nextSub int
}

// New wires a Service. journal may be nil.
func New(commands, responses *queue.Queue, store *status.Store, correlator *relay.Correlator, hub *relay.Hub, jnl *journal.Journal, logger logpkg.Logger, opts Options) *Service {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = DefaultOptions().ResultTTL
	}
	if opts.DefaultAwaitTimeout <= 0 {
		opts.DefaultAwaitTimeout = DefaultOptions().DefaultAwaitTimeout
	}
	return &Service{
		commands:   commands,
		responses:  responses,
		store:      store,
		correlator: correlator,
		hub:        hub,
		journal:    jnl,
		ids:        id.NewGenerator(),
		logger:     logger.WithComponent("tasks"),
		opts:       opts,
		subs:       make(map[int]chan relay.Frame),
	}
}

// Enqueue pushes a producer command onto the commands queue and marks its
// task queued. A missing task id is assigned.
func (s *Service) Enqueue(ctx context.Context, typ string, payload json.RawMessage, taskID string) (string, error) {
	if typ == "" {
		return "", fmt.Errorf("tasks: missing command type")
	}
	if taskID == "" {
		taskID = s.ids.NextString()
	}
	cmd := relay.Command{Type: typ, Payload: payload, TaskID: taskID}
	raw, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("tasks: encode command: %w", err)
	}
	if err := s.store.Set(status.TaskStatusKey(taskID), status.TaskQueued, 0); err != nil {
		return "", fmt.Errorf("tasks: mark queued: %w", err)
	}
	if _, err := s.commands.Push(ctx, raw); err != nil {
		return "", fmt.Errorf("tasks: enqueue: %w", err)
	}
	s.logger.Info("task enqueued", logpkg.Str("task_id", taskID), logpkg.Str("type", typ))
	s.record("task", "task enqueued", map[string]string{"task_id": taskID, "type": typ})
	return taskID, nil
}

// Task returns the polling view for a task id.
func (s *Service) Task(taskID string) (TaskView, error) {
	st, ok, err := s.store.Get(status.TaskStatusKey(taskID))
	if err != nil {
		return TaskView{}, err
	}
	if !ok {
		return TaskView{}, ErrTaskNotFound
	}
	view := TaskView{TaskID: taskID, Status: st}
	if st == status.TaskCompleted || st == status.TaskFailed {
		if res, found, err := s.store.Get(status.TaskResultKey(taskID)); err == nil && found {
			view.Result = json.RawMessage(res)
		}
	}
	return view, nil
}

// Request runs a request/await round trip: a fresh correlation id is embedded
// in the command payload, the command is dispatched, and the call suspends
// until the matching reply arrives or timeout elapses. timeout <= 0 uses the
// configured default.
func (s *Service) Request(ctx context.Context, typ string, payload json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = s.opts.DefaultAwaitTimeout
	}
	reqID := s.ids.NextString()

	body := map[string]json.RawMessage{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, fmt.Errorf("tasks: request payload must be a JSON object: %w", err)
		}
	}
	body["request_id"] = json.RawMessage(`"` + reqID + `"`)
	withID, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("tasks: encode request payload: %w", err)
	}

	raw, err := json.Marshal(relay.Command{Type: typ, Payload: withID})
	if err != nil {
		return nil, fmt.Errorf("tasks: encode command: %w", err)
	}
	if _, err := s.commands.Push(ctx, raw); err != nil {
		return nil, fmt.Errorf("tasks: enqueue request: %w", err)
	}
	s.logger.Debug("request dispatched", logpkg.Str("request_id", reqID), logpkg.Str("type", typ))
	return s.correlator.AwaitReply(ctx, reqID, timeout)
}

// MarkProcessing records delivery of a task's command.
func (s *Service) MarkProcessing(taskID string) {
	if err := s.store.Set(status.TaskStatusKey(taskID), status.TaskProcessing, 0); err != nil {
		s.logger.Warn("mark processing failed", logpkg.Str("task_id", taskID), logpkg.Err(err))
	}
}

// MarkFailed records a terminal failure with an error payload, so a polling
// producer sees failed status rather than an absent task.
func (s *Service) MarkFailed(taskID, reason string) {
	errPayload, _ := json.Marshal(map[string]string{"error": reason})
	if err := s.store.Set(status.TaskResultKey(taskID), string(errPayload), s.opts.ResultTTL); err != nil {
		s.logger.Warn("store failure payload failed", logpkg.Str("task_id", taskID), logpkg.Err(err))
	}
	if err := s.store.Set(status.TaskStatusKey(taskID), status.TaskFailed, s.opts.ResultTTL); err != nil {
		s.logger.Warn("mark failed failed", logpkg.Str("task_id", taskID), logpkg.Err(err))
	}
	s.record("task", "task failed", map[string]string{"task_id": taskID, "reason": reason})
}

// Resolve consumes a correlated reply from the hub. It wakes any waiter for
// the id; if the id names a tracked task, the task is also completed with
// the reply as its result. Reports whether the reply was claimed.
func (s *Service) Resolve(requestID string, payload json.RawMessage) bool {
	woke := s.correlator.Resolve(requestID, payload)

	if _, ok, err := s.store.Get(status.TaskStatusKey(requestID)); err == nil && ok {
		s.complete(requestID, payload)
		return true
	}
	return woke
}

func (s *Service) complete(taskID string, result json.RawMessage) {
	if len(result) == 0 {
		result = json.RawMessage(`null`)
	}
	if err := s.store.Set(status.TaskResultKey(taskID), string(result), s.opts.ResultTTL); err != nil {
		s.logger.Warn("store result failed", logpkg.Str("task_id", taskID), logpkg.Err(err))
		return
	}
	if err := s.store.Set(status.TaskStatusKey(taskID), status.TaskCompleted, s.opts.ResultTTL); err != nil {
		s.logger.Warn("mark completed failed", logpkg.Str("task_id", taskID), logpkg.Err(err))
		return
	}
	s.logger.Info("task completed", logpkg.Str("task_id", taskID))
	s.record("task", "task completed", map[string]string{"task_id": taskID})
}

// Consume receives unsolicited frames from the hub: they are appended to the
// responses queue for long-poll consumers and fanned out to stream
// subscribers.
func (s *Service) Consume(connID string, f relay.Frame) {
	if _, err := s.responses.Push(context.Background(), f.Encode()); err != nil {
		s.logger.Warn("response enqueue failed", logpkg.Str("conn_id", connID), logpkg.Err(err))
	}

	s.mu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- f:
		default:
			// Slow subscriber; drop rather than block the hub.
		}
	}
	s.mu.Unlock()
}

// NextResponse pops the oldest unsolicited response, blocking up to timeout.
func (s *Service) NextResponse(ctx context.Context, timeout time.Duration) (json.RawMessage, error) {
	it, err := s.responses.BlockingPop(ctx, timeout)
	if err != nil {
		if errors.Is(err, queue.ErrEmpty) {
			return nil, ErrNoResponse
		}
		return nil, err
	}
	return it.Payload, nil
}

// Subscribe registers a live response stream. The returned cancel func must
// be called when the consumer goes away.
func (s *Service) Subscribe() (<-chan relay.Frame, func()) {
	ch := make(chan relay.Frame, 16)
	s.mu.Lock()
	key := s.nextSub
	s.nextSub++
	s.subs[key] = ch
	s.mu.Unlock()
	cancel := func() {
		s.mu.Lock()
		delete(s.subs, key)
		s.mu.Unlock()
	}
	return ch, cancel
}

// CompileFilter validates a CEL filter expression for the response stream.
func CompileFilter(expr string) (celFilter, error) { return newCELFilter(expr) }

// Liveness reports the aggregate flag and the live connection set.
func (s *Service) Liveness() (StatusView, error) {
	agg, ok, err := s.store.Get(status.AggregateKey)
	if err != nil {
		return StatusView{}, err
	}
	if !ok {
		agg = status.Disconnected
	}
	view := StatusView{Aggregate: agg, Connections: []ConnView{}}
	for _, c := range s.hub.Snapshot() {
		view.Connections = append(view.Connections, ConnView{
			ID:          c.ID,
			Role:        string(c.Role),
			Remote:      c.Remote,
			Ready:       c.Ready(),
			ConnectedAt: c.ConnectedAt.UnixMilli(),
			LastSeen:    c.LastSeen().UnixMilli(),
		})
	}
	return view, nil
}

// Logs returns recent journal entries, newest first.
func (s *Service) Logs(limit int) ([]journal.Entry, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.ReadRecent(limit)
}

func (s *Service) record(kind, message string, details any) {
	if s.journal != nil {
		s.journal.Record(kind, message, details)
	}
}
