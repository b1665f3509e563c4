package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rzbill/relay/internal/status"
	logpkg "github.com/rzbill/relay/pkg/log"
)

// LivenessStore is the slice of the status store the hub and heartbeat
// monitor write liveness flags through.
type LivenessStore interface {
	Set(key, value string, ttl time.Duration) error
	Delete(key string) error
}

// Resolver receives correlated replies. Implemented by the task service.
type Resolver interface {
	Resolve(requestID string, payload json.RawMessage) bool
}

// Sink receives unsolicited inbound frames for external consumption.
type Sink interface {
	Consume(connID string, f Frame)
}

// Recorder is the journal surface the core writes activity through.
type Recorder interface {
	Record(kind, message string, details any)
}

// HubOptions tune liveness bookkeeping.
type HubOptions struct {
	// LivenessTTL bounds how stale a "connected" flag can read. Should be
	// slightly longer than the heartbeat probe interval.
	LivenessTTL time.Duration
}

// DefaultLivenessTTL is used when no TTL is configured.
const DefaultLivenessTTL = 45 * time.Second

// Hub owns the authoritative set of live client connections. It fans
// outbound frames out to all of them and routes inbound frames to the
// correlator resolver or the generic sink.
type Hub struct {
	logger  logpkg.Logger
	store   LivenessStore
	journal Recorder
	ttl     time.Duration

	mu    sync.Mutex
	conns map[string]*Conn

	resolver Resolver
	sink     Sink
}

// NewHub creates an empty hub writing liveness flags through store.
func NewHub(logger logpkg.Logger, store LivenessStore, opts HubOptions) *Hub {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	ttl := opts.LivenessTTL
	if ttl <= 0 {
		ttl = DefaultLivenessTTL
	}
	return &Hub{
		logger: logger.WithComponent("hub"),
		store:  store,
		ttl:    ttl,
		conns:  make(map[string]*Conn),
	}
}

// SetResolver wires the correlated-reply consumer. Called once at startup.
func (h *Hub) SetResolver(r Resolver) { h.resolver = r }

// SetSink wires the unsolicited-frame consumer. Called once at startup.
func (h *Hub) SetSink(s Sink) { h.sink = s }

// SetRecorder wires the activity journal. Called once at startup.
func (h *Hub) SetRecorder(r Recorder) { h.journal = r }

// ConnCount returns the number of registered connections.
func (h *Hub) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// IsEmpty reports whether no client is connected.
func (h *Hub) IsEmpty() bool { return h.ConnCount() == 0 }

// Snapshot returns the registered connections at this instant.
func (h *Hub) Snapshot() []*Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

// Register adds a connection to the live set and marks it connected in the
// status store. A duplicate identity replaces the prior entry (last writer
// wins) and the prior transport is closed.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	old, replaced := h.conns[c.ID]
	wasEmpty := len(h.conns) == 0
	h.conns[c.ID] = c
	h.mu.Unlock()

	if replaced {
		h.logger.Warn("duplicate connection identity, replacing prior entry",
			logpkg.Str("conn_id", c.ID), logpkg.Str("remote", c.Remote))
		_ = old.Close()
	}
	h.setFlag(status.ConnKey(c.ID), status.Connected, h.ttl)
	if wasEmpty {
		h.setFlag(status.AggregateKey, status.Connected, h.ttl)
	}
	h.logger.Info("client connected",
		logpkg.Str("conn_id", c.ID), logpkg.Str("role", string(c.Role)), logpkg.Str("remote", c.Remote))
	h.record("connect", "client connected", map[string]string{"conn_id": c.ID, "role": string(c.Role)})
}

// Unregister removes a connection from the live set and clears its liveness
// key. Idempotent: concurrent disconnect and heartbeat-eviction triggers for
// the same connection run the teardown once, and a stale entry (already
// replaced by a re-registration) is left alone.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	cur, ok := h.conns[c.ID]
	if !ok || cur != c {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.ID)
	nowEmpty := len(h.conns) == 0
	h.mu.Unlock()

	if err := h.store.Delete(status.ConnKey(c.ID)); err != nil {
		h.logger.Warn("liveness key delete failed", logpkg.Str("conn_id", c.ID), logpkg.Err(err))
	}
	if nowEmpty {
		h.setFlag(status.AggregateKey, status.Disconnected, 0)
	}
	_ = c.Close()
	h.logger.Info("client disconnected", logpkg.Str("conn_id", c.ID))
	h.record("disconnect", "client disconnected", map[string]string{"conn_id": c.ID})
}

// Broadcast sends data to every live connection except excludeID. Per-target
// failures are isolated. Returns the number of targets that accepted the
// frame and the ids of those that failed, so the caller can tell a partial
// failure from nobody receiving the frame at all.
func (h *Hub) Broadcast(data []byte, excludeID string) (delivered int, failed []string) {
	for _, c := range h.Snapshot() {
		if c.ID == excludeID {
			continue
		}
		if err := c.Send(data); err != nil {
			h.logger.Warn("broadcast send failed", logpkg.Str("conn_id", c.ID), logpkg.Err(err))
			failed = append(failed, c.ID)
			continue
		}
		delivered++
	}
	return delivered, failed
}

// HandleInbound parses and routes one raw frame from a connection. Malformed
// frames are logged and dropped; the connection survives.
func (h *Hub) HandleInbound(c *Conn, raw []byte) {
	c.TouchSeen()

	f, err := ParseFrame(raw)
	if err != nil {
		h.logger.Warn("dropping malformed frame", logpkg.Str("conn_id", c.ID), logpkg.Err(err))
		return
	}

	switch f.Type {
	case TypePong:
		c.ResetMissed()
		h.setFlag(status.ConnKey(c.ID), status.Connected, h.ttl)
	case TypePing:
		if err := c.Send(NewPong().Encode()); err != nil {
			h.logger.Warn("pong send failed", logpkg.Str("conn_id", c.ID), logpkg.Err(err))
		}
	case TypeExtensionReady, TypeWorkerReady:
		c.MarkReady()
		h.logger.Info("client ready", logpkg.Str("conn_id", c.ID), logpkg.Str("signal", f.Type))
		h.consume(c.ID, f)
	case TypeChatOutput:
		// Chat output fans back out to the other clients as a generated
		// script, and still reaches the caller or sink like any reply.
		h.Broadcast(NewScriptGenerated(f.Payload).Encode(), c.ID)
		h.route(c.ID, f)
	default:
		h.route(c.ID, f)
	}
}

// route forwards a frame to the correlator when it carries a request id,
// otherwise to the generic sink.
func (h *Hub) route(connID string, f Frame) {
	if f.IsCorrelated() && h.resolver != nil {
		if h.resolver.Resolve(f.RequestID, f.Payload) {
			return
		}
	}
	h.consume(connID, f)
}

func (h *Hub) consume(connID string, f Frame) {
	if h.sink != nil {
		h.sink.Consume(connID, f)
	}
}

// RefreshLiveness re-asserts connected flags with the configured TTL. Called
// by the heartbeat monitor each probe cycle.
func (h *Hub) RefreshLiveness() {
	conns := h.Snapshot()
	if len(conns) == 0 {
		return
	}
	h.setFlag(status.AggregateKey, status.Connected, h.ttl)
	for _, c := range conns {
		h.setFlag(status.ConnKey(c.ID), status.Connected, h.ttl)
	}
}

func (h *Hub) setFlag(key, value string, ttl time.Duration) {
	if err := h.store.Set(key, value, ttl); err != nil {
		h.logger.Warn("liveness flag write failed", logpkg.Str("key", key), logpkg.Err(err))
	}
}

func (h *Hub) record(kind, message string, details any) {
	if h.journal != nil {
		h.journal.Record(kind, message, details)
	}
}
