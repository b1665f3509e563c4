package relay

import (
	"sync/atomic"
	"time"
)

// Role distinguishes the two client populations.
type Role string

const (
	RoleExtension Role = "extension"
	RoleWorker    Role = "worker"
)

// Transport is the duplex byte channel under a connection. The websocket
// acceptor provides the real one; tests provide fakes.
type Transport interface {
	// WriteMessage queues one frame for delivery. Safe for concurrent use.
	WriteMessage(data []byte) error
	Close() error
	RemoteAddr() string
}

// Conn is one registered client connection. Identity fields are immutable
// after construction; liveness counters are atomics so the heartbeat monitor
// and the read pump never contend.
type Conn struct {
	ID          string
	Role        Role
	Remote      string
	ConnectedAt time.Time

	transport Transport

	lastSeenMs atomic.Int64
	missed     atomic.Int32
	ready      atomic.Bool
}

// NewConn wraps a transport in a registered-connection record.
func NewConn(id string, role Role, t Transport) *Conn {
	c := &Conn{
		ID:          id,
		Role:        role,
		Remote:      t.RemoteAddr(),
		ConnectedAt: time.Now(),
		transport:   t,
	}
	c.TouchSeen()
	return c
}

// Send writes one encoded frame to the client.
func (c *Conn) Send(data []byte) error { return c.transport.WriteMessage(data) }

// Close tears down the transport.
func (c *Conn) Close() error { return c.transport.Close() }

// TouchSeen records inbound activity.
func (c *Conn) TouchSeen() { c.lastSeenMs.Store(time.Now().UnixMilli()) }

// LastSeen returns the last inbound activity time.
func (c *Conn) LastSeen() time.Time { return time.UnixMilli(c.lastSeenMs.Load()) }

// IncMissed counts one unanswered probe and returns the running total.
func (c *Conn) IncMissed() int { return int(c.missed.Add(1)) }

// ResetMissed clears the unanswered-probe counter.
func (c *Conn) ResetMissed() { c.missed.Store(0) }

// Missed returns the unanswered-probe counter.
func (c *Conn) Missed() int { return int(c.missed.Load()) }

// MarkReady records a readiness signal from the client.
func (c *Conn) MarkReady() { c.ready.Store(true) }

// Ready reports whether the client has signalled readiness.
func (c *Conn) Ready() bool { return c.ready.Load() }
