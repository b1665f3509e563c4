package relay

import (
	"context"
	"time"

	logpkg "github.com/rzbill/relay/pkg/log"
)

// HeartbeatOptions tune probing and eviction.
type HeartbeatOptions struct {
	// Interval between probe cycles.
	Interval time.Duration
	// MaxMissed is how many unanswered probes a connection survives before
	// it is forcibly unregistered.
	MaxMissed int
}

// DefaultHeartbeatOptions probes every 30s and evicts after 3 silent cycles,
// tolerating briefly suspended browser tabs.
func DefaultHeartbeatOptions() HeartbeatOptions {
	return HeartbeatOptions{Interval: 30 * time.Second, MaxMissed: 3}
}

// Heartbeat periodically probes every registered connection and evicts the
// ones that stay silent. It also re-asserts liveness flags so their TTLs
// outlive the probe interval.
type Heartbeat struct {
	hub     *Hub
	journal Recorder
	logger  logpkg.Logger
	opts    HeartbeatOptions
}

// NewHeartbeat wires a monitor over hub. journal may be nil.
func NewHeartbeat(hub *Hub, journal Recorder, logger logpkg.Logger, opts HeartbeatOptions) *Heartbeat {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultHeartbeatOptions().Interval
	}
	if opts.MaxMissed <= 0 {
		opts.MaxMissed = DefaultHeartbeatOptions().MaxMissed
	}
	return &Heartbeat{hub: hub, journal: journal, logger: logger.WithComponent("heartbeat"), opts: opts}
}

// Run probes until ctx is done.
func (hb *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(hb.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb.Probe()
		}
	}
}

// Probe runs one cycle: evict connections past the miss budget, send PING to
// the rest, refresh liveness TTLs. Returns how many were probed and evicted.
func (hb *Heartbeat) Probe() (probed, evicted int) {
	ping := NewPing().Encode()
	for _, c := range hb.hub.Snapshot() {
		if c.IncMissed() > hb.opts.MaxMissed {
			hb.logger.Warn("evicting unresponsive client",
				logpkg.Str("conn_id", c.ID), logpkg.Int("missed", c.Missed()))
			hb.hub.Unregister(c)
			if hb.journal != nil {
				hb.journal.Record("evict", "evicted unresponsive client", map[string]string{"conn_id": c.ID})
			}
			evicted++
			continue
		}
		if err := c.Send(ping); err != nil {
			hb.logger.Warn("probe send failed", logpkg.Str("conn_id", c.ID), logpkg.Err(err))
		}
		probed++
	}
	hb.hub.RefreshLiveness()
	return probed, evicted
}
