package relay

import (
	"testing"
	"time"

	"github.com/rzbill/relay/internal/status"
	logpkg "github.com/rzbill/relay/pkg/log"
)

func TestProbeSendsPingAndCountsMisses(t *testing.T) {
	hub, _ := newTestHub()
	tr := &fakeTransport{}
	c := NewConn("c1", RoleExtension, tr)
	hub.Register(c)

	hb := NewHeartbeat(hub, nil, logpkg.NewTestLogger(), HeartbeatOptions{Interval: time.Hour, MaxMissed: 3})
	probed, evicted := hb.Probe()
	if probed != 1 || evicted != 0 {
		t.Fatalf("probe: probed=%d evicted=%d", probed, evicted)
	}
	frames := tr.sentFrames()
	if len(frames) != 1 || frames[0].Type != TypePing {
		t.Fatalf("expected a PING, got %+v", frames)
	}
	if c.Missed() != 1 {
		t.Fatalf("missed counter: %d", c.Missed())
	}
}

func TestSilentConnectionEvictedAfterMaxMissed(t *testing.T) {
	hub, store := newTestHub()
	c := NewConn("c1", RoleExtension, &fakeTransport{})
	hub.Register(c)

	hb := NewHeartbeat(hub, nil, logpkg.NewTestLogger(), HeartbeatOptions{Interval: time.Hour, MaxMissed: 2})
	for i := 0; i < 2; i++ {
		if _, evicted := hb.Probe(); evicted != 0 {
			t.Fatalf("evicted too early on cycle %d", i)
		}
	}
	if _, evicted := hb.Probe(); evicted != 1 {
		t.Fatalf("silent connection survived the miss budget")
	}
	if hub.ConnCount() != 0 {
		t.Fatalf("conn count after eviction: %d", hub.ConnCount())
	}
	if v, _ := store.get(status.AggregateKey); v != status.Disconnected {
		t.Fatalf("aggregate after eviction: %q", v)
	}
}

func TestPongKeepsConnectionAlive(t *testing.T) {
	hub, _ := newTestHub()
	c := NewConn("c1", RoleExtension, &fakeTransport{})
	hub.Register(c)

	hb := NewHeartbeat(hub, nil, logpkg.NewTestLogger(), HeartbeatOptions{Interval: time.Hour, MaxMissed: 2})
	for i := 0; i < 5; i++ {
		hb.Probe()
		hub.HandleInbound(c, []byte(`{"type":"PONG"}`)) // answers every probe
	}
	if hub.ConnCount() != 1 {
		t.Fatalf("responsive connection evicted")
	}
}

func TestProbeRefreshesLiveness(t *testing.T) {
	hub, store := newTestHub()
	hub.Register(NewConn("c1", RoleExtension, &fakeTransport{}))
	_ = store.Delete(status.AggregateKey) // simulate TTL expiry

	hb := NewHeartbeat(hub, nil, logpkg.NewTestLogger(), HeartbeatOptions{Interval: time.Hour, MaxMissed: 3})
	hb.Probe()
	if v, _ := store.get(status.AggregateKey); v != status.Connected {
		t.Fatalf("aggregate not refreshed: %q", v)
	}
}
