package wsserver

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum inbound message size.
	maxMessageSize = 512 * 1024

	// Outbound queue depth per connection.
	sendQueueSize = 256
)

var (
	errTransportClosed = errors.New("wsserver: transport closed")
	errSendQueueFull   = errors.New("wsserver: send queue full")
)

// wsTransport adapts a gorilla connection to the hub's Transport. Writes are
// queued onto the send channel and drained by a single write pump, so the
// hub and heartbeat monitor never block on a slow peer.
type wsTransport struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newTransport(ws *websocket.Conn) *wsTransport {
	return &wsTransport{
		ws:   ws,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

// WriteMessage queues one frame. A full queue fails fast rather than
// blocking the caller.
func (t *wsTransport) WriteMessage(data []byte) error {
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}
	select {
	case t.send <- data:
		return nil
	case <-t.done:
		return errTransportClosed
	default:
		return errSendQueueFull
	}
}

// Close stops the write pump, which closes the underlying connection.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

// RemoteAddr reports the peer address.
func (t *wsTransport) RemoteAddr() string { return t.ws.RemoteAddr().String() }

// writePump drains the send queue onto the wire. Runs in its own goroutine
// per connection; exits when Close is called or a write fails.
func (t *wsTransport) writePump() {
	defer func() { _ = t.ws.Close() }()
	for {
		select {
		case data := <-t.send:
			_ = t.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				t.closeOnce.Do(func() { close(t.done) })
				return
			}
		case <-t.done:
			_ = t.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = t.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
