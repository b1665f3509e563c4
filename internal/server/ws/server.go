package wsserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rzbill/relay/internal/relay"
	logpkg "github.com/rzbill/relay/pkg/log"
)

// Server accepts websocket clients on /ws and registers them with the hub.
type Server struct {
	hub      *relay.Hub
	logger   logpkg.Logger
	upgrader websocket.Upgrader
	srv      *http.Server
	lis      net.Listener
}

// New creates a websocket acceptor bound to hub.
func New(hub *relay.Hub, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	s := &Server{
		hub:    hub,
		logger: logger.WithComponent("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser extensions connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.srv = &http.Server{Handler: mux}
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe accepts clients until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the listener.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", logpkg.Str("remote", r.RemoteAddr), logpkg.Err(err))
		return
	}
	ws.SetReadLimit(maxMessageSize)

	role := relay.RoleExtension
	if r.URL.Query().Get("role") == string(relay.RoleWorker) {
		role = relay.RoleWorker
	}

	tr := newTransport(ws)
	go tr.writePump()

	c := relay.NewConn(uuid.NewString(), role, tr)
	s.hub.Register(c)
	s.readPump(c, ws)
}

// readPump feeds inbound frames to the hub until the connection dies.
func (s *Server) readPump(c *relay.Conn, ws *websocket.Conn) {
	defer s.hub.Unregister(c)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("read failed", logpkg.Str("conn_id", c.ID), logpkg.Err(err))
			}
			return
		}
		s.hub.HandleInbound(c, data)
	}
}
