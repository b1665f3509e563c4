package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rzbill/relay/internal/server/http/controllers"
	tasksvc "github.com/rzbill/relay/internal/services/tasks"
	logpkg "github.com/rzbill/relay/pkg/log"
)

// Server hosts the producer HTTP API.
type Server struct {
	srv *http.Server
	lis net.Listener
}

// New builds the route table over the task service.
func New(svc *tasksvc.Service, health controllers.HealthChecker, logger logpkg.Logger) *Server {
	mux := http.NewServeMux()
	reg := controllers.NewControllerRegistry(svc, health, logger)
	reg.RegisterAllRoutes(mux)
	return &Server{srv: &http.Server{Handler: cors(mux)}}
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe serves the API until ctx is done, then shuts down.
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

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
