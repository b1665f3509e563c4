package serverrun

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	cfgpkg "github.com/rzbill/relay/internal/config"
	"github.com/rzbill/relay/internal/runtime"
	httpserver "github.com/rzbill/relay/internal/server/http"
	wsserver "github.com/rzbill/relay/internal/server/ws"
	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
	logpkg "github.com/rzbill/relay/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Options for starting the server.
type Options struct {
	ConfigPath string
	DataDir    string
	HTTPAddr   string
	WSAddr     string
	Fsync      pebblestore.FsyncMode
}

// Run starts the websocket acceptor and HTTP API and blocks until ctx is
// cancelled or a termination signal arrives.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := cfgpkg.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.HTTPAddr != "" {
		cfg.HTTPAddr = opts.HTTPAddr
	}
	if opts.WSAddr != "" {
		cfg.WSAddr = opts.WSAddr
	}

	logCfg := &logpkg.Config{
		Level:  getenvDefault("RELAY_LOG_LEVEL", "info"),
		Format: getenvDefault("RELAY_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(logCfg)
	if err != nil {
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(logCfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}

	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{Config: cfg, Fsync: opts.Fsync, Logger: procLogger})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	procLogger.Info("Starting relay server",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("ws", cfg.WSAddr),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("command_queue", cfg.CommandQueue),
		logpkg.Str("response_queue", cfg.ResponseQueue),
	)

	rt.Start(sctx)

	hsrv := httpserver.New(rt.Tasks(), rt, procLogger)
	wsrv := wsserver.New(rt.Hub(), procLogger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, cfg.HTTPAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("http server failed", logpkg.Err(err))
			stop()
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := wsrv.ListenAndServe(sctx, cfg.WSAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("ws server failed", logpkg.Err(err))
			stop()
		}
	}()

	<-sctx.Done()
	wg.Wait()
	hsrv.Close()
	wsrv.Close()
	procLogger.Info("relay server stopped")
	return nil
}
