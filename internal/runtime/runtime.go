package runtime

import (
	"context"
	"errors"
	"time"

	cfgpkg "github.com/rzbill/relay/internal/config"
	"github.com/rzbill/relay/internal/journal"
	"github.com/rzbill/relay/internal/queue"
	"github.com/rzbill/relay/internal/relay"
	tasksvc "github.com/rzbill/relay/internal/services/tasks"
	"github.com/rzbill/relay/internal/status"
	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
	logpkg "github.com/rzbill/relay/pkg/log"
)

// sweepInterval paces the status-store TTL sweeper.
const sweepInterval = 30 * time.Second

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Fsync  pebblestore.FsyncMode
	Logger logpkg.Logger
}

// Runtime wires storage, queues, the relay core, and the task service for a
// single-node instance.
type Runtime struct {
	cfg    cfgpkg.Config
	logger logpkg.Logger

	db        *pebblestore.DB
	commands  *queue.Queue
	responses *queue.Queue
	store     *status.Store
	journal   *journal.Journal

	hub        *relay.Hub
	correlator *relay.Correlator
	dispatcher *relay.Dispatcher
	heartbeat  *relay.Heartbeat
	tasks      *tasksvc.Service
}

// Open initializes storage and wires every component. Background loops are
// not started until Start.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}

	db, err := pebblestore.Open(pebblestore.Options{DataDir: cfg.DataDir, Fsync: opts.Fsync})
	if err != nil {
		return nil, err
	}

	commands, err := queue.Open(db, cfg.CommandQueue)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	responses, err := queue.Open(db, cfg.ResponseQueue)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store := status.New(db, logger)
	jnl, err := journal.Open(db, logger, cfg.Tasks.JournalCap)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	correlator := relay.NewCorrelator(logger)
	hub := relay.NewHub(logger, store, relay.HubOptions{LivenessTTL: cfg.Heartbeat.LivenessTTL()})
	hub.SetRecorder(jnl)

	tasks := tasksvc.New(commands, responses, store, correlator, hub, jnl, logger, tasksvc.Options{
		ResultTTL:           time.Duration(cfg.Tasks.ResultTTLMs) * time.Millisecond,
		DefaultAwaitTimeout: time.Duration(cfg.Tasks.DefaultAwaitTimeoutMs) * time.Millisecond,
	})
	hub.SetResolver(tasks)
	hub.SetSink(tasks)

	dispatcher := relay.NewDispatcher(commands, hub, tasks, jnl, logger, relay.DispatcherOptions{
		PopTimeout:     time.Duration(cfg.Dispatch.PopTimeoutMs) * time.Millisecond,
		RequeueBackoff: time.Duration(cfg.Dispatch.RequeueBackoffMs) * time.Millisecond,
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
	})
	heartbeat := relay.NewHeartbeat(hub, jnl, logger, relay.HeartbeatOptions{
		Interval:  cfg.Heartbeat.Interval(),
		MaxMissed: cfg.Heartbeat.MaxMissed,
	})

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		commands:   commands,
		responses:  responses,
		store:      store,
		journal:    jnl,
		hub:        hub,
		correlator: correlator,
		dispatcher: dispatcher,
		heartbeat:  heartbeat,
		tasks:      tasks,
	}, nil
}

// Start launches the dispatcher, heartbeat, and TTL sweeper loops. They run
// until ctx is done.
func (r *Runtime) Start(ctx context.Context) {
	go r.dispatcher.Run(ctx)
	go r.heartbeat.Run(ctx)
	go r.store.RunSweeper(ctx, sweepInterval)
}

// Close releases underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple storage health check.
func (r *Runtime) CheckHealth(_ context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// Hub returns the connection hub.
func (r *Runtime) Hub() *relay.Hub { return r.hub }

// Tasks returns the task lifecycle service.
func (r *Runtime) Tasks() *tasksvc.Service { return r.tasks }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.cfg }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }
