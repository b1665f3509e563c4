// Package log provides Relay's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Internally it is backed by Go's standard
// library slog via a custom handler that preserves the formatter/outputs
// pipeline, so stdlib and slog-aware dependencies can share one output path.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("hub"))
//	l.Info("client connected", log.Str("conn", id))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config supporting JSON
// or text formatting. RedirectStdLog routes standard library logs (for
// example Pebble's) through the facade.
package log
