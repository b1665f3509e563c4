package log

import (
	stdlog "log"
	"strings"
)

// stdBridge adapts the facade to io.Writer so the standard library logger
// (used by Pebble, net/http, etc.) can be routed through it.
type stdBridge struct {
	logger Logger
}

func (b stdBridge) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	if msg != "" {
		b.logger.Info(msg, Str("source", "stdlog"))
	}
	return len(p), nil
}

// RedirectStdLog routes the standard library's default logger through the
// provided Logger.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdBridge{logger: logger})
}

// ToStdLogger returns a *log.Logger that writes through the facade, for
// libraries that require the standard type.
func ToStdLogger(logger Logger) *stdlog.Logger {
	return stdlog.New(stdBridge{logger: logger}, "", 0)
}
