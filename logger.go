package vecsync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// discard drops every record and reports every level as disabled, so
// callers skip attribute formatting while no logger is installed.
type discard struct{}

func (discard) Enabled(context.Context, slog.Level) bool  { return false }
func (discard) Handle(context.Context, slog.Record) error { return nil }
func (discard) WithAttrs([]slog.Attr) slog.Handler        { return discard{} }
func (discard) WithGroup(string) slog.Handler             { return discard{} }

var silent = slog.New(discard{})

// installed pairs the base logger with a generation that increments on every
// SetLogger, so component loggers derived from an older base are rebuilt.
type installed struct {
	base *slog.Logger
	gen  uint64
}

var current atomic.Pointer[installed]

// components caches one derived logger per component name.
var components sync.Map // string -> *componentLogger

type componentLogger struct {
	gen uint64
	l   *slog.Logger
}

func init() {
	current.Store(&installed{base: silent})
}

// SetLogger installs the logger shared by vecsync and its sub-packages.
// Nothing is logged until it is called; nil restores the silent default.
// It may be called at any time, concurrently with logging.
//
// Levels:
//   - [slog.LevelDebug]: per-delta and per-merge module counts, byte sizes, compile results
//   - [slog.LevelInfo]: dev server lifecycle (listening, sessions, republished documents)
//   - [slog.LevelWarn]: degraded output such as placeholders for unresolved references
//   - [slog.LevelError]: failures a session owner has to act on (pack or merge errors)
//
// Example:
//
//	vecsync.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = silent
	}
	for {
		old := current.Load()
		if current.CompareAndSwap(old, &installed{base: l, gen: old.gen + 1}) {
			return
		}
	}
}

// Logger returns the installed logger.
func Logger() *slog.Logger {
	return current.Load().base
}

// Component returns the installed logger with a "component" attribute set
// to name. The derived logger is cached until the next SetLogger.
func Component(name string) *slog.Logger {
	cur := current.Load()
	if v, ok := components.Load(name); ok {
		if c := v.(*componentLogger); c.gen == cur.gen {
			return c.l
		}
	}
	c := &componentLogger{gen: cur.gen, l: cur.base.With("component", name)}
	components.Store(name, c)
	return c.l
}
