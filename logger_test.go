package vecsync

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestDiscardHandler(t *testing.T) {
	h := discard{}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if h.Enabled(context.Background(), level) {
			t.Errorf("discard.Enabled(%v) = true, want false", level)
		}
	}
	if err := h.Handle(context.Background(), slog.Record{}); err != nil {
		t.Errorf("discard.Handle() = %v, want nil", err)
	}
	if _, ok := h.WithAttrs([]slog.Attr{slog.String("key", "val")}).(discard); !ok {
		t.Error("discard.WithAttrs() should return discard")
	}
	if _, ok := h.WithGroup("group").(discard); !ok {
		t.Error("discard.WithGroup() should return discard")
	}
}

func TestLoggerDefaultSilent(t *testing.T) {
	for _, l := range []*slog.Logger{Logger(), Component("incr")} {
		if l == nil {
			t.Fatal("logger is nil")
		}
		if l.Enabled(context.Background(), slog.LevelError) {
			t.Error("default logger should be disabled")
		}
	}
}

func TestSetLogger(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil) })

	var buf bytes.Buffer
	custom := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	SetLogger(custom)

	if Logger() != custom {
		t.Error("Logger() did not return the installed logger")
	}
	Logger().Debug("delta packed", "modules", 3)
	if !strings.Contains(buf.String(), "delta packed") {
		t.Errorf("log output = %q", buf.String())
	}

	SetLogger(nil)
	if Logger().Enabled(context.Background(), slog.LevelError) {
		t.Error("SetLogger(nil) should restore the silent logger")
	}
}

func TestComponent(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil) })

	var first, second bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&first, nil)))
	l := Component("svg")
	if Component("svg") != l {
		t.Error("Component should cache the derived logger")
	}
	l.Info("rendered")
	if !strings.Contains(first.String(), "component=svg") {
		t.Errorf("first output = %q, want component attribute", first.String())
	}

	// A new base logger invalidates the cached component loggers.
	SetLogger(slog.New(slog.NewTextHandler(&second, nil)))
	Component("svg").Info("rendered again")
	if strings.Contains(first.String(), "rendered again") {
		t.Error("component logger kept writing to the replaced handler")
	}
	if !strings.Contains(second.String(), "component=svg") {
		t.Errorf("second output = %q", second.String())
	}
}

func TestLoggerConcurrentAccess(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil) })

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
			} else {
				SetLogger(nil)
			}
			Logger().Debug("concurrent")
			Component("incr").Debug("concurrent")
		}()
	}
	wg.Wait()
}
