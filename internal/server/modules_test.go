package server

import (
	"log/slog"
	"testing"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func TestNewFxEventLogger_WrapsApplicationLogger(t *testing.T) {
	log := slog.Default()
	ev := NewFxEventLogger(log)
	sl, ok := ev.(*fxevent.SlogLogger)
	if !ok {
		t.Fatalf("event logger type = %T, want *fxevent.SlogLogger", ev)
	}
	if sl.Logger != log {
		t.Error("event logger does not wrap the provided logger")
	}
}

// The application graph must resolve every provider, including the event
// logger that consumes the configured *slog.Logger.
func TestModule_GraphResolves(t *testing.T) {
	if err := fx.ValidateApp(Module); err != nil {
		t.Fatalf("application graph invalid: %v", err)
	}
}
