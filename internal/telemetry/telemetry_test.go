package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func newTestSink() *Sink {
	return New(slog.Default())
}

func TestIncrAndGet(t *testing.T) {
	s := newTestSink()

	s.Incr("broadcasts")
	s.Incr("broadcasts")
	s.Add("frames_dropped", 5)

	if got := s.Get("broadcasts"); got != 2 {
		t.Errorf("broadcasts = %d, want 2", got)
	}
	if got := s.Get("frames_dropped"); got != 5 {
		t.Errorf("frames_dropped = %d, want 5", got)
	}
	if got := s.Get("unknown"); got != 0 {
		t.Errorf("unknown counter = %d, want 0", got)
	}
}

func TestFlush_ResetsCounters(t *testing.T) {
	s := newTestSink()
	s.Incr("broadcasts")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := s.Get("broadcasts"); got != 0 {
		t.Errorf("broadcasts after flush = %d, want 0", got)
	}
}

func TestFlush_EmptySink(t *testing.T) {
	s := newTestSink()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush on empty sink: %v", err)
	}
}

func TestFlush_CanceledContext(t *testing.T) {
	s := newTestSink()
	s.Incr("broadcasts")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Flush(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Flush: unexpected error %v", err)
	}
}
