// Package telemetry provides a buffered in-process sink for operational
// counters, flushed through the structured logger.
package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Sink accumulates named counters in memory. Recording never blocks; the
// buffered values reach the operator only on Flush.
type Sink struct {
	logger *slog.Logger

	mu       sync.Mutex
	counters map[string]int64
	lastAt   time.Time
}

// New creates an empty sink.
func New(logger *slog.Logger) *Sink {
	return &Sink{
		logger:   logger.With("component", "telemetry"),
		counters: make(map[string]int64),
	}
}

// Incr adds one to a named counter.
func (s *Sink) Incr(name string) {
	s.Add(name, 1)
}

// Add adds n to a named counter.
func (s *Sink) Add(name string, n int64) {
	s.mu.Lock()
	s.counters[name] += n
	s.lastAt = time.Now()
	s.mu.Unlock()
}

// Get returns the current value of a counter.
func (s *Sink) Get(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[name]
}

// Flush writes the buffered counters through the logger and resets them.
// The counters are consumed as soon as the flush starts; if ctx expires
// before the write completes, the deadline error is returned so the caller
// can log and move on, and the log line may still appear late.
func (s *Sink) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)

		s.mu.Lock()
		snapshot := make(map[string]int64, len(s.counters))
		for k, v := range s.counters {
			snapshot[k] = v
		}
		s.counters = make(map[string]int64)
		s.mu.Unlock()

		if len(snapshot) == 0 {
			return
		}

		names := make([]string, 0, len(snapshot))
		for k := range snapshot {
			names = append(names, k)
		}
		sort.Strings(names)

		attrs := make([]any, 0, len(names)*2)
		for _, k := range names {
			attrs = append(attrs, k, snapshot[k])
		}
		s.logger.Info("telemetry flush", attrs...)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
