// Package dispatch is the boundary between transport/worker goroutines and
// the single-threaded presentation layer. Producers hand closures to a
// Poster; the Loop executes them one at a time on its own goroutine, the way
// a UI toolkit's main thread would.
package dispatch

import (
	"context"
	"log/slog"
)

// Poster hands a closure to the presentation thread. Implementations must
// never run the closure on the calling goroutine.
type Poster func(func())

// Loop serializes posted closures onto a single goroutine. It stands in for
// a GUI main loop in headless runs and in tests.
type Loop struct {
	queue  chan func()
	logger *slog.Logger
}

// NewLoop creates a loop with a bounded queue. A full queue drops the posted
// closure rather than blocking the producer, matching the fire-and-forget
// contract of the transport callbacks.
func NewLoop(buffer int, logger *slog.Logger) *Loop {
	return &Loop{
		queue:  make(chan func(), buffer),
		logger: logger,
	}
}

// Post enqueues fn for execution on the loop goroutine.
func (l *Loop) Post(fn func()) {
	select {
	case l.queue <- fn:
	default:
		l.logger.Warn("dispatch queue full, dropping event")
	}
}

// Run executes posted closures until the context is cancelled. It is the
// caller's "UI thread"; exactly one Run must be active per loop.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.queue:
			fn()
		}
	}
}
