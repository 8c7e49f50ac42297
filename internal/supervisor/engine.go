// Package supervisor is the event loop: it spawns children, reaps
// them, runs the restart policy, enforces per-process heartbeats and
// maximum age, and drives fatal-state detection. Every mutation to the
// catalog happens on the single goroutine running Engine.Run, matching
// the "no cross-thread shared state" concurrency model: other
// goroutines (one per spawned child, one per RPC connection) only ever
// reach the catalog by posting a closure through Engine.Exec.
package supervisor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kil/ubervisor/internal/catalog"
	"github.com/kil/ubervisor/internal/notify"
)

const (
	ErrorMax     = 6
	ErrorPeriod  = 10 * time.Second
	HeartbeatSec = 5 * time.Second
)

// Engine owns the catalog and notification bus and is the only thing
// allowed to mutate them.
type Engine struct {
	Cat *catalog.Catalog
	Bus *notify.Bus
	Log *logrus.Logger

	ops chan func()
}

func New(cat *catalog.Catalog, bus *notify.Bus, log *logrus.Logger) *Engine {
	return &Engine{
		Cat: cat,
		Bus: bus,
		Log: log,
		ops: make(chan func(), 256),
	}
}

// Run is the event loop. It returns when ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-e.ops:
			fn()
		}
	}
}

// Exec posts fn to the loop and blocks until it has run, giving RPC
// handlers the "dispatch is synchronous" guarantee from the wire
// protocol's connection state machine while keeping every catalog
// mutation on one goroutine.
func (e *Engine) Exec(fn func()) {
	done := make(chan struct{})
	e.ops <- func() {
		fn()
		close(done)
	}
	<-done
}

// post queues fn without waiting for it to run; used by background
// goroutines (the per-process waiter, per-process heartbeat timer)
// that have nothing to return to their caller.
func (e *Engine) post(fn func()) {
	e.ops <- fn
}
