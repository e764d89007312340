// Package orchestrator is the service entry point: it wraps reads and sagas
// in circuit breakers with structured fallbacks, routes inbound service
// events, and owns graceful shutdown.
package orchestrator

import (
	"context"
	"sync/atomic"
)

// Lifecycle tracks one service instance's shutdown state. The flag is
// instance-scoped, written once, and safe to read from any goroutine.
type Lifecycle struct {
	shuttingDown atomic.Bool
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewLifecycle creates a running lifecycle.
func NewLifecycle() *Lifecycle {
	ctx, cancel := context.WithCancel(context.Background())

	return &Lifecycle{ctx: ctx, cancel: cancel}
}

// ShuttingDown reports whether shutdown has been initiated.
func (lc *Lifecycle) ShuttingDown() bool {
	return lc != nil && lc.shuttingDown.Load()
}

// BeginShutdown flips the shutdown flag. It returns true for the caller that
// actually initiated shutdown, false when it was already underway.
func (lc *Lifecycle) BeginShutdown() bool {
	if lc == nil {
		return false
	}

	return lc.shuttingDown.CompareAndSwap(false, true)
}

// Context is canceled when shutdown completes; background work derives from
// it.
func (lc *Lifecycle) Context() context.Context {
	if lc == nil || lc.ctx == nil {
		return context.Background()
	}

	return lc.ctx
}

// finish cancels the lifecycle context.
func (lc *Lifecycle) finish() {
	if lc != nil && lc.cancel != nil {
		lc.cancel()
	}
}
