// Package errgroup manages a set of goroutines that share a cancellation
// context, with panic recovery. Saga fan-out/join points use it so that one
// panicking sub-step surfaces as an error instead of crashing the process.
package errgroup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	libLog "github.com/meridian-commerce/orchestrator/log"
	"github.com/meridian-commerce/orchestrator/runtime"
)

// ErrPanicRecovered is returned when a goroutine in the group panics.
var ErrPanicRecovered = errors.New("errgroup: panic recovered")

// Group manages goroutines sharing a cancellation context. The first error
// returned by any goroutine cancels the group's context and is returned by
// Wait; subsequent errors are discarded.
type Group struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errOnce sync.Once
	err     error
	logger  libLog.Logger
}

// WithContext returns a new Group and a derived context. The derived context
// is canceled when the first goroutine returns a non-nil error or when Wait
// returns, whichever happens first.
func WithContext(ctx context.Context) (*Group, context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	return &Group{ctx: ctx, cancel: cancel}, ctx
}

// SetLogger sets an optional logger for panic recovery observability.
func (grp *Group) SetLogger(logger libLog.Logger) {
	if grp == nil {
		return
	}

	grp.logger = logger
}

// Go starts fn in a new goroutine. A recovered panic is converted into
// ErrPanicRecovered and treated like any other first error.
func (grp *Group) Go(fn func() error) {
	grp.wg.Add(1)

	go func() {
		defer grp.wg.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				runtime.HandlePanicValue(grp.effectiveCtx(), grp.logger, recovered, "errgroup", "group.Go")

				grp.record(fmt.Errorf("%w: %v", ErrPanicRecovered, recovered))
			}
		}()

		if err := fn(); err != nil {
			grp.record(err)
		}
	}()
}

// Wait blocks until all goroutines have completed, cancels the group context,
// and returns the first recorded error, if any.
func (grp *Group) Wait() error {
	grp.wg.Wait()

	if grp.cancel != nil {
		grp.cancel()
	}

	return grp.err
}

// WaitContext waits for the group but gives up when ctx is done. On timeout
// the group context is cancelled and ctx's error is returned; goroutines that
// ignore cancellation may still be running when WaitContext returns, so
// callers must treat their results as abandoned.
func (grp *Group) WaitContext(ctx context.Context) error {
	done := make(chan error, 1)

	go func() {
		done <- grp.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if grp.cancel != nil {
			grp.cancel()
		}

		return fmt.Errorf("errgroup wait: %w", ctx.Err())
	}
}

func (grp *Group) record(err error) {
	grp.errOnce.Do(func() {
		grp.err = err
		if grp.cancel != nil {
			grp.cancel()
		}
	})
}

// effectiveCtx returns the group context, falling back to
// context.Background() for zero-value Groups.
func (grp *Group) effectiveCtx() context.Context {
	if grp.ctx != nil {
		return grp.ctx
	}

	return context.Background()
}
