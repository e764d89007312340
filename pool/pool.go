// Package pool runs asynchronous orchestration tasks (notification sends,
// inventory updates, fan-out sub-fetches) on a fixed set of workers, so that
// background work is bounded and can be drained during shutdown.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meridian-commerce/orchestrator/log"
	"github.com/meridian-commerce/orchestrator/runtime"
)

var (
	// ErrPoolClosed is returned by Submit after Close or Drain.
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrPoolFull is returned when the task queue has no room.
	ErrPoolFull = errors.New("worker pool queue is full")

	// ErrNilTask is returned when Submit is given a nil function.
	ErrNilTask = errors.New("task function is nil")
)

const (
	defaultWorkers   = 8
	defaultQueueSize = 256
)

type task struct {
	name string
	fn   func(context.Context)
}

// Pool is a fixed-size worker pool. Submit is non-blocking; tasks beyond the
// queue capacity are rejected rather than queued unboundedly.
type Pool struct {
	mu      sync.RWMutex
	tasks   chan task
	logger  log.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
	pending atomic.Int64
}

// Option configures a Pool.
type Option func(*settings)

type settings struct {
	workers   int
	queueSize int
}

// WithWorkers sets the number of workers.
func WithWorkers(workers int) Option {
	return func(st *settings) {
		if workers > 0 {
			st.workers = workers
		}
	}
}

// WithQueueSize sets the task queue capacity.
func WithQueueSize(size int) Option {
	return func(st *settings) {
		if size > 0 {
			st.queueSize = size
		}
	}
}

// New starts a pool with the given options.
func New(logger log.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = log.NewNop()
	}

	st := settings{workers: defaultWorkers, queueSize: defaultQueueSize}
	for _, opt := range opts {
		if opt != nil {
			opt(&st)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	pl := &Pool{
		tasks:  make(chan task, st.queueSize),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < st.workers; i++ {
		pl.wg.Add(1)

		go pl.worker()
	}

	return pl
}

// Submit enqueues fn for asynchronous execution. It never blocks: a full
// queue or a closed pool rejects the task immediately.
func (pl *Pool) Submit(name string, fn func(context.Context)) error {
	if pl == nil || pl.closed.Load() {
		return ErrPoolClosed
	}

	if fn == nil {
		return ErrNilTask
	}

	// The read lock keeps Drain from closing the channel mid-send.
	pl.mu.RLock()
	defer pl.mu.RUnlock()

	if pl.closed.Load() {
		return ErrPoolClosed
	}

	pl.pending.Add(1)

	select {
	case pl.tasks <- task{name: name, fn: fn}:
		return nil
	default:
		pl.pending.Add(-1)

		return ErrPoolFull
	}
}

// Pending reports queued plus in-flight tasks.
func (pl *Pool) Pending() int {
	if pl == nil {
		return 0
	}

	return int(pl.pending.Load())
}

// Drain stops accepting new tasks and waits up to timeout for queued and
// in-flight tasks to finish. It returns the number of tasks abandoned when
// the timeout expired; zero means a clean drain.
func (pl *Pool) Drain(timeout time.Duration) int {
	if pl == nil {
		return 0
	}

	if pl.closed.CompareAndSwap(false, true) {
		pl.mu.Lock()
		close(pl.tasks)
		pl.mu.Unlock()
	}

	done := make(chan struct{})

	go func() {
		pl.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		abandoned := int(pl.pending.Load())

		pl.cancel()

		pl.logger.Log(context.Background(), log.LevelWarn, "pool drain timed out",
			log.Int("abandoned_tasks", abandoned))

		return abandoned
	}

	pl.cancel()

	return 0
}

func (pl *Pool) worker() {
	defer pl.wg.Done()

	for tk := range pl.tasks {
		pl.runTask(tk)
	}
}

// runTask executes one task with panic recovery; a panicking task must not
// take its worker down.
func (pl *Pool) runTask(tk task) {
	defer pl.pending.Add(-1)
	defer runtime.Recover(pl.ctx, pl.logger, "pool", tk.name)

	tk.fn(pl.ctx)
}
