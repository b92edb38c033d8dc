package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// DispatcherCtx replaces the original source's module-level globals
// (g_routing_server_stop, g_handle_socks, the condvar) with an explicit
// value, per spec §9's redesign note: "redesign as an explicit
// DispatcherCtx value passed into the accept loop and handed to each
// worker. Shutdown becomes a method on the context; there are no
// process-wide singletons."
type DispatcherCtx struct {
	logger log.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	fifo     []int
	capacity int
	stopped  atomic.Bool

	wg sync.WaitGroup
}

// NewDispatcherCtx constructs a DispatcherCtx with a FIFO bounded at
// queueCapacity (spec §5 "FIFO of ready sockets").
func NewDispatcherCtx(queueCapacity int, logger log.Logger) *DispatcherCtx {
	d := &DispatcherCtx{logger: logger, capacity: queueCapacity}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Enqueue pushes a ready socket fd onto the FIFO, blocking if it is full,
// and wakes one waiting worker. Returns false if the dispatcher has
// already been asked to stop.
func (d *DispatcherCtx) Enqueue(fd int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.fifo) >= d.capacity && !d.stopped.Load() {
		d.cond.Wait()
	}
	if d.stopped.Load() {
		return false
	}
	d.fifo = append(d.fifo, fd)
	d.cond.Signal()
	return true
}

// Dequeue pops one ready socket fd, blocking until one is available or
// the dispatcher stops (in which case ok is false).
func (d *DispatcherCtx) Dequeue() (fd int, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.fifo) == 0 && !d.stopped.Load() {
		d.cond.Wait()
	}
	if len(d.fifo) == 0 {
		return 0, false
	}
	fd = d.fifo[0]
	d.fifo = d.fifo[1:]
	d.cond.Signal() // wake a producer blocked on a full FIFO
	return fd, true
}

// Stopped reports whether Shutdown has been called.
func (d *DispatcherCtx) Stopped() bool { return d.stopped.Load() }

// Shutdown sets the stop flag and broadcasts so every worker and the
// accept loop observe it on their next wakeup, then waits for in-flight
// requests to finish (spec §5 "in-flight requests are allowed to
// complete").
func (d *DispatcherCtx) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.stopped.Store(true)
	d.cond.Broadcast()
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		level.Info(d.logger).Log("msg", "dispatcher shut down cleanly")
		return nil
	case <-ctx.Done():
		level.Warn(d.logger).Log("msg", "dispatcher shutdown deadline exceeded")
		return ctx.Err()
	}
}

// WorkerDone must be deferred by every worker goroutine at startup via
// WorkerStarted, so Shutdown can wait for in-flight work.
func (d *DispatcherCtx) WorkerStarted() { d.wg.Add(1) }
func (d *DispatcherCtx) WorkerDone()    { d.wg.Done() }
