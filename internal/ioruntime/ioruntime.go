// Package ioruntime hosts the process-wide executor that services every
// socket a PhysicalTransport opens. It is a lazily-started singleton: the
// first socket to open starts the worker pool, and Stop drains it cleanly so
// that a later socket restarts it rather than submitting into a dead runtime.
package ioruntime

import (
	"context"
	"runtime"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// maxWorkers bounds the worker pool at 8; minWorkers is the floor even on a
// single-core box.
const (
	minWorkers = 2
	maxWorkers = 8
)

// Work is a unit of socket I/O submitted to the runtime. It must observe
// ctx.Done() so that Stop (or a transport-level cancellation) can unblock it
// within the read-poll tick described by the transport layer.
type Work func(ctx context.Context)

// Runtime is the process-wide I/O executor. Use the package-level Default.
type Runtime struct {
	mu      sync.Mutex
	started bool
	work    chan Work
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	sem     *semaphore.Weighted
}

var (
	singletonMu sync.Mutex
	singleton   *Runtime
)

// Default returns the process-wide Runtime, starting it on first use.
func Default() *Runtime {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton == nil {
		singleton = &Runtime{}
	}
	singleton.ensureStarted()
	return singleton
}

func workerCount() int64 {
	n := runtime.NumCPU()
	if n < minWorkers {
		n = minWorkers
	}
	if n > maxWorkers {
		n = maxWorkers
	}
	return int64(n)
}

func (r *Runtime) ensureStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	n := workerCount()

	r.ctx = ctx
	r.cancel = cancel
	r.group = group
	r.sem = semaphore.NewWeighted(n)
	r.work = make(chan Work, int(n)*4)
	r.started = true

	for i := int64(0); i < n; i++ {
		id := i
		group.Go(func() error {
			r.runWorker(gctx, id)
			return nil
		})
	}

	log.WithField("workers", n).Info("ioruntime: started")
}

func (r *Runtime) runWorker(ctx context.Context, id int64) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-r.work:
			if !ok {
				return
			}
			w(ctx)
		}
	}
}

// Submit enqueues work for execution by a pool worker. If the runtime was
// previously stopped it is transparently restarted. Submit never blocks
// longer than it takes to hand the closure to a channel buffer slot.
func (r *Runtime) Submit(w Work) {
	r.ensureStarted()
	r.mu.Lock()
	ch := r.work
	r.mu.Unlock()
	ch <- w
}

// Acquire blocks (respecting ctx) until a socket-read slot is available,
// bounding how many concurrent blocking reads the runtime will host.
func (r *Runtime) Acquire(ctx context.Context) error {
	r.ensureStarted()
	r.mu.Lock()
	sem := r.sem
	r.mu.Unlock()
	return sem.Acquire(ctx, 1)
}

// Release returns a socket-read slot acquired via Acquire.
func (r *Runtime) Release() {
	r.mu.Lock()
	sem := r.sem
	r.mu.Unlock()
	if sem != nil {
		sem.Release(1)
	}
}

// Stop signals every worker to exit and waits for them to drain. Callbacks
// submitted before Stop either complete or observe ctx cancellation; Stop is
// idempotent.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	group := r.group
	work := r.work
	r.started = false
	r.mu.Unlock()

	cancel()
	close(work)
	_ = group.Wait()

	log.Info("ioruntime: stopped")
}

// ResetForTest tears down the package singleton so the next Default() call
// starts a fresh runtime. Exposed for test isolation only.
func ResetForTest() {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		singleton.Stop()
	}
	singleton = nil
}
