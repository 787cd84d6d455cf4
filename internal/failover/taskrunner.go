package failover

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// CompositeTask is one cooperative unit of work driven by a
// CompositeTaskRunner. Iterate performs one unit of work and reports
// whether more work remains (spec.md §4.11).
type CompositeTask interface {
	Iterate() (more bool)
}

// compositeTaskRunner owns a single worker goroutine that iterates every
// registered CompositeTask until all report idle, then sleeps until woken
// (spec.md §4.11). Grounded on the single-worker drain shape of
// internal/ioruntime.Runtime, narrowed from a pool of workers to exactly
// one since ordering across tasks (reconnect before disposal) matters
// here.
type compositeTaskRunner struct {
	mu       sync.Mutex
	tasks    []CompositeTask
	wakeCh   chan struct{}
	stopCh   chan struct{}
	stopped  bool
	doneCh   chan struct{}
}

func newCompositeTaskRunner() *compositeTaskRunner {
	r := &compositeTaskRunner{
		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *compositeTaskRunner) addTask(t CompositeTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
}

// wakeup schedules another iteration pass. Never blocks.
func (r *compositeTaskRunner) wakeup() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

func (r *compositeTaskRunner) run() {
	defer close(r.doneCh)
	for {
		select {
		case <-r.stopCh:
			return
		case <-r.wakeCh:
		}

		for {
			select {
			case <-r.stopCh:
				return
			default:
			}

			r.mu.Lock()
			tasks := append([]CompositeTask(nil), r.tasks...)
			r.mu.Unlock()

			anyMore := false
			for _, t := range tasks {
				if t.Iterate() {
					anyMore = true
				}
			}
			if !anyMore {
				break
			}
		}
	}
}

// shutdown stops the worker, waiting up to timeout for it to exit (spec.md
// §5: "shuts down the task runner with a 5-minute upper bound").
func (r *compositeTaskRunner) shutdown(timeout time.Duration) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	select {
	case <-r.doneCh:
	case <-time.After(timeout):
		log.Warn("failover: task runner shutdown timed out")
	}
}
