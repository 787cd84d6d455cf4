package failover

import (
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
)

// closeDisposer offloads closing failed transports onto the
// compositeTaskRunner's worker instead of the caller's goroutine, so a
// Close() invoked from inside a transport's own listener callback cannot
// deadlock on that transport's reader (spec.md §4.10).
type closeDisposer struct {
	mu     sync.Mutex
	queue  []io.Closer
}

func newCloseDisposer() *closeDisposer {
	return &closeDisposer{}
}

// dispose enqueues c to be closed on the next Iterate.
func (d *closeDisposer) dispose(c io.Closer) {
	if c == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, c)
}

// Iterate implements CompositeTask: closes every queued transport and
// always reports false, since one call drains the whole queue.
func (d *closeDisposer) Iterate() bool {
	d.mu.Lock()
	queue := d.queue
	d.queue = nil
	d.mu.Unlock()

	for _, c := range queue {
		if err := c.Close(); err != nil {
			log.WithField("error", err).Warn("closedisposer: close failed")
		}
	}
	return false
}
