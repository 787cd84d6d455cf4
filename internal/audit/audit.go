// Package audit implements the bounded sliding-window duplicate detector
// described in spec.md §4.9: one fixed-size bitmap window per producer,
// indexed by sequence number modulo the window size.
package audit

import (
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/antmq/failover/internal/wire"
)

// WindowSize is the number of sequence slots tracked per producer.
const WindowSize = 2048

// producerWindow tracks which of the last WindowSize sequence numbers have
// been seen for one producer, plus the highest sequence observed so a bit
// set WindowSize-ago can be told apart from a genuine duplicate.
type producerWindow struct {
	mu      sync.Mutex
	seen    *bitset.BitSet
	lastSeq int64
	hasSeen bool
}

func newProducerWindow() *producerWindow {
	return &producerWindow{seen: bitset.New(WindowSize)}
}

func (w *producerWindow) isDuplicate(seq int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isDuplicateLocked(seq)
}

func (w *producerWindow) isDuplicateLocked(seq int64) bool {
	if !w.hasSeen {
		return false
	}
	if seq <= w.lastSeq-int64(WindowSize) {
		// Too far behind the window to say either way; treat as not a
		// tracked duplicate (the window has no memory of it).
		return false
	}
	if seq > w.lastSeq {
		return false
	}
	return w.seen.Test(slot(seq))
}

func (w *producerWindow) markSeen(seq int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	dup := w.isDuplicateLocked(seq)

	if seq > w.lastSeq || !w.hasSeen {
		// Advancing the window: clear slots between the old and new high
		// water mark so stale "seen" bits don't look like duplicates for
		// sequences that never occurred.
		if w.hasSeen {
			gap := seq - w.lastSeq
			if gap > WindowSize {
				gap = WindowSize
			}
			for i := int64(1); i <= gap; i++ {
				w.seen.Clear(slot(w.lastSeq + i))
			}
		}
		w.lastSeq = seq
		w.hasSeen = true
	}

	w.seen.Set(slot(seq))
	return dup
}

func (w *producerWindow) rollback(seq int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen.Clear(slot(seq))
}

func (w *producerWindow) isInOrder(seq int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.hasSeen {
		return seq == 0
	}
	return seq == w.lastSeq+1
}

func slot(seq int64) uint {
	m := seq % WindowSize
	if m < 0 {
		m += WindowSize
	}
	return uint(m)
}

// Audit tracks duplicate deliveries across many producers, used to drop
// duplicate deliveries after replay (spec.md §4.9 / §8 scenario 6).
type Audit struct {
	mu       sync.RWMutex
	windows  map[string]*producerWindow
}

// New creates an empty Audit.
func New() *Audit {
	return &Audit{windows: make(map[string]*producerWindow)}
}

func (a *Audit) windowFor(producerId string) *producerWindow {
	a.mu.RLock()
	w, ok := a.windows[producerId]
	a.mu.RUnlock()
	if ok {
		return w
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok := a.windows[producerId]; ok {
		return w
	}
	w = newProducerWindow()
	a.windows[producerId] = w
	return w
}

// IsDuplicate reports whether id has already been observed via MarkSeen.
func (a *Audit) IsDuplicate(id wire.MessageId) bool {
	return a.windowFor(id.ProducerId).isDuplicate(id.Sequence)
}

// MarkSeen records id as observed and returns whether it was already a
// duplicate at the time of marking.
func (a *Audit) MarkSeen(id wire.MessageId) bool {
	return a.windowFor(id.ProducerId).markSeen(id.Sequence)
}

// IsInOrder reports whether id's sequence is exactly the next expected one
// for its producer.
func (a *Audit) IsInOrder(id wire.MessageId) bool {
	return a.windowFor(id.ProducerId).isInOrder(id.Sequence)
}

// Rollback un-marks id as seen, used when a pending transaction containing
// it is rolled back.
func (a *Audit) Rollback(id wire.MessageId) {
	a.windowFor(id.ProducerId).rollback(id.Sequence)
}
