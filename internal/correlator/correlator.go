// Package correlator implements the ResponseCorrelator of spec.md §4.3:
// monotonic command ids, one pending future per response-required command,
// and fail-all-on-transport-failure. Grounded on the request/response
// bookkeeping in acamarata-nself-tv/backend/antserver/internal/scheduler
// (job-id assignment plus a completion channel per submitted job), adapted
// here to carry wire.Command responses instead of job results.
package correlator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/antmq/failover/internal/wire"
)

// ErrClosed is returned by Oneway and Request once Close has been called.
var ErrClosed = errors.New("correlator: transport closed")

// Sender writes a command to the physical transport.
type Sender func(cmd *wire.Command) error

// future is a single pending request awaiting its Response or
// ExceptionResponse.
type future struct {
	done chan struct{}
	resp *wire.Command // Response or ExceptionResponse
	err  error
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

func (f *future) complete(resp *wire.Command, err error) {
	f.resp = resp
	f.err = err
	close(f.done)
}

// Correlator assigns command ids and correlates inbound responses back to
// the caller that sent the originating request.
type Correlator struct {
	nextId int32

	send Sender

	mu      sync.Mutex
	pending map[int32]*future
	order   []int32
	closed  bool
}

// New creates a Correlator that writes outbound frames via send.
func New(send Sender) *Correlator {
	return &Correlator{send: send, pending: make(map[int32]*future)}
}

// NextCommandId assigns the next monotonically increasing command id.
func (c *Correlator) NextCommandId() int32 {
	return int32(atomic.AddInt32(&c.nextId, 1))
}

// Oneway assigns a command id, registers a pending future if the command
// requires a response, and writes it. On write failure the future (if any)
// is failed and unregistered before the error is returned.
func (c *Correlator) Oneway(cmd *wire.Command) error {
	cmd.CommandId = c.NextCommandId()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	var f *future
	if cmd.ResponseRequired {
		f = newFuture()
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		c.pending[cmd.CommandId] = f
		c.order = append(c.order, cmd.CommandId)
		c.mu.Unlock()
	}

	if err := c.send(cmd); err != nil {
		if f != nil {
			c.mu.Lock()
			_, stillPending := c.pending[cmd.CommandId]
			delete(c.pending, cmd.CommandId)
			c.order = removeId(c.order, cmd.CommandId)
			c.mu.Unlock()
			if stillPending {
				f.complete(nil, err)
			}
		}
		return err
	}
	return nil
}

// Request behaves like Oneway for a response-required command, then blocks
// until a Response/ExceptionResponse arrives, ctx is cancelled, or the
// correlator is closed.
func (c *Correlator) Request(ctx context.Context, cmd *wire.Command) (*wire.Command, error) {
	cmd.ResponseRequired = true
	cmd.CommandId = c.NextCommandId()

	f := newFuture()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[cmd.CommandId] = f
	c.order = append(c.order, cmd.CommandId)
	c.mu.Unlock()

	if err := c.send(cmd); err != nil {
		c.mu.Lock()
		delete(c.pending, cmd.CommandId)
		c.order = removeId(c.order, cmd.CommandId)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case <-f.done:
		if f.err != nil {
			return nil, f.err
		}
		if f.resp.Type == wire.TypeExceptionResponse {
			return f.resp, errors.New(f.resp.ExceptionResponse.Message)
		}
		return f.resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, cmd.CommandId)
		c.order = removeId(c.order, cmd.CommandId)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// OnResponse completes the pending future correlated to resp, if any.
// Returns false if no matching pending request was found (e.g. it timed
// out or the transport already failed).
func (c *Correlator) OnResponse(resp *wire.Command) bool {
	var correlationId int32
	switch resp.Type {
	case wire.TypeResponse:
		correlationId = resp.Response.CorrelationId
	case wire.TypeExceptionResponse:
		correlationId = resp.ExceptionResponse.CorrelationId
	default:
		return false
	}

	c.mu.Lock()
	f, ok := c.pending[correlationId]
	if ok {
		delete(c.pending, correlationId)
		c.order = removeId(c.order, correlationId)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	f.complete(resp, nil)
	return true
}

// OnTransportFailure completes every pending future with err, in the
// order the requests were registered (spec.md §4.3).
func (c *Correlator) OnTransportFailure(err error) {
	c.mu.Lock()
	order := c.order
	c.order = nil
	pending := c.pending
	c.pending = make(map[int32]*future)
	c.mu.Unlock()

	for _, id := range order {
		if f, ok := pending[id]; ok {
			f.complete(nil, err)
		}
	}
}

// Close marks the correlator closed; further Oneway/Request calls fail
// immediately with ErrClosed. Does not itself fail pending futures — call
// OnTransportFailure for that.
func (c *Correlator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func removeId(ids []int32, id int32) []int32 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
