// Package transport implements PhysicalTransport (spec.md §4.2) and the
// InactivityMonitor that wraps it (spec.md §4.8). Grounded on the
// state-machine/callback shape of
// acamarata-nself-tv/backend/antserver/internal/ingest.Transport — same
// injectable now hook, same "close channel, fire callbacks outside
// the lock" pattern — adapted from a stream reconnect loop to a single
// TCP/TLS socket speaking framed wire.Command values.
//
// TLS handshake details, socket-option plumbing, and full URI parsing are
// out of scope (spec.md §1); parseTarget below does only the minimal
// scheme→network split needed to open a socket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/antmq/failover/internal/ioruntime"
	"github.com/antmq/failover/internal/wire"
)

// pollInterval is the cooperative tick used by the read loop so a
// concurrent Close() interrupts a pending read within one tick (spec.md
// §4.2, §9's named-constant guidance).
const pollInterval = 100 * time.Millisecond

// ErrClosed is returned by Send once the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// Listener receives inbound commands and failure notification from a
// Transport, mirroring the capability set of spec.md §6's upward
// interface (onCommand/onException slice of it — transportInterrupted/
// transportResumed belong to the failover layer above).
type Listener interface {
	OnCommand(cmd *wire.Command)
	OnException(err error)
}

// Dialer abstracts net.Dial for testability.
type Dialer func(ctx context.Context, network, address string) (net.Conn, error)

func defaultDialer(ctx context.Context, network, address string) (net.Conn, error) {
	d := net.Dialer{}
	return d.DialContext(ctx, network, address)
}

// parseTarget splits a minimal "scheme://host:port" URI into a network and
// address suitable for net.Dial. "ssl" is accepted as a scheme alias for
// "tcp": the TLS handshake itself is out of scope here (spec.md §1), so an
// ssl:// URI opens a plain TCP socket — a real deployment wires a Dialer
// that wraps the conn in tls.Client before returning it.
func parseTarget(uri string) (network, address string, err error) {
	idx := strings.Index(uri, "://")
	if idx < 0 {
		return "", "", fmt.Errorf("transport: malformed uri %q", uri)
	}
	scheme := uri[:idx]
	address = uri[idx+3:]
	switch scheme {
	case "tcp", "ssl":
		network = "tcp"
	default:
		network = scheme
	}
	return network, address, nil
}

// Transport is a single TCP (or TLS) connection speaking framed
// wire.Command values over a negotiated WireFormat.
type Transport struct {
	uri  string
	conn net.Conn

	writeMu sync.Mutex

	mu       sync.RWMutex
	listener Listener
	closed   bool
	closeCh  chan struct{}

	negotiated wire.Negotiated

	lastWrite atomic.Int64 // unix nanos
	lastRead  atomic.Int64

	failOnce sync.Once

	now func() time.Time
}

// Dial opens network, connects to uri within connectTimeout, performs the
// WireFormatInfo handshake against local, and returns a running Transport
// whose read loop delivers commands to listener.
func Dial(ctx context.Context, dialer Dialer, uri string, connectTimeout time.Duration, local wire.WireFormatInfo, listener Listener) (*Transport, error) {
	if dialer == nil {
		dialer = defaultDialer
	}
	network, address, err := parseTarget(uri)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := dialer(dialCtx, network, address)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", uri, err)
	}

	t := &Transport{
		uri:      uri,
		conn:     conn,
		listener: listener,
		closeCh:  make(chan struct{}),
		now:      time.Now,
	}
	t.lastWrite.Store(t.now().UnixNano())
	t.lastRead.Store(t.now().UnixNano())

	negotiated, err := t.handshake(local)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	t.negotiated = negotiated

	ioruntime.Default().Submit(t.readLoop)
	return t, nil
}

func (t *Transport) handshake(local wire.WireFormatInfo) (wire.Negotiated, error) {
	localCmd := &wire.Command{Type: wire.TypeWireFormatInfo, WireFormatInfo: &local}
	if err := wire.WriteFrame(t.conn, localCmd); err != nil {
		return wire.Negotiated{}, fmt.Errorf("transport: wireformat write: %w", err)
	}

	remoteCmd, err := wire.ReadFrame(t.conn, local.MaxFrameSize)
	if err != nil {
		return wire.Negotiated{}, fmt.Errorf("transport: wireformat read: %w", err)
	}
	if remoteCmd.Type != wire.TypeWireFormatInfo || remoteCmd.WireFormatInfo == nil {
		return wire.Negotiated{}, errors.New("transport: expected WireFormatInfo as first frame")
	}

	return wire.Negotiate(local, *remoteCmd.WireFormatInfo), nil
}

// Negotiated returns the effective wire format parameters for this
// connection.
func (t *Transport) Negotiated() wire.Negotiated {
	return t.negotiated
}

// URI returns the URI this transport was dialed to.
func (t *Transport) URI() string { return t.uri }

// SetListener replaces the listener, guarded so replacement never races
// delivery (spec.md §5 listenerMutex).
func (t *Transport) SetListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listener = l
}

// Send serialises and writes cmd under the writer-side mutex (spec.md
// §4.2). Fails with ErrClosed if the transport has already been closed.
func (t *Transport) Send(cmd *wire.Command) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := wire.WriteFrame(t.conn, cmd); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	t.lastWrite.Store(t.now().UnixNano())
	return nil
}

// LastWrite/LastRead expose the most recent I/O timestamps for the
// InactivityMonitor.
func (t *Transport) LastWrite() time.Time { return time.Unix(0, t.lastWrite.Load()) }
func (t *Transport) LastRead() time.Time  { return time.Unix(0, t.lastRead.Load()) }

// readLoop is the transport's one logical reader, run as a unit of
// ioruntime.Work so every connection's read loop shares the process-wide
// worker pool instead of spawning an unbounded goroutine per socket. On any
// error it calls the listener's OnException exactly once and returns; the
// transport is then considered failed even though Close has not
// necessarily been called.
func (t *Transport) readLoop(ctx context.Context) {
	if err := ioruntime.Default().Acquire(ctx); err != nil {
		return
	}
	defer ioruntime.Default().Release()

	for {
		select {
		case <-t.closeCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		_ = t.conn.SetReadDeadline(t.now().Add(pollInterval))
		cmd, err := wire.ReadFrame(t.conn, t.negotiated.MaxFrameSize)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-t.closeCh:
				return
			default:
			}
			t.fail(fmt.Errorf("transport: read: %w", err))
			return
		}

		t.lastRead.Store(t.now().UnixNano())

		if cmd.Type == wire.TypeKeepAliveInfo {
			continue
		}

		t.mu.RLock()
		l := t.listener
		t.mu.RUnlock()
		if l != nil {
			l.OnCommand(cmd)
		}
	}
}

func (t *Transport) fail(err error) {
	t.mu.RLock()
	l := t.listener
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return
	}
	if l != nil {
		t.failOnce.Do(func() { l.OnException(err) })
	}
}

// Close shuts down the connection. Safe to call from any thread, including
// from inside a listener callback; cancels the outstanding read within one
// poll tick.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closeCh)
	t.mu.Unlock()

	log.WithField("uri", t.uri).Info("transport: closed")
	if c, ok := t.conn.(interface{ CloseRead() error }); ok {
		_ = c.CloseRead()
	}
	return t.conn.Close()
}

// ensure Transport can stand in as io.Closer for pool.Conn.
var _ io.Closer = (*Transport)(nil)
