// Package failover implements the FailoverTransport: the top-level virtual
// transport of spec.md §4.7, owning the URI pool, backup pool, state
// tracker, the currently connected physical transport, and the reconnect
// worker. Grounded on the reconnect/backoff state machine of
// acamarata-nself-tv/backend/antserver/internal/ingest.Transport (same
// injectable now/sleep, same "fire callbacks outside the lock" discipline)
// generalized from a two-protocol (SRT/RTMP) fallback to an arbitrary URI
// pool with priority/backup semantics, plus the StateTracker-driven replay
// spec.md adds on top.
package failover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/antmq/failover/internal/config"
	"github.com/antmq/failover/internal/correlator"
	"github.com/antmq/failover/internal/pool"
	"github.com/antmq/failover/internal/state"
	"github.com/antmq/failover/internal/transport"
	"github.com/antmq/failover/internal/wire"
)

// pollInterval is how often a blocked send or the first-connect wait
// re-checks closed/timeout state (spec.md §5: "every blocking wait...
// wakes at least every 100 ms").
const pollInterval = 100 * time.Millisecond

// ErrDisposed is returned by Oneway once the transport has been closed.
var ErrDisposed = errors.New("failover: transport disposed")

// ErrSendTimeout is returned when a Message send waited longer than the
// configured Timeout for a connection to become available.
var ErrSendTimeout = errors.New("failover: send timed out waiting for connection")

// UpperListener is the capability set the failover transport delivers
// inbound events to (spec.md §6).
type UpperListener interface {
	OnCommand(cmd *wire.Command)
	OnException(err error)
	TransportInterrupted()
	TransportResumed()
}

// Dialer opens a physical transport to uri, performing the WireFormatInfo
// handshake against local and wiring listener as the transport's command
// sink. Exists as an interface point so tests can substitute an in-memory
// pair instead of a real socket.
type Dialer func(ctx context.Context, uri string, connectTimeout time.Duration, local wire.WireFormatInfo, listener transport.Listener) (*transport.Transport, error)

func defaultDialer(ctx context.Context, uri string, connectTimeout time.Duration, local wire.WireFormatInfo, listener transport.Listener) (*transport.Transport, error) {
	return transport.Dial(ctx, nil, uri, connectTimeout, local, listener)
}

// Transport is the FailoverTransport of spec.md §4.7.
type Transport struct {
	cfg *config.Config

	uriPool  *pool.Pool
	failures *pool.FailureTracker
	backups  *pool.BackupPool
	tracker  *state.Tracker

	dial Dialer

	mu                  sync.Mutex // reconnectMutex (spec.md §5)
	started             bool
	closed              bool
	connected           bool
	connectionFailure   error
	current             *transport.Transport
	currentMonitor      *transport.InactivityMonitor
	firstConnection     bool
	connectedToPriority bool
	rebalancePending    bool
	rebalanceTarget     string

	reconnectDelay atomic.Int64 // nanoseconds; see DESIGN.md Open Question (b)
	idCounter      atomic.Int32

	// interruptProcessingComplete tracks whether StateTracker replay has
	// finished against the current connection. See DESIGN.md Open Question
	// (c): exposed for introspection only, it does not gate Oneway — a
	// non-Message command sent while false simply queues behind the same
	// polling wait every other command already uses.
	interruptProcessingComplete atomic.Bool

	listenerMu sync.RWMutex
	listener   UpperListener

	taskRunner *compositeTaskRunner
	disposer   *closeDisposer

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a Transport for cfg. dial may be nil to use a real TCP
// dialer.
func New(cfg *config.Config, dial Dialer) *Transport {
	if dial == nil {
		dial = defaultDialer
	}

	ft := &Transport{
		cfg:             cfg,
		uriPool:         pool.New(cfg.Randomize),
		failures:        pool.NewFailureTracker(),
		tracker:         state.New(cfg.TrackMessages, cfg.TrackTransactionProducers, cfg.MaxCacheSize, cfg.MaxPullCacheSize),
		dial:            dial,
		firstConnection: true,
		now:             time.Now,
		sleep:           time.Sleep,
		taskRunner:      newCompositeTaskRunner(),
		disposer:        newCloseDisposer(),
	}
	ft.reconnectDelay.Store(int64(cfg.InitialReconnectDelay))
	ft.interruptProcessingComplete.Store(true)

	for i, u := range cfg.URIs {
		priority := cfg.PriorityBackup && i == 0
		ft.uriPool.Add(u, priority)
	}

	ft.taskRunner.addTask(&reconnectTask{ft: ft})
	ft.taskRunner.addTask(ft.disposer)

	if cfg.BackupsEnabled {
		ft.backups = pool.NewBackupPool(&connectorAdapter{ft: ft}, ft.uriPool, cfg.BackupPoolSize, cfg.PriorityBackup)
	}

	return ft
}

// connectorAdapter lets pool.BackupPool dial through the same Dialer the
// reconnect loop uses, without pool importing transport directly.
type connectorAdapter struct{ ft *Transport }

func (c *connectorAdapter) Connect(uri string) (pool.Conn, error) {
	t, err := c.ft.dial(context.Background(), uri, c.ft.cfg.Timeout, c.ft.localWireFormat(), c.ft)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// SetTestClock overrides the time source, for deterministic tests.
func (ft *Transport) SetTestClock(now func() time.Time, sleep func(time.Duration)) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.now = now
	ft.sleep = sleep
}

// SetTransportListener installs the upward listener. Replacement never
// races delivery (spec.md §5 listenerMutex).
func (ft *Transport) SetTransportListener(l UpperListener) {
	ft.listenerMu.Lock()
	defer ft.listenerMu.Unlock()
	ft.listener = l
}

// Start begins the reconnect worker. Idempotent.
func (ft *Transport) Start() {
	ft.mu.Lock()
	if ft.started {
		ft.mu.Unlock()
		return
	}
	ft.started = true
	ft.mu.Unlock()
	ft.taskRunner.wakeup()
}

// Close disposes the active transport (if any) and shuts down the task
// runner. Idempotent and safe from any goroutine, including from inside a
// listener callback (spec.md §8 "Idempotence").
func (ft *Transport) Close() error {
	ft.mu.Lock()
	if ft.closed {
		ft.mu.Unlock()
		return nil
	}
	ft.closed = true
	cur := ft.current
	mon := ft.currentMonitor
	ft.current = nil
	ft.currentMonitor = nil
	ft.connected = false
	ft.mu.Unlock()

	if mon != nil {
		mon.Stop()
	}
	if cur != nil {
		ft.disposer.dispose(cur)
	}
	if ft.backups != nil {
		ft.backups.Stop()
	}

	ft.taskRunner.wakeup()
	ft.taskRunner.shutdown(5 * time.Minute)
	log.Info("failover: closed")
	return nil
}

// IsConnected reports whether a physical transport is currently connected.
func (ft *Transport) IsConnected() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.connected
}

// IsClosed reports whether Close has been called.
func (ft *Transport) IsClosed() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.closed
}

// IsFaultTolerant always reports true: this transport is, definitionally,
// the fault-tolerant one.
func (ft *Transport) IsFaultTolerant() bool { return true }

// IsReconnectSupported mirrors the reconnectSupported configuration knob.
func (ft *Transport) IsReconnectSupported() bool { return ft.cfg.ReconnectSupported }

// ConnectedToPriority reports whether the currently connected URI is the
// priority-tagged one.
func (ft *Transport) ConnectedToPriority() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.connectedToPriority
}

// ConnectionInterruptProcessingComplete reports whether StateTracker replay
// has finished against the currently connected transport. It does not gate
// sends (spec.md is silent on whether non-Message commands should queue
// behind replay completion; see DESIGN.md Open Question (c)) — it exists
// purely so an upper layer can choose to hold off issuing new work until a
// reconnect's replay has settled, if it wants to.
func (ft *Transport) ConnectionInterruptProcessingComplete() bool {
	return ft.interruptProcessingComplete.Load()
}

// ConnectionFailure returns the latched terminal failure, or nil.
func (ft *Transport) ConnectionFailure() error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.connectionFailure
}

// PoolURIs returns a snapshot of the active URI pool's membership, for
// introspection.
func (ft *Transport) PoolURIs() []string {
	return ft.uriPool.List()
}

// URIPool exposes the candidate URI pool for external mutation, e.g. a
// file-backed hot-reload watcher (SPEC_FULL.md §7.3).
func (ft *Transport) URIPool() *pool.Pool {
	return ft.uriPool
}

// BackupCount returns the number of pre-connected backups currently held,
// or 0 if backups are disabled.
func (ft *Transport) BackupCount() int {
	if ft.backups == nil {
		return 0
	}
	return ft.backups.Len()
}

// NewCorrelator wraps this transport with a ResponseCorrelator (spec.md
// §4.3), giving an upper facade blocking Request/Oneway semantics on top
// of the failover layer's fire-and-forget, infinitely-retried send. The
// correlator's own pending-future bookkeeping is independent of the
// StateTracker-driven replay inside Oneway: an in-flight Request survives
// a reconnect (the Transport replays the tracked command), and the
// correlator simply keeps waiting on the same future until the eventual
// Response arrives over the new connection.
func (ft *Transport) NewCorrelator() *correlator.Correlator {
	c := correlator.New(ft.Oneway)
	ft.listenerMu.Lock()
	inner := ft.listener
	ft.listener = &correlatorListener{inner: inner, correlator: c}
	ft.listenerMu.Unlock()
	return c
}

// correlatorListener forwards Response/ExceptionResponse frames into a
// Correlator before passing everything through to the wrapped listener.
type correlatorListener struct {
	inner      UpperListener
	correlator *correlator.Correlator
}

func (l *correlatorListener) OnCommand(cmd *wire.Command) {
	if cmd.Type == wire.TypeResponse || cmd.Type == wire.TypeExceptionResponse {
		l.correlator.OnResponse(cmd)
	}
	if l.inner != nil {
		l.inner.OnCommand(cmd)
	}
}

func (l *correlatorListener) OnException(err error) {
	l.correlator.OnTransportFailure(err)
	if l.inner != nil {
		l.inner.OnException(err)
	}
}

func (l *correlatorListener) TransportInterrupted() {
	if l.inner != nil {
		l.inner.TransportInterrupted()
	}
}

func (l *correlatorListener) TransportResumed() {
	if l.inner != nil {
		l.inner.TransportResumed()
	}
}

// CurrentURI returns the URI of the currently connected transport, or ""
// if not connected.
func (ft *Transport) CurrentURI() string {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.current == nil {
		return ""
	}
	return ft.current.URI()
}

// RequestRebalance forces a disconnect/reconnect even if the current
// transport is healthy (spec.md §4.7 "Rebalance and broker-initiated
// redirects").
func (ft *Transport) RequestRebalance() {
	ft.mu.Lock()
	ft.rebalancePending = true
	ft.rebalanceTarget = ""
	ft.mu.Unlock()
	ft.taskRunner.wakeup()
}

// requestRebalanceTo requests a reconnect toward a specific preferred URI;
// the reconnect loop clears the request without disconnecting if already
// connected there.
func (ft *Transport) requestRebalanceTo(uri string) {
	ft.mu.Lock()
	ft.rebalancePending = true
	ft.rebalanceTarget = uri
	ft.mu.Unlock()
	ft.taskRunner.wakeup()
}

// UpdateURIs replaces the pool's membership with uris (broker-pushed
// ConnectionControl.connectedBrokers, spec.md §4.4), reporting whether the
// pool's contents changed.
func (ft *Transport) UpdateURIs(uris []string) bool {
	existing := ft.uriPool.List()
	keep := make(map[string]bool, len(uris))
	for _, u := range uris {
		keep[pool.Normalize(u)] = true
	}
	var toRemove []string
	for _, u := range existing {
		if !keep[pool.Normalize(u)] {
			toRemove = append(toRemove, u)
		}
	}
	removed := ft.uriPool.RemoveAll(toRemove)
	added := ft.uriPool.AddAll(uris, false)
	return removed || added
}

// Oneway implements the send path of spec.md §4.7.
func (ft *Transport) Oneway(cmd *wire.Command) error {
	ft.mu.Lock()
	if ft.closed {
		ft.mu.Unlock()
		return ErrDisposed
	}

	if ft.current == nil {
		switch cmd.Type {
		case wire.TypeShutdownInfo:
			ft.mu.Unlock()
			return nil
		case wire.TypeRemoveInfo, wire.TypeMessageAck:
			ft.mu.Unlock()
			ft.tracker.Track(cmd)
			if cmd.ResponseRequired {
				ft.deliverSyntheticResponse(cmd.CommandId)
			}
			return nil
		case wire.TypeMessagePull:
			if cmd.MessagePull != nil && cmd.MessagePull.Timeout > 0 {
				ft.mu.Unlock()
				ft.deliverEmptyDispatch(cmd.MessagePull.ConsumerId)
				return nil
			}
		}
	}
	ft.mu.Unlock()

	start := ft.now()
	for {
		ft.mu.Lock()
		if ft.closed {
			ft.mu.Unlock()
			return ErrDisposed
		}
		if ft.connectionFailure != nil {
			err := ft.connectionFailure
			ft.mu.Unlock()
			return err
		}
		if ft.current != nil && !ft.rebalancePending {
			cur := ft.current
			ft.mu.Unlock()

			if cmd.CommandId == 0 {
				cmd.CommandId = ft.nextCommandId()
			}
			tracked := ft.tracker.Track(cmd)
			if tracked.WaitingForResponse {
				ft.tracker.TrackRequest(cmd)
			}

			if err := cur.Send(cmd); err != nil {
				if !tracked.WaitingForResponse {
					return err
				}
				ft.handleTransportFailure(err)
				return nil
			}
			return nil
		}
		ft.mu.Unlock()

		if cmd.Type == wire.TypeMessage && ft.cfg.Timeout > 0 && ft.now().Sub(start) >= ft.cfg.Timeout {
			return ErrSendTimeout
		}
		ft.sleep(pollInterval)
	}
}

func (ft *Transport) nextCommandId() int32 {
	return ft.idCounter.Add(1)
}

func (ft *Transport) deliverSyntheticResponse(commandId int32) {
	resp := &wire.Command{Type: wire.TypeResponse, Response: &wire.Response{CorrelationId: commandId}}
	ft.dispatchUp(resp)
}

func (ft *Transport) deliverEmptyDispatch(consumerId string) {
	disp := &wire.Command{Type: wire.TypeMessageDispatch, MessageDispatch: &wire.MessageDispatch{ConsumerId: consumerId}}
	ft.dispatchUp(disp)
}

func (ft *Transport) dispatchUp(cmd *wire.Command) {
	ft.listenerMu.RLock()
	l := ft.listener
	ft.listenerMu.RUnlock()
	if l != nil {
		safeCall(func() { l.OnCommand(cmd) })
	}
}

// OnCommand implements transport.Listener: it is installed as the listener
// of whichever PhysicalTransport is currently connected.
func (ft *Transport) OnCommand(cmd *wire.Command) {
	switch cmd.Type {
	case wire.TypeResponse:
		ft.tracker.RetireResponse(cmd.Response.CorrelationId)
	case wire.TypeExceptionResponse:
		ft.tracker.RetireResponse(cmd.ExceptionResponse.CorrelationId)
	case wire.TypeConnectionControl:
		ft.handleConnectionControl(cmd.ConnectionControl)
		return
	}
	ft.dispatchUp(cmd)
}

// OnException implements transport.Listener: the current physical
// transport calls this exactly once on its first I/O failure.
func (ft *Transport) OnException(err error) {
	ft.handleTransportFailure(err)
}

func (ft *Transport) handleConnectionControl(cc *wire.ConnectionControl) {
	if cc == nil {
		return
	}
	if cc.ReconnectTo != "" && ft.cfg.ReconnectSupported {
		ft.uriPool.Add(cc.ReconnectTo, false)
		ft.requestRebalanceTo(cc.ReconnectTo)
	}
	if len(cc.ConnectedBrokers) > 0 && ft.cfg.UpdateURIsSupported {
		if ft.UpdateURIs(cc.ConnectedBrokers) && ft.cfg.RebalanceUpdateURIs {
			ft.RequestRebalance()
		}
	}
	if cc.Rebalance {
		ft.RequestRebalance()
	}
}

func (ft *Transport) handleTransportFailure(err error) {
	ft.mu.Lock()
	if ft.closed || ft.current == nil {
		ft.mu.Unlock()
		return
	}
	cur := ft.current
	mon := ft.currentMonitor
	ft.current = nil
	ft.currentMonitor = nil
	ft.connected = false
	ft.mu.Unlock()

	ft.interruptProcessingComplete.Store(false)
	log.WithField("error", err).Warn("failover: transport failed")
	if mon != nil {
		mon.Stop()
	}
	ft.uriPool.Return(cur.URI())
	ft.disposer.dispose(cur)
	ft.notifyInterrupted()
	ft.taskRunner.wakeup()
}

func (ft *Transport) notifyInterrupted() {
	ft.listenerMu.RLock()
	l := ft.listener
	ft.listenerMu.RUnlock()
	if l != nil {
		safeCall(l.TransportInterrupted)
	}
}

func (ft *Transport) notifyResumed() {
	ft.listenerMu.RLock()
	l := ft.listener
	ft.listenerMu.RUnlock()
	if l != nil {
		safeCall(l.TransportResumed)
	}
}

func (ft *Transport) latchConnectionFailure(err error) {
	ft.mu.Lock()
	if ft.connectionFailure != nil {
		ft.mu.Unlock()
		return
	}
	ft.connectionFailure = err
	ft.mu.Unlock()

	log.WithField("error", err).Error("failover: connection failure latched")
	ft.listenerMu.RLock()
	l := ft.listener
	ft.listenerMu.RUnlock()
	if l != nil {
		safeCall(func() { l.OnException(err) })
	}
}

func safeCall(f func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("failover: listener callback panicked")
		}
	}()
	f()
}

func (ft *Transport) localWireFormat() wire.WireFormatInfo {
	return wire.WireFormatInfo{
		Magic:                    wire.WireFormatMagic,
		Version:                  1,
		TightEncodingEnabled:     true,
		SizePrefixDisabled:       false,
		CacheEnabled:             true,
		StackTraceEnabled:        false,
		MaxInactivityDuration:    30 * time.Second,
		MaxInactivityInitalDelay: 10 * time.Second,
		MaxFrameSize:             16 * 1024 * 1024,
	}
}

func (ft *Transport) currentMaxAttempts() int {
	ft.mu.Lock()
	first := ft.firstConnection
	ft.mu.Unlock()
	if first {
		return ft.cfg.StartupMaxReconnectAttempts
	}
	return ft.cfg.MaxReconnectAttempts
}

func (ft *Transport) allExhausted() bool {
	return ft.failures.AllExhausted(ft.uriPool.List(), ft.currentMaxAttempts())
}

func (ft *Transport) applyReconnectDelaySleep() {
	d := time.Duration(ft.reconnectDelay.Load())
	if d <= 0 {
		d = ft.cfg.InitialReconnectDelay
	}
	ft.sleep(d)

	if ft.cfg.UseExponentialBackOff {
		next := time.Duration(float64(d) * ft.cfg.BackOffMultiplier)
		if ft.cfg.MaxReconnectDelay > 0 && next > ft.cfg.MaxReconnectDelay {
			next = ft.cfg.MaxReconnectDelay
		}
		ft.reconnectDelay.Store(int64(next))
	} else {
		ft.reconnectDelay.Store(int64(ft.cfg.InitialReconnectDelay))
	}
}

func (ft *Transport) resetDelay() {
	ft.reconnectDelay.Store(int64(ft.cfg.InitialReconnectDelay))
}

// reconnectTask adapts Transport's reconnect iteration to CompositeTask.
type reconnectTask struct{ ft *Transport }

func (t *reconnectTask) Iterate() bool { return t.ft.iterateReconnect() }

// iterateReconnect implements spec.md §4.7's reconnect iteration, one step
// of work per call; returns whether the caller should call it again
// without waiting on a fresh wakeup.
func (ft *Transport) iterateReconnect() bool {
	ft.mu.Lock()
	if !ft.started || ft.closed || ft.connectionFailure != nil {
		ft.mu.Unlock()
		return false
	}

	if ft.current != nil && ft.rebalancePending {
		if ft.rebalanceTarget != "" && ft.current.URI() == ft.rebalanceTarget {
			ft.rebalancePending = false
			ft.rebalanceTarget = ""
			ft.mu.Unlock()
			return false
		}
		ft.disconnectCurrentLocked()
		ft.mu.Unlock()
		ft.notifyInterrupted()
		ft.mu.Lock()
	} else if ft.current != nil && !ft.connectedToPriority && ft.backups != nil && ft.backups.HasPriorityAvailable() {
		ft.disconnectCurrentLocked()
		ft.mu.Unlock()
		ft.notifyInterrupted()
		ft.mu.Lock()
	}

	if ft.current != nil {
		ft.mu.Unlock()
		return false
	}
	wasFirstConnection := ft.firstConnection
	ft.mu.Unlock()

	var backup *pool.Backup
	if ft.backups != nil {
		backup, _ = ft.backups.TakeAny(ft.cfg.PriorityBackup)
	}

	var uri string
	var preStarted *transport.Transport
	if backup != nil {
		uri = backup.URI
		if t, ok := backup.Conn.(*transport.Transport); ok {
			preStarted = t
		}
	} else {
		u, ok := ft.uriPool.TakeNext()
		if !ok {
			ft.applyReconnectDelaySleep()
			return true
		}
		uri = u
	}

	if !wasFirstConnection && ft.failures.IsExhausted(uri, ft.currentMaxAttempts()) {
		ft.uriPool.Return(uri)
		ft.applyReconnectDelaySleep()
		return true
	}

	var pt *transport.Transport
	var err error
	if preStarted != nil {
		pt = preStarted
		pt.SetListener(ft)
	} else {
		pt, err = ft.dial(context.Background(), uri, ft.cfg.Timeout, ft.localWireFormat(), ft)
	}

	if err == nil {
		mon := transport.NewInactivityMonitor(pt)
		mon.Start()

		if restoreErr := ft.tracker.Restore(pt.Send); restoreErr != nil {
			mon.Stop()
			ft.disposer.dispose(pt)
			err = restoreErr
		} else {
			isPriority := ft.uriPool.IsPriority(uri) || (backup != nil && backup.Priority)

			ft.mu.Lock()
			ft.current = pt
			ft.currentMonitor = mon
			ft.connected = true
			ft.connectedToPriority = isPriority
			ft.firstConnection = false
			ft.rebalancePending = false
			ft.rebalanceTarget = ""
			ft.mu.Unlock()

			ft.failures.Reset()
			ft.resetDelay()
			ft.interruptProcessingComplete.Store(true)
			if ft.backups != nil {
				ft.backups.RequestRefill()
			}
			ft.notifyResumed()
			log.WithField("uri", uri).Info("failover: connected")
			return false
		}
	}

	ft.failures.Increment(uri)
	ft.uriPool.Return(uri)
	log.WithFields(log.Fields{"uri": uri, "error": err}).Warn("failover: connect attempt failed")

	if ft.allExhausted() {
		if wasFirstConnection && ft.cfg.StartupMaxReconnectAttempts != ft.cfg.MaxReconnectAttempts {
			// Open Question (a): an infinite startup cap (-1) never reaches
			// this branch, since AllExhausted is unconditionally false for
			// maxAttempts < 0 — the startup phase then ends only at the first
			// successful connection, after which MaxReconnectAttempts applies.
			ft.failures.Reset()
			ft.resetDelay()
			ft.mu.Lock()
			ft.firstConnection = false
			ft.mu.Unlock()
			return true
		}
		ft.latchConnectionFailure(fmt.Errorf("failover: all candidate URIs exhausted: %w", err))
		return false
	}

	ft.applyReconnectDelaySleep()
	return true
}

// disconnectCurrentLocked tears down ft.current; caller holds ft.mu and
// must not be holding it when notifyInterrupted is subsequently called.
func (ft *Transport) disconnectCurrentLocked() {
	cur := ft.current
	mon := ft.currentMonitor
	ft.current = nil
	ft.currentMonitor = nil
	ft.connected = false
	ft.interruptProcessingComplete.Store(false)
	if mon != nil {
		mon.Stop()
	}
	if cur != nil {
		ft.uriPool.Return(cur.URI())
	}
	ft.disposer.dispose(cur)
}
