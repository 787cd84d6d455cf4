package transport

import (
	"sync"
	"time"

	"github.com/antmq/failover/internal/wire"
)

// InactivityMonitor wraps a Transport: sends a KeepAliveInfo at half the
// negotiated period if nothing has been written, and fails the transport
// if nothing has been read within a full period (spec.md §4.8). A zero
// MaxInactivityDuration disables monitoring entirely.
type InactivityMonitor struct {
	transport *Transport
	period    time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool

	now func() time.Time
}

// NewInactivityMonitor creates a monitor for transport using the period
// negotiated on it. Call Start to begin ticking.
func NewInactivityMonitor(transport *Transport) *InactivityMonitor {
	return &InactivityMonitor{
		transport: transport,
		period:    transport.Negotiated().MaxInactivityDuration,
		now:       time.Now,
	}
}

// Start begins the keepalive/read-liveness ticker. A no-op if period <= 0.
func (m *InactivityMonitor) Start() {
	if m.period <= 0 {
		return
	}

	m.mu.Lock()
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	half := m.period / 2
	go m.loop(stopCh, half)
}

func (m *InactivityMonitor) loop(stopCh chan struct{}, half time.Duration) {
	ticker := time.NewTicker(half)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			now := m.now()

			if now.Sub(m.transport.LastRead()) > m.period {
				m.transport.fail(errInactive)
				return
			}
			if now.Sub(m.transport.LastWrite()) >= half {
				// Sent off the ticker goroutine so a write blocked on an
				// unresponsive peer cannot stall the read-liveness check.
				go func() { _ = m.transport.Send(&wire.Command{Type: wire.TypeKeepAliveInfo}) }()
			}
		}
	}
}

// Stop halts the ticker. Idempotent.
func (m *InactivityMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	if m.stopCh != nil {
		close(m.stopCh)
	}
}

var errInactive = inactivityError("transport: channel was inactive for too long")

type inactivityError string

func (e inactivityError) Error() string { return string(e) }
