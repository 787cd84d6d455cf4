package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antmq/failover/internal/wire"
)

func dialWithPeriod(t *testing.T, period time.Duration) (*Transport, net.Conn, *recordingListener) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	peer := localWireFormat()
	peer.MaxInactivityDuration = period
	go peerHandshake(t, serverConn, peer)

	listener := newRecordingListener()
	local := localWireFormat()
	local.MaxInactivityDuration = period
	tr, err := Dial(context.Background(), pipeDialer(clientConn), "tcp://broker:61616", 2*time.Second, local, listener)
	require.NoError(t, err)
	require.Equal(t, period, tr.Negotiated().MaxInactivityDuration)

	return tr, serverConn, listener
}

func TestInactivityMonitor_SendsKeepAliveWhenIdle(t *testing.T) {
	tr, serverConn, _ := dialWithPeriod(t, 80*time.Millisecond)
	defer tr.Close()
	defer serverConn.Close()

	baseline := tr.LastWrite()

	// Keep the server side both reading (so writes the monitor makes don't
	// block forever) and periodically replying, which keeps the client's
	// read-liveness window satisfied so only the keepalive-write behavior
	// is under test here.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := wire.ReadFrame(serverConn, 0); err != nil {
				return
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(15 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = wire.WriteFrame(serverConn, &wire.Command{Type: wire.TypeKeepAliveInfo})
			}
		}
	}()

	mon := NewInactivityMonitor(tr)
	mon.Start()
	defer mon.Stop()

	deadline := time.After(2 * time.Second)
	for {
		if tr.LastWrite().After(baseline) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("monitor never sent a keepalive")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestInactivityMonitor_FailsTransportWhenNothingRead(t *testing.T) {
	tr, serverConn, listener := dialWithPeriod(t, 60*time.Millisecond)
	defer tr.Close()
	defer serverConn.Close()

	mon := NewInactivityMonitor(tr)
	mon.Start()
	defer mon.Stop()

	select {
	case err := <-listener.excepted:
		assert.ErrorIs(t, err, errInactive)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never failed the idle transport")
	}
}

func TestInactivityMonitor_Stop_Idempotent(t *testing.T) {
	tr, serverConn, _ := dialWithPeriod(t, 50*time.Millisecond)
	defer tr.Close()
	defer serverConn.Close()

	mon := NewInactivityMonitor(tr)
	mon.Start()
	mon.Stop()
	mon.Stop()
}

func TestInactivityMonitor_ZeroPeriod_NeverStarts(t *testing.T) {
	tr, serverConn, listener := dialWithPeriod(t, 0)
	defer tr.Close()
	defer serverConn.Close()

	mon := NewInactivityMonitor(tr)
	mon.Start()
	defer mon.Stop()

	select {
	case <-listener.excepted:
		t.Fatal("a zero-period monitor must never fire")
	case <-time.After(150 * time.Millisecond):
	}
}
