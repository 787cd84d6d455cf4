package pool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	closed atomic.Bool
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeConnector struct {
	mu      sync.Mutex
	fail    map[string]bool
	dialed  []string
}

func (c *fakeConnector) Connect(uri string) (Conn, error) {
	c.mu.Lock()
	c.dialed = append(c.dialed, uri)
	shouldFail := c.fail[uri]
	c.mu.Unlock()
	if shouldFail {
		return nil, errors.New("dial failed")
	}
	return &fakeConn{}, nil
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		default:
			if cond() {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestBackupPool_RefillsAndTakeAny(t *testing.T) {
	uris := New(false)
	uris.AddAll([]string{"tcp://a:1", "tcp://b:1"}, false)

	connector := &fakeConnector{fail: map[string]bool{}}
	bp := NewBackupPool(connector, uris, 2, false)
	defer bp.Stop()

	waitUntil(t, 2*time.Second, func() bool { return bp.Len() == 2 })

	backup, ok := bp.TakeAny(false)
	require.True(t, ok)
	assert.NotEmpty(t, backup.URI)

	// Both candidate URIs were already consumed into backups; taking one
	// leaves nothing left in the pool to refill from.
	assert.Equal(t, 1, bp.Len())
}

func TestBackupPool_PrefersPriority(t *testing.T) {
	uris := New(false)
	uris.AddAll([]string{"tcp://a:1"}, false)
	uris.AddAll([]string{"tcp://b:1"}, true)

	connector := &fakeConnector{fail: map[string]bool{}}
	bp := NewBackupPool(connector, uris, 2, true)
	defer bp.Stop()

	waitUntil(t, 2*time.Second, func() bool { return bp.Len() == 2 })

	assert.True(t, bp.HasPriorityAvailable())

	backup, ok := bp.TakeAny(true)
	require.True(t, ok)
	assert.True(t, backup.Priority)
	assert.Equal(t, "tcp://b:1", backup.URI)
}

func TestBackupPool_FailedDialReturnsUriAndRetries(t *testing.T) {
	uris := New(false)
	uris.AddAll([]string{"tcp://a:1", "tcp://b:1"}, false)

	connector := &fakeConnector{fail: map[string]bool{"tcp://a:1": true}}
	bp := NewBackupPool(connector, uris, 1, false)
	defer bp.Stop()

	waitUntil(t, 2*time.Second, func() bool { return bp.Len() == 1 })

	backup, ok := bp.TakeAny(false)
	require.True(t, ok)
	assert.Equal(t, "tcp://b:1", backup.URI)
}

func TestBackupPool_StopClosesHeldBackups(t *testing.T) {
	uris := New(false)
	uris.AddAll([]string{"tcp://a:1"}, false)

	connector := &fakeConnector{fail: map[string]bool{}}
	bp := NewBackupPool(connector, uris, 1, false)

	waitUntil(t, 2*time.Second, func() bool { return bp.Len() == 1 })

	bp.Stop()
	assert.Equal(t, 0, bp.Len())
}
