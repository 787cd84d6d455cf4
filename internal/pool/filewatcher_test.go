package pool

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeURIFile(t *testing.T, path string, lines ...string) {
	t.Helper()
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileURIWatcher_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uris.txt")
	writeURIFile(t, path, "tcp://a:1", "# comment", "", "tcp://b:1")

	p := New(false)
	fw, err := NewFileURIWatcher(path, p, nil)
	require.NoError(t, err)
	require.NoError(t, fw.Start())
	defer fw.Stop()

	assert.ElementsMatch(t, []string{"tcp://a:1", "tcp://b:1"}, p.List())
}

func TestFileURIWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uris.txt")
	writeURIFile(t, path, "tcp://a:1")

	p := New(false)
	var changes atomic.Int32
	fw, err := NewFileURIWatcher(path, p, func() { changes.Add(1) })
	require.NoError(t, err)
	require.NoError(t, fw.Start())
	defer fw.Stop()

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"tcp://a:1"}, p.List())
	}, 2*time.Second, 5*time.Millisecond)

	writeURIFile(t, path, "tcp://a:1", "tcp://c:1")

	deadline := time.After(2 * time.Second)
	for {
		if len(p.List()) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("watcher never picked up the added uri")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	assert.ElementsMatch(t, []string{"tcp://a:1", "tcp://c:1"}, p.List())
	assert.GreaterOrEqual(t, changes.Load(), int32(1))
}

func TestFileURIWatcher_Stop_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uris.txt")
	writeURIFile(t, path, "tcp://a:1")

	p := New(false)
	fw, err := NewFileURIWatcher(path, p, nil)
	require.NoError(t, err)
	require.NoError(t, fw.Start())

	fw.Stop()
	fw.Stop()
}
