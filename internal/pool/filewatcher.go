package pool

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// FileURIWatcher hot-reloads a file-backed static URI list into a Pool,
// supplementing spec.md §4.4's UpdateURIs broker-pushed mechanism with a
// broker-independent source (SPEC_FULL.md §7.3): an operator editing a text
// file gets the same updateURIs/rebalance treatment a ConnectionControl
// command would trigger, without requiring a live connection to push it.
//
// File format: one URI per line, blank lines and lines starting with '#'
// ignored.
type FileURIWatcher struct {
	path    string
	pool    *Pool
	watcher *fsnotify.Watcher

	onChange func()

	mu     sync.Mutex
	stopCh chan struct{}
}

// NewFileURIWatcher creates a watcher over path feeding uris into pool.
// onChange, if non-nil, is invoked after a reload that added or removed at
// least one URI (used by the failover transport to trigger RequestRebalance).
func NewFileURIWatcher(path string, pool *Pool, onChange func()) (*FileURIWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, err
	}

	fw := &FileURIWatcher{
		path:     path,
		pool:     pool,
		watcher:  w,
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}
	return fw, nil
}

// Start performs an initial load and then watches for file changes in a
// background goroutine until Stop is called.
func (fw *FileURIWatcher) Start() error {
	if err := fw.reload(); err != nil {
		return err
	}
	go fw.loop()
	return nil
}

func (fw *FileURIWatcher) loop() {
	for {
		select {
		case <-fw.stopCh:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := fw.reload(); err != nil {
				log.WithFields(log.Fields{"path": fw.path, "error": err}).Warn("filewatcher: reload failed")
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.WithField("error", err).Warn("filewatcher: watch error")
		}
	}
}

func (fw *FileURIWatcher) reload() error {
	uris, err := readURIList(fw.path)
	if err != nil {
		return err
	}

	existing := fw.pool.List()
	toRemove := make([]string, 0)
	keep := make(map[string]bool, len(uris))
	for _, u := range uris {
		keep[Normalize(u)] = true
	}
	for _, u := range existing {
		if !keep[Normalize(u)] {
			toRemove = append(toRemove, u)
		}
	}

	removed := fw.pool.RemoveAll(toRemove)
	added := fw.pool.AddAll(uris, false)

	if (added || removed) && fw.onChange != nil {
		fw.onChange()
	}
	log.WithFields(log.Fields{"path": fw.path, "count": len(uris)}).Info("filewatcher: uri list reloaded")
	return nil
}

func readURIList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var uris []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		uris = append(uris, line)
	}
	return uris, scanner.Err()
}

// Stop halts the watch goroutine and releases the underlying fsnotify
// watcher.
func (fw *FileURIWatcher) Stop() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	select {
	case <-fw.stopCh:
		return
	default:
		close(fw.stopCh)
	}
	_ = fw.watcher.Close()
}
