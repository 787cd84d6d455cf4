package pool

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Conn is the minimal shape a backup pool entry needs: something that can be
// handed off as an already-connected transport, or discarded.
type Conn interface {
	Close() error
}

// Connector dials a URI to produce a hot-standby Conn. In production this is
// implemented by the transport package; tests supply a fake.
type Connector interface {
	Connect(uri string) (Conn, error)
}

// Backup pairs a pre-connected Conn with the URI it was dialed to and
// whether that URI is priority-tagged.
type Backup struct {
	URI      string
	Priority bool
	Conn     Conn
}

// BackupPool holds up to Size pre-connected transports so failover can hand
// one off immediately instead of dialing fresh (spec.md §4.5). It refills
// itself asynchronously via a background goroutine reading a refill-request
// channel, never blocking the caller that notices the pool is short.
type BackupPool struct {
	mu       sync.Mutex
	backups  []*Backup
	size     int
	priority bool

	connector Connector
	uris      *Pool

	refillCh chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewBackupPool creates a BackupPool that refills from uris, preferring
// priority-tagged entries first when priorityBackup is set, up to size
// entries.
func NewBackupPool(connector Connector, uris *Pool, size int, priorityBackup bool) *BackupPool {
	bp := &BackupPool{
		size:      size,
		priority:  priorityBackup,
		connector: connector,
		uris:      uris,
		refillCh:  make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
	go bp.refillLoop()
	bp.RequestRefill()
	return bp
}

// RequestRefill asynchronously asks the pool to top itself back up. Never
// blocks.
func (bp *BackupPool) RequestRefill() {
	select {
	case bp.refillCh <- struct{}{}:
	default:
	}
}

func (bp *BackupPool) refillLoop() {
	for {
		select {
		case <-bp.stopCh:
			return
		case <-bp.refillCh:
			bp.refillOnce()
		}
	}
}

func (bp *BackupPool) refillOnce() {
	for {
		bp.mu.Lock()
		short := len(bp.backups) < bp.size
		bp.mu.Unlock()
		if !short {
			return
		}

		uri, ok := bp.nextCandidate()
		if !ok {
			return
		}

		conn, err := bp.connector.Connect(uri)
		if err != nil {
			log.WithFields(log.Fields{"uri": uri, "error": err}).Warn("backuppool: failed to pre-connect backup")
			if bp.uris != nil {
				bp.uris.Return(uri)
			}
			continue
		}

		bp.mu.Lock()
		bp.backups = append(bp.backups, &Backup{URI: uri, Priority: bp.uris.IsPriority(uri), Conn: conn})
		bp.mu.Unlock()

		log.WithField("uri", uri).Info("backuppool: backup connected")
	}
}

func (bp *BackupPool) nextCandidate() (string, bool) {
	if bp.priority {
		if uri, ok := bp.uris.TakeNextPriority(); ok {
			return uri, true
		}
	}
	return bp.uris.TakeNext()
}

// TakeAny removes and returns an available backup, preferring a
// priority-tagged one when preferPriority is set. Returns ok=false if empty.
func (bp *BackupPool) TakeAny(preferPriority bool) (*Backup, bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.backups) == 0 {
		return nil, false
	}

	idx := 0
	if preferPriority {
		for i, b := range bp.backups {
			if b.Priority {
				idx = i
				break
			}
		}
	}

	b := bp.backups[idx]
	bp.backups = append(bp.backups[:idx], bp.backups[idx+1:]...)
	go bp.RequestRefill()
	return b, true
}

// HasPriorityAvailable reports whether a priority-tagged backup is
// currently held, used to trigger the voluntary-disconnect rule in
// spec.md §4.5.
func (bp *BackupPool) HasPriorityAvailable() bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for _, b := range bp.backups {
		if b.Priority {
			return true
		}
	}
	return false
}

// Len returns the number of held backups.
func (bp *BackupPool) Len() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.backups)
}

// Stop halts the refill goroutine and closes every held backup connection.
func (bp *BackupPool) Stop() {
	bp.stopOnce.Do(func() {
		close(bp.stopCh)
	})

	bp.mu.Lock()
	defer bp.mu.Unlock()
	for _, b := range bp.backups {
		_ = b.Conn.Close()
	}
	bp.backups = nil
}
