// Package state maintains the shadow of broker-visible session state and
// the bounded message/pull caches, and replays both after a reconnect
// (spec.md §4.6). Grounded on the connection/session bookkeeping style of
// acamarata-nself-tv/backend/antserver/internal/coordinator, adapted from a
// flat stream-registry to the Connections→Sessions→(Consumers,
// Producers→Transactions) tree spec.md §3 describes.
package state

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/antmq/failover/internal/advisory"
	"github.com/antmq/failover/internal/wire"
)

// TransactionState accumulates the commands belonging to one open
// transaction so they can replay in original order on reconnect.
type TransactionState struct {
	Id       string
	Kind     wire.TransactionKind
	Commands []*wire.Command
	terminal bool
}

// ProducerState is a tracked ProducerInfo, optionally bound to an open
// transaction.
type ProducerState struct {
	Info *wire.ProducerInfo
	Tx   *TransactionState
}

// SessionState is a tracked SessionInfo with its consumers and producers.
type SessionState struct {
	Info      *wire.SessionInfo
	order     []string // session ids in insertion order, for replay
	Consumers map[string]*wire.ConsumerInfo
	Producers map[string]*ProducerState

	consumerOrder []string
	producerOrder []string
}

func newSessionState(info *wire.SessionInfo) *SessionState {
	return &SessionState{
		Info:      info,
		Consumers: make(map[string]*wire.ConsumerInfo),
		Producers: make(map[string]*ProducerState),
	}
}

// ConnectionState is a tracked ConnectionInfo with its sessions.
type ConnectionState struct {
	Info     *wire.ConnectionInfo
	Sessions map[string]*SessionState

	sessionOrder []string
	RemoteError  error
}

func newConnectionState(info *wire.ConnectionInfo) *ConnectionState {
	return &ConnectionState{
		Info:     info,
		Sessions: make(map[string]*SessionState),
	}
}

// Tracked is the handle returned by Track, indicating whether the caller
// should park the command in a request map awaiting a response.
type Tracked struct {
	Command            *wire.Command
	WaitingForResponse bool
}

// cacheEntry is one slot of a bounded FIFO.
type cacheEntry struct {
	key interface{}
	cmd *wire.Command
}

// fifo is a small bounded FIFO used by both the message and pull caches.
// Eviction is oldest-first once capacity is exceeded.
type fifo struct {
	mu       sync.Mutex
	cap      int
	order    []interface{}
	entries  map[interface{}]*wire.Command
}

func newFIFO(capacity int) *fifo {
	return &fifo{cap: capacity, entries: make(map[interface{}]*wire.Command)}
}

func (f *fifo) add(key interface{}, cmd *wire.Command) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.entries[key]; !exists {
		f.order = append(f.order, key)
	}
	f.entries[key] = cmd

	for f.cap > 0 && len(f.order) > f.cap {
		oldest := f.order[0]
		f.order = f.order[1:]
		delete(f.entries, oldest)
	}
}

func (f *fifo) remove(key interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.entries[key]; !exists {
		return
	}
	delete(f.entries, key)
	for i, k := range f.order {
		if k == key {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

func (f *fifo) snapshot() []*wire.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*wire.Command, 0, len(f.order))
	for _, k := range f.order {
		out = append(out, f.entries[k])
	}
	return out
}

// Tracker is the StateTracker of spec.md §4.6.
type Tracker struct {
	mu sync.RWMutex

	connections      map[string]*ConnectionState
	connectionOrder  []string

	trackMessages             bool
	trackTransactionProducers bool

	messageCache *fifo
	pullCache    *fifo

	reqMu      sync.Mutex
	requestMap map[int32]*wire.Command
}

// New creates a Tracker. maxCacheSize/maxPullCacheSize of 0 means
// unbounded (matches spec.md's count-based cache, simplified from the
// original's byte-size accounting).
func New(trackMessages, trackTransactionProducers bool, maxCacheSize, maxPullCacheSize int) *Tracker {
	return &Tracker{
		connections:               make(map[string]*ConnectionState),
		trackMessages:             trackMessages,
		trackTransactionProducers: trackTransactionProducers,
		messageCache:              newFIFO(maxCacheSize),
		pullCache:                 newFIFO(maxPullCacheSize),
		requestMap:                make(map[int32]*wire.Command),
	}
}

// Track records cmd's effect on the shadow state tree and reports whether
// the caller should park it in a request map awaiting a broker response.
func (t *Tracker) Track(cmd *wire.Command) *Tracked {
	switch cmd.Type {
	case wire.TypeConnectionInfo:
		t.trackConnectionInfo(cmd)
	case wire.TypeSessionInfo:
		t.trackSessionInfo(cmd)
	case wire.TypeConsumerInfo:
		t.trackConsumerInfo(cmd)
	case wire.TypeProducerInfo:
		t.trackProducerInfo(cmd)
	case wire.TypeRemoveInfo:
		t.trackRemoveInfo(cmd)
	case wire.TypeTransactionInfo:
		t.trackTransactionInfo(cmd)
	case wire.TypeMessage:
		t.trackMessage(cmd)
	case wire.TypeMessagePull:
		t.trackMessagePull(cmd)
	case wire.TypeMessageAck:
		t.trackMessageAck(cmd)
	}

	return &Tracked{Command: cmd, WaitingForResponse: cmd.ResponseRequired}
}

func (t *Tracker) trackConnectionInfo(cmd *wire.Command) {
	info := cmd.ConnectionInfo
	if info == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.connections[info.ConnectionId]; exists {
		return
	}
	t.connections[info.ConnectionId] = newConnectionState(info)
	t.connectionOrder = append(t.connectionOrder, info.ConnectionId)
}

func (t *Tracker) trackSessionInfo(cmd *wire.Command) {
	info := cmd.SessionInfo
	if info == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	conn, ok := t.connections[info.ConnectionId]
	if !ok {
		log.WithField("connectionId", info.ConnectionId).Warn("statetracker: session for unknown connection")
		return
	}
	if _, exists := conn.Sessions[info.SessionId]; exists {
		return
	}
	conn.Sessions[info.SessionId] = newSessionState(info)
	conn.sessionOrder = append(conn.sessionOrder, info.SessionId)
}

func (t *Tracker) findSession(sessionId string) (*SessionState, bool) {
	for _, conn := range t.connections {
		if s, ok := conn.Sessions[sessionId]; ok {
			return s, true
		}
	}
	return nil, false
}

func (t *Tracker) trackConsumerInfo(cmd *wire.Command) {
	info := cmd.ConsumerInfo
	if info == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	session, ok := t.findSession(info.SessionId)
	if !ok {
		log.WithField("sessionId", info.SessionId).Warn("statetracker: consumer for unknown session")
		return
	}
	if _, exists := session.Consumers[info.ConsumerId]; exists {
		return
	}
	session.Consumers[info.ConsumerId] = info
	session.consumerOrder = append(session.consumerOrder, info.ConsumerId)
}

func (t *Tracker) trackProducerInfo(cmd *wire.Command) {
	info := cmd.ProducerInfo
	if info == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	session, ok := t.findSession(info.SessionId)
	if !ok {
		log.WithField("sessionId", info.SessionId).Warn("statetracker: producer for unknown session")
		return
	}
	if _, exists := session.Producers[info.ProducerId]; exists {
		return
	}
	session.Producers[info.ProducerId] = &ProducerState{Info: info}
	session.producerOrder = append(session.producerOrder, info.ProducerId)
}

func (t *Tracker) trackRemoveInfo(cmd *wire.Command) {
	info := cmd.RemoveInfo
	if info == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	id := info.ObjectId
	if conn, ok := t.connections[id]; ok {
		delete(t.connections, id)
		t.connectionOrder = removeString(t.connectionOrder, id)
		_ = conn
		return
	}
	if session, ok := t.findSession(id); ok {
		for _, conn := range t.connections {
			if _, ok := conn.Sessions[id]; ok {
				delete(conn.Sessions, id)
				conn.sessionOrder = removeString(conn.sessionOrder, id)
				break
			}
		}
		_ = session
		return
	}
	for _, conn := range t.connections {
		for _, session := range conn.Sessions {
			if _, ok := session.Consumers[id]; ok {
				delete(session.Consumers, id)
				session.consumerOrder = removeString(session.consumerOrder, id)
				return
			}
			if _, ok := session.Producers[id]; ok {
				delete(session.Producers, id)
				session.producerOrder = removeString(session.producerOrder, id)
				return
			}
		}
	}
}

func (t *Tracker) findProducer(producerId string) (*ProducerState, bool) {
	for _, conn := range t.connections {
		for _, session := range conn.Sessions {
			if p, ok := session.Producers[producerId]; ok {
				return p, true
			}
		}
	}
	return nil, false
}

func (t *Tracker) trackTransactionInfo(cmd *wire.Command) {
	info := cmd.TransactionInfo
	if info == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	switch info.Kind {
	case wire.TransactionBegin:
		tx := &TransactionState{Id: info.TransactionId, Kind: info.Kind}
		t.attachTransaction(info.ConnectionId, tx)
	case wire.TransactionPrepare:
		t.appendToTransaction(info.TransactionId, cmd)
	case wire.TransactionCommit, wire.TransactionRollback, wire.TransactionForget:
		t.appendToTransaction(info.TransactionId, cmd)
		t.retireTransaction(info.TransactionId)
	}
}

// attachTransaction binds tx to every producer of the connection that has
// no open transaction. There is no separate index of open transactions:
// transactionById finds them through the producers that reference them.
func (t *Tracker) attachTransaction(connectionId string, tx *TransactionState) {
	conn, ok := t.connections[connectionId]
	if !ok {
		return
	}
	if !t.trackTransactionProducers {
		return
	}
	for _, session := range conn.Sessions {
		for _, p := range session.Producers {
			if p.Tx == nil {
				p.Tx = tx
			}
		}
	}
}

func (t *Tracker) transactionById(txId string) (*TransactionState, bool) {
	for _, conn := range t.connections {
		for _, session := range conn.Sessions {
			for _, p := range session.Producers {
				if p.Tx != nil && p.Tx.Id == txId {
					return p.Tx, true
				}
			}
		}
	}
	return nil, false
}

func (t *Tracker) appendToTransaction(txId string, cmd *wire.Command) {
	tx, ok := t.transactionById(txId)
	if !ok || tx.terminal {
		return
	}
	tx.Commands = append(tx.Commands, cmd)
}

func (t *Tracker) retireTransaction(txId string) {
	tx, ok := t.transactionById(txId)
	if !ok {
		return
	}
	tx.terminal = true
	for _, conn := range t.connections {
		for _, session := range conn.Sessions {
			for _, p := range session.Producers {
				if p.Tx == tx {
					p.Tx = nil
				}
			}
		}
	}
}

func (t *Tracker) trackMessage(cmd *wire.Command) {
	msg := cmd.Message
	if msg == nil {
		return
	}
	if msg.TransactionId != "" {
		t.mu.Lock()
		t.appendToTransaction(msg.TransactionId, cmd)
		t.mu.Unlock()
		return
	}
	if t.trackMessages && !advisory.IsAdvisory(msg.Destination) {
		// Advisory and DLQ traffic is broker-generated and transient; it
		// is never ours to replay after a reconnect.
		t.messageCache.add(msg.MessageId, cmd)
	}
}

func (t *Tracker) trackMessagePull(cmd *wire.Command) {
	if cmd.MessagePull == nil {
		return
	}
	t.pullCache.add(cmd.MessagePull.ConsumerId, cmd)
}

func (t *Tracker) trackMessageAck(cmd *wire.Command) {
	ack := cmd.MessageAck
	if ack == nil {
		return
	}
	if ack.TransactionId != "" {
		t.mu.Lock()
		t.appendToTransaction(ack.TransactionId, cmd)
		t.mu.Unlock()
		return
	}
	t.messageCache.remove(ack.MessageId)
}

// RetireResponse removes a RequestMap entry once its Response or
// ExceptionResponse has arrived.
func (t *Tracker) RetireResponse(commandId int32) {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()
	delete(t.requestMap, commandId)
}

// TrackRequest parks cmd in the RequestMap under its commandId, to be
// replayed if a reconnect occurs before a response arrives.
func (t *Tracker) TrackRequest(cmd *wire.Command) {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()
	t.requestMap[cmd.CommandId] = cmd
}

// UntrackRequest removes a RequestMap entry without it having been
// answered, so it is not replayed on the next reconnect.
func (t *Tracker) UntrackRequest(commandId int32) {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()
	delete(t.requestMap, commandId)
}

// Sender writes a single command to the newly (re)connected transport,
// returning an error if the write failed.
type Sender func(cmd *wire.Command) error

// Restore replays the tracked state and any still-pending requests onto a
// freshly connected transport, in the causally-consistent order spec.md
// §4.6 requires: each ConnectionInfo before its Sessions, each Session
// before its Consumers/Producers, each open transaction's accumulated
// commands once, right after the first producer bound to it, then the
// caches, then the RequestMap.
func (t *Tracker) Restore(send Sender) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := send(&wire.Command{Type: wire.TypeConnectionControl, ConnectionControl: &wire.ConnectionControl{FaultTolerant: true}}); err != nil {
		return err
	}

	replayedTx := make(map[*TransactionState]bool)
	for _, connId := range t.connectionOrder {
		conn := t.connections[connId]
		if err := send(&wire.Command{Type: wire.TypeConnectionInfo, ConnectionInfo: conn.Info}); err != nil {
			return err
		}

		for _, sessId := range conn.sessionOrder {
			session := conn.Sessions[sessId]
			if err := send(&wire.Command{Type: wire.TypeSessionInfo, SessionInfo: session.Info}); err != nil {
				return err
			}

			for _, consumerId := range session.consumerOrder {
				info := session.Consumers[consumerId]
				if err := send(&wire.Command{Type: wire.TypeConsumerInfo, ConsumerInfo: info}); err != nil {
					return err
				}
			}

			for _, producerId := range session.producerOrder {
				p := session.Producers[producerId]
				if err := send(&wire.Command{Type: wire.TypeProducerInfo, ProducerInfo: p.Info}); err != nil {
					return err
				}
				if p.Tx != nil && !replayedTx[p.Tx] {
					replayedTx[p.Tx] = true
					for _, cmd := range p.Tx.Commands {
						if err := send(cmd); err != nil {
							return err
						}
					}
				}
			}
		}
	}

	for _, cmd := range t.messageCache.snapshot() {
		if err := send(cmd); err != nil {
			return err
		}
	}
	for _, cmd := range t.pullCache.snapshot() {
		if err := send(cmd); err != nil {
			return err
		}
	}

	t.reqMu.Lock()
	pending := make([]*wire.Command, 0, len(t.requestMap))
	for _, cmd := range t.requestMap {
		pending = append(pending, cmd)
	}
	t.reqMu.Unlock()

	for _, cmd := range pending {
		if err := send(cmd); err != nil {
			return err
		}
	}

	log.WithField("connections", len(t.connectionOrder)).Info("statetracker: restore complete")
	return nil
}

func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
