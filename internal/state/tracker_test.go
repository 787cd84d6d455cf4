package state

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antmq/failover/internal/wire"
)

func TestTracker_TrackAndRestore_CausalOrder(t *testing.T) {
	tr := New(true, true, 0, 0)

	tr.Track(&wire.Command{Type: wire.TypeConnectionInfo, ConnectionInfo: &wire.ConnectionInfo{ConnectionId: "c1"}})
	tr.Track(&wire.Command{Type: wire.TypeSessionInfo, SessionInfo: &wire.SessionInfo{SessionId: "s1", ConnectionId: "c1"}})
	tr.Track(&wire.Command{Type: wire.TypeConsumerInfo, ConsumerInfo: &wire.ConsumerInfo{ConsumerId: "cons1", SessionId: "s1"}})
	tr.Track(&wire.Command{Type: wire.TypeProducerInfo, ProducerInfo: &wire.ProducerInfo{ProducerId: "prod1", SessionId: "s1"}})

	var replayed []wire.Type
	err := tr.Restore(func(cmd *wire.Command) error {
		replayed = append(replayed, cmd.Type)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, replayed, 5)
	assert.Equal(t, wire.TypeConnectionControl, replayed[0])
	assert.Equal(t, wire.TypeConnectionInfo, replayed[1])
	assert.Equal(t, wire.TypeSessionInfo, replayed[2])
	assert.Equal(t, wire.TypeConsumerInfo, replayed[3])
	assert.Equal(t, wire.TypeProducerInfo, replayed[4])
}

func TestTracker_Restore_SendsFaultTolerantConnectionControlFirst(t *testing.T) {
	tr := New(true, true, 0, 0)
	tr.Track(&wire.Command{Type: wire.TypeConnectionInfo, ConnectionInfo: &wire.ConnectionInfo{ConnectionId: "c1"}})

	var first *wire.Command
	err := tr.Restore(func(cmd *wire.Command) error {
		if first == nil {
			first = cmd
		}
		return nil
	})
	require.NoError(t, err)

	require.NotNil(t, first)
	require.Equal(t, wire.TypeConnectionControl, first.Type)
	require.NotNil(t, first.ConnectionControl)
	assert.True(t, first.ConnectionControl.FaultTolerant)
}

func TestTracker_RemoveInfo_RemovesConsumer(t *testing.T) {
	tr := New(false, false, 0, 0)
	tr.Track(&wire.Command{Type: wire.TypeConnectionInfo, ConnectionInfo: &wire.ConnectionInfo{ConnectionId: "c1"}})
	tr.Track(&wire.Command{Type: wire.TypeSessionInfo, SessionInfo: &wire.SessionInfo{SessionId: "s1", ConnectionId: "c1"}})
	tr.Track(&wire.Command{Type: wire.TypeConsumerInfo, ConsumerInfo: &wire.ConsumerInfo{ConsumerId: "cons1", SessionId: "s1"}})

	tr.Track(&wire.Command{Type: wire.TypeRemoveInfo, RemoveInfo: &wire.RemoveInfo{ObjectId: "cons1"}})

	var types []wire.Type
	require.NoError(t, tr.Restore(func(cmd *wire.Command) error {
		types = append(types, cmd.Type)
		return nil
	}))
	assert.NotContains(t, types, wire.TypeConsumerInfo)
}

func TestTracker_TransactionalMessage_ReplaysWithinTransaction(t *testing.T) {
	tr := New(false, true, 0, 0)
	tr.Track(&wire.Command{Type: wire.TypeConnectionInfo, ConnectionInfo: &wire.ConnectionInfo{ConnectionId: "c1"}})
	tr.Track(&wire.Command{Type: wire.TypeSessionInfo, SessionInfo: &wire.SessionInfo{SessionId: "s1", ConnectionId: "c1"}})
	tr.Track(&wire.Command{Type: wire.TypeProducerInfo, ProducerInfo: &wire.ProducerInfo{ProducerId: "prod1", SessionId: "s1"}})

	tr.Track(&wire.Command{Type: wire.TypeTransactionInfo, TransactionInfo: &wire.TransactionInfo{TransactionId: "tx1", ConnectionId: "c1", Kind: wire.TransactionBegin}})
	tr.Track(&wire.Command{Type: wire.TypeMessage, Message: &wire.Message{MessageId: wire.MessageId{ProducerId: "prod1", Sequence: 1}, TransactionId: "tx1"}})

	var types []wire.Type
	require.NoError(t, tr.Restore(func(cmd *wire.Command) error {
		types = append(types, cmd.Type)
		return nil
	}))
	assert.Contains(t, types, wire.TypeMessage)
}

func TestTracker_CommittedTransaction_StopsAccumulating(t *testing.T) {
	tr := New(false, true, 0, 0)
	tr.Track(&wire.Command{Type: wire.TypeConnectionInfo, ConnectionInfo: &wire.ConnectionInfo{ConnectionId: "c1"}})
	tr.Track(&wire.Command{Type: wire.TypeSessionInfo, SessionInfo: &wire.SessionInfo{SessionId: "s1", ConnectionId: "c1"}})
	tr.Track(&wire.Command{Type: wire.TypeProducerInfo, ProducerInfo: &wire.ProducerInfo{ProducerId: "prod1", SessionId: "s1"}})
	tr.Track(&wire.Command{Type: wire.TypeTransactionInfo, TransactionInfo: &wire.TransactionInfo{TransactionId: "tx1", ConnectionId: "c1", Kind: wire.TransactionBegin}})
	tr.Track(&wire.Command{Type: wire.TypeTransactionInfo, TransactionInfo: &wire.TransactionInfo{TransactionId: "tx1", ConnectionId: "c1", Kind: wire.TransactionCommit}})

	// A message arriving after commit (late ack race) should not be appended
	// to the now-retired transaction's command list.
	tr.Track(&wire.Command{Type: wire.TypeMessage, Message: &wire.Message{MessageId: wire.MessageId{ProducerId: "prod1", Sequence: 1}, TransactionId: "tx1"}})

	var count int
	require.NoError(t, tr.Restore(func(cmd *wire.Command) error {
		if cmd.Type == wire.TypeMessage {
			count++
		}
		return nil
	}))
	assert.Equal(t, 0, count)
}

func TestTracker_MessageCache_AckRemoves(t *testing.T) {
	tr := New(true, false, 0, 0)
	tr.Track(&wire.Command{Type: wire.TypeMessage, Message: &wire.Message{MessageId: wire.MessageId{ProducerId: "p1", Sequence: 1}}})
	tr.Track(&wire.Command{Type: wire.TypeMessageAck, MessageAck: &wire.MessageAck{MessageId: wire.MessageId{ProducerId: "p1", Sequence: 1}}})

	var count int
	require.NoError(t, tr.Restore(func(cmd *wire.Command) error {
		if cmd.Type == wire.TypeMessage {
			count++
		}
		return nil
	}))
	assert.Equal(t, 0, count)
}

func TestTracker_MessageCache_BoundedFIFO(t *testing.T) {
	tr := New(true, false, 2, 0)
	for i := int64(0); i < 5; i++ {
		tr.Track(&wire.Command{Type: wire.TypeMessage, Message: &wire.Message{MessageId: wire.MessageId{ProducerId: "p1", Sequence: i}}})
	}

	var count int
	require.NoError(t, tr.Restore(func(cmd *wire.Command) error {
		if cmd.Type == wire.TypeMessage {
			count++
		}
		return nil
	}))
	assert.Equal(t, 2, count)
}

func TestTracker_RequestMap_TrackAndRetire(t *testing.T) {
	tr := New(false, false, 0, 0)
	cmd := &wire.Command{Type: wire.TypeProducerInfo, CommandId: 1, ResponseRequired: true, ProducerInfo: &wire.ProducerInfo{ProducerId: "p1"}}
	tr.TrackRequest(cmd)

	var pending int
	require.NoError(t, tr.Restore(func(cmd *wire.Command) error {
		if cmd.Type == wire.TypeProducerInfo {
			pending++
		}
		return nil
	}))
	assert.Equal(t, 1, pending)

	tr.RetireResponse(1)
	pending = 0
	require.NoError(t, tr.Restore(func(cmd *wire.Command) error {
		if cmd.Type == wire.TypeProducerInfo {
			pending++
		}
		return nil
	}))
	assert.Equal(t, 0, pending)
}

func TestTracker_Restore_PropagatesSendError(t *testing.T) {
	tr := New(false, false, 0, 0)
	tr.Track(&wire.Command{Type: wire.TypeConnectionInfo, ConnectionInfo: &wire.ConnectionInfo{ConnectionId: "c1"}})

	boom := errors.New("boom")
	err := tr.Restore(func(cmd *wire.Command) error { return boom })
	assert.ErrorIs(t, err, boom)
}
