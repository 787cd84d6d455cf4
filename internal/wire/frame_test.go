package wire

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrame_RoundTrip(t *testing.T) {
	cases := []*Command{
		{Type: TypeConnectionInfo, CommandId: 1, ConnectionInfo: &ConnectionInfo{ConnectionId: "c1", ClientId: "cl1"}},
		{Type: TypeSessionInfo, CommandId: 2, SessionInfo: &SessionInfo{SessionId: "s1", ConnectionId: "c1"}},
		{Type: TypeConsumerInfo, CommandId: 3, ConsumerInfo: &ConsumerInfo{ConsumerId: "cons1", SessionId: "s1", Destination: "queue://a"}},
		{Type: TypeProducerInfo, CommandId: 4, ProducerInfo: &ProducerInfo{ProducerId: "prod1", SessionId: "s1", Destination: "queue://a"}},
		{
			Type: TypeMessage, CommandId: 5, ResponseRequired: true,
			Message: &Message{
				MessageId:   MessageId{ProducerId: "prod1", Sequence: 42},
				ProducerId:  "prod1",
				Destination: "queue://a",
				Body:        []byte("hello"),
				Priority:    4,
				Expiration:  time.Unix(0, 123456789),
			},
		},
		{Type: TypeMessageAck, CommandId: 6, MessageAck: &MessageAck{ConsumerId: "cons1", MessageId: MessageId{ProducerId: "prod1", Sequence: 42}}},
		{Type: TypeMessagePull, CommandId: 7, MessagePull: &MessagePull{ConsumerId: "cons1", Timeout: 5 * time.Second}},
		{Type: TypeMessageDispatch, CommandId: 8, MessageDispatch: &MessageDispatch{ConsumerId: "cons1"}},
		{Type: TypeResponse, CommandId: 9, Response: &Response{CorrelationId: 5}},
		{Type: TypeExceptionResponse, CommandId: 10, ExceptionResponse: &ExceptionResponse{CorrelationId: 5, Message: "boom"}},
		{Type: TypeShutdownInfo, CommandId: 11},
		{Type: TypeKeepAliveInfo, CommandId: 12},
		{Type: TypeRemoveInfo, CommandId: 13, RemoveInfo: &RemoveInfo{ObjectId: "cons1"}},
		{Type: TypeConnectionControl, CommandId: 14, ConnectionControl: &ConnectionControl{ReconnectTo: "tcp://b:61616", Rebalance: true, ConnectedBrokers: []string{"tcp://a:61616", "tcp://b:61616"}}},
		{
			Type: TypeWireFormatInfo, CommandId: 15,
			WireFormatInfo: &WireFormatInfo{
				Magic: WireFormatMagic, Version: 1, TightEncodingEnabled: true,
				MaxInactivityDuration: 30 * time.Second, MaxFrameSize: 1024,
			},
		},
	}

	var buf bytes.Buffer
	for _, c := range cases {
		require.NoError(t, WriteFrame(&buf, c))
	}

	for _, want := range cases {
		got, err := ReadFrame(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.CommandId, got.CommandId)
	}
}

func TestReadFrame_ExceedsMaxFrameSize(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &Command{Type: TypeShutdownInfo}))
	_, err := ReadFrame(&buf, 1)
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestNegotiate_ANDsBooleansMinsNumerics(t *testing.T) {
	local := WireFormatInfo{
		TightEncodingEnabled: true, CacheEnabled: true, StackTraceEnabled: true,
		MaxInactivityDuration: 30 * time.Second, MaxFrameSize: 2048,
	}
	remote := WireFormatInfo{
		TightEncodingEnabled: false, CacheEnabled: true, StackTraceEnabled: true,
		MaxInactivityDuration: 10 * time.Second, MaxFrameSize: 4096,
	}
	n := Negotiate(local, remote)
	assert.False(t, n.TightEncodingEnabled)
	assert.True(t, n.CacheEnabled)
	assert.True(t, n.StackTraceEnabled)
	assert.Equal(t, 10*time.Second, n.MaxInactivityDuration)
	assert.Equal(t, int64(2048), n.MaxFrameSize)
}

func TestNewIds_AreUniqueAndNonEmpty(t *testing.T) {
	a := NewConnectionId()
	b := NewConnectionId()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, NewSessionId())
	assert.NotEmpty(t, NewConsumerId())
	assert.NotEmpty(t, NewProducerId())
	assert.NotEmpty(t, NewTransactionId())
}
