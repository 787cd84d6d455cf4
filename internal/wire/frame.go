package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// WireFormatMagic is the fixed 8-byte magic string that opens every
// WireFormatInfo handshake frame.
const WireFormatMagic = "ActiveMQ"

// ErrShortFrame is returned when a frame's declared length exceeds maxFrameSize.
var ErrShortFrame = errors.New("wire: frame exceeds negotiated max frame size")

// Negotiated holds the effective encoding parameters after two
// WireFormatInfo proposals have been reconciled (spec.md §6: booleans AND,
// numerics min).
type Negotiated struct {
	TightEncodingEnabled  bool
	SizePrefixDisabled    bool
	CacheEnabled          bool
	StackTraceEnabled     bool
	MaxInactivityDuration time.Duration
	MaxFrameSize          int64
}

// Negotiate reconciles a local proposal with a remote proposal per spec.md §6.
func Negotiate(local, remote WireFormatInfo) Negotiated {
	return Negotiated{
		TightEncodingEnabled:  local.TightEncodingEnabled && remote.TightEncodingEnabled,
		SizePrefixDisabled:    local.SizePrefixDisabled && remote.SizePrefixDisabled,
		CacheEnabled:          local.CacheEnabled && remote.CacheEnabled,
		StackTraceEnabled:     local.StackTraceEnabled && remote.StackTraceEnabled,
		MaxInactivityDuration: minDuration(local.MaxInactivityDuration, remote.MaxInactivityDuration),
		MaxFrameSize:          minInt64(local.MaxFrameSize, remote.MaxFrameSize),
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// WriteFrame encodes cmd as a length-prefixed frame and writes it to w.
// The frame is: 4-byte big-endian length, 1-byte Type tag, encoded body.
func WriteFrame(w io.Writer, cmd *Command) error {
	body, err := encodeBody(cmd)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	// length covers the type tag plus the body.
	length := uint32(1 + len(body))
	if err := binary.Write(&buf, binary.BigEndian, length); err != nil {
		return err
	}
	buf.WriteByte(byte(cmd.Type))
	buf.Write(body)

	_, err = w.Write(buf.Bytes())
	return err
}

// ReadFrame reads one length-prefixed frame from r and decodes it into a
// Command. maxFrameSize <= 0 disables the size check.
func ReadFrame(r io.Reader, maxFrameSize int64) (*Command, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if maxFrameSize > 0 && int64(length) > maxFrameSize {
		return nil, ErrShortFrame
	}
	if length == 0 {
		return nil, fmt.Errorf("wire: empty frame")
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	typ := Type(body[0])
	return decodeBody(typ, body[1:])
}

// --- body encode/decode ---
//
// A small self-describing encoding: every Command field that is present is
// written as a length-prefixed blob in a fixed per-Type order, decoded back
// by reading the same fixed order. This is not the real OpenWire
// tight/loose marshalling table (out of scope, spec §1) — it exists only so
// frames actually round-trip across a socket.

func encodeBody(cmd *Command) ([]byte, error) {
	var buf bytes.Buffer
	writeInt32(&buf, cmd.CommandId)
	writeBool(&buf, cmd.ResponseRequired)
	writeInt32(&buf, cmd.CorrelationId)

	switch cmd.Type {
	case TypeConnectionInfo:
		ci := cmd.ConnectionInfo
		writeString(&buf, ci.ConnectionId)
		writeString(&buf, ci.ClientId)
	case TypeSessionInfo:
		si := cmd.SessionInfo
		writeString(&buf, si.SessionId)
		writeString(&buf, si.ConnectionId)
	case TypeConsumerInfo:
		ci := cmd.ConsumerInfo
		writeString(&buf, ci.ConsumerId)
		writeString(&buf, ci.SessionId)
		writeString(&buf, ci.Destination)
	case TypeProducerInfo:
		pi := cmd.ProducerInfo
		writeString(&buf, pi.ProducerId)
		writeString(&buf, pi.SessionId)
		writeString(&buf, pi.Destination)
	case TypeTransactionInfo:
		ti := cmd.TransactionInfo
		writeString(&buf, ti.TransactionId)
		writeString(&buf, ti.ConnectionId)
		buf.WriteByte(byte(ti.Kind))
	case TypeMessage:
		writeMessage(&buf, cmd.Message)
	case TypeMessageAck:
		ma := cmd.MessageAck
		writeString(&buf, ma.ConsumerId)
		writeMessageId(&buf, ma.MessageId)
		writeString(&buf, ma.TransactionId)
	case TypeMessagePull:
		mp := cmd.MessagePull
		writeString(&buf, mp.ConsumerId)
		writeInt64(&buf, int64(mp.Timeout))
	case TypeMessageDispatch:
		md := cmd.MessageDispatch
		writeString(&buf, md.ConsumerId)
		if md.Message == nil {
			writeBool(&buf, false)
		} else {
			writeBool(&buf, true)
			writeMessage(&buf, md.Message)
		}
	case TypeResponse:
		writeInt32(&buf, cmd.Response.CorrelationId)
	case TypeExceptionResponse:
		er := cmd.ExceptionResponse
		writeInt32(&buf, er.CorrelationId)
		writeString(&buf, er.Message)
	case TypeWireFormatInfo:
		wf := cmd.WireFormatInfo
		writeString(&buf, wf.Magic)
		writeInt32(&buf, wf.Version)
		writeBool(&buf, wf.TightEncodingEnabled)
		writeBool(&buf, wf.SizePrefixDisabled)
		writeBool(&buf, wf.CacheEnabled)
		writeBool(&buf, wf.StackTraceEnabled)
		writeInt64(&buf, int64(wf.MaxInactivityDuration))
		writeInt64(&buf, int64(wf.MaxInactivityInitalDelay))
		writeInt64(&buf, wf.MaxFrameSize)
	case TypeShutdownInfo, TypeKeepAliveInfo:
		// zero-body commands.
	case TypeRemoveInfo:
		writeString(&buf, cmd.RemoveInfo.ObjectId)
	case TypeConnectionControl:
		cc := cmd.ConnectionControl
		writeString(&buf, cc.ReconnectTo)
		writeBool(&buf, cc.Rebalance)
		writeInt32(&buf, int32(len(cc.ConnectedBrokers)))
		for _, b := range cc.ConnectedBrokers {
			writeString(&buf, b)
		}
		writeBool(&buf, cc.FaultTolerant)
	default:
		return nil, fmt.Errorf("wire: unknown command type %d", cmd.Type)
	}

	return buf.Bytes(), nil
}

func decodeBody(typ Type, body []byte) (*Command, error) {
	r := bytes.NewReader(body)
	cmd := &Command{Type: typ}

	var err error
	if cmd.CommandId, err = readInt32(r); err != nil {
		return nil, err
	}
	if cmd.ResponseRequired, err = readBool(r); err != nil {
		return nil, err
	}
	if cmd.CorrelationId, err = readInt32(r); err != nil {
		return nil, err
	}

	switch typ {
	case TypeConnectionInfo:
		ci := &ConnectionInfo{}
		ci.ConnectionId, _ = readString(r)
		ci.ClientId, _ = readString(r)
		cmd.ConnectionInfo = ci
	case TypeSessionInfo:
		si := &SessionInfo{}
		si.SessionId, _ = readString(r)
		si.ConnectionId, _ = readString(r)
		cmd.SessionInfo = si
	case TypeConsumerInfo:
		ci := &ConsumerInfo{}
		ci.ConsumerId, _ = readString(r)
		ci.SessionId, _ = readString(r)
		ci.Destination, _ = readString(r)
		cmd.ConsumerInfo = ci
	case TypeProducerInfo:
		pi := &ProducerInfo{}
		pi.ProducerId, _ = readString(r)
		pi.SessionId, _ = readString(r)
		pi.Destination, _ = readString(r)
		cmd.ProducerInfo = pi
	case TypeTransactionInfo:
		ti := &TransactionInfo{}
		ti.TransactionId, _ = readString(r)
		ti.ConnectionId, _ = readString(r)
		kind, _ := r.ReadByte()
		ti.Kind = TransactionKind(kind)
		cmd.TransactionInfo = ti
	case TypeMessage:
		cmd.Message, err = readMessage(r)
	case TypeMessageAck:
		ma := &MessageAck{}
		ma.ConsumerId, _ = readString(r)
		ma.MessageId, _ = readMessageId(r)
		ma.TransactionId, _ = readString(r)
		cmd.MessageAck = ma
	case TypeMessagePull:
		mp := &MessagePull{}
		mp.ConsumerId, _ = readString(r)
		timeout, _ := readInt64(r)
		mp.Timeout = time.Duration(timeout)
		cmd.MessagePull = mp
	case TypeMessageDispatch:
		md := &MessageDispatch{}
		md.ConsumerId, _ = readString(r)
		has, _ := readBool(r)
		if has {
			md.Message, err = readMessage(r)
		}
		cmd.MessageDispatch = md
	case TypeResponse:
		corrId, _ := readInt32(r)
		cmd.Response = &Response{CorrelationId: corrId}
	case TypeExceptionResponse:
		corrId, _ := readInt32(r)
		msg, _ := readString(r)
		cmd.ExceptionResponse = &ExceptionResponse{CorrelationId: corrId, Message: msg}
	case TypeWireFormatInfo:
		wf := &WireFormatInfo{}
		wf.Magic, _ = readString(r)
		wf.Version, _ = readInt32(r)
		wf.TightEncodingEnabled, _ = readBool(r)
		wf.SizePrefixDisabled, _ = readBool(r)
		wf.CacheEnabled, _ = readBool(r)
		wf.StackTraceEnabled, _ = readBool(r)
		inact, _ := readInt64(r)
		wf.MaxInactivityDuration = time.Duration(inact)
		initDelay, _ := readInt64(r)
		wf.MaxInactivityInitalDelay = time.Duration(initDelay)
		wf.MaxFrameSize, _ = readInt64(r)
		cmd.WireFormatInfo = wf
	case TypeShutdownInfo, TypeKeepAliveInfo:
		// zero-body.
	case TypeRemoveInfo:
		objId, _ := readString(r)
		cmd.RemoveInfo = &RemoveInfo{ObjectId: objId}
	case TypeConnectionControl:
		cc := &ConnectionControl{}
		cc.ReconnectTo, _ = readString(r)
		cc.Rebalance, _ = readBool(r)
		n, _ := readInt32(r)
		for i := int32(0); i < n; i++ {
			b, _ := readString(r)
			cc.ConnectedBrokers = append(cc.ConnectedBrokers, b)
		}
		cc.FaultTolerant, _ = readBool(r)
		cmd.ConnectionControl = cc
	default:
		return nil, fmt.Errorf("wire: unknown command type %d", typ)
	}

	return cmd, err
}

func writeMessage(buf *bytes.Buffer, m *Message) {
	writeMessageId(buf, m.MessageId)
	writeString(buf, m.ProducerId)
	writeString(buf, m.Destination)
	writeInt32(buf, int32(len(m.Body)))
	buf.Write(m.Body)
	buf.WriteByte(m.Priority)
	writeInt64(buf, m.Expiration.UnixNano())
	writeString(buf, m.TransactionId)
}

func readMessage(r *bytes.Reader) (*Message, error) {
	m := &Message{}
	var err error
	if m.MessageId, err = readMessageId(r); err != nil {
		return nil, err
	}
	m.ProducerId, _ = readString(r)
	m.Destination, _ = readString(r)
	n, _ := readInt32(r)
	m.Body = make([]byte, n)
	if _, err := io.ReadFull(r, m.Body); err != nil {
		return nil, err
	}
	m.Priority, _ = r.ReadByte()
	nanos, _ := readInt64(r)
	if nanos != 0 {
		m.Expiration = time.Unix(0, nanos)
	}
	m.TransactionId, _ = readString(r)
	return m, nil
}

func writeMessageId(buf *bytes.Buffer, id MessageId) {
	writeString(buf, id.ProducerId)
	writeInt64(buf, id.Sequence)
}

func readMessageId(r *bytes.Reader) (MessageId, error) {
	pid, err := readString(r)
	if err != nil {
		return MessageId{}, err
	}
	seq, err := readInt64(r)
	if err != nil {
		return MessageId{}, err
	}
	return MessageId{ProducerId: pid, Sequence: seq}, nil
}

func writeInt32(buf *bytes.Buffer, v int32) {
	_ = binary.Write(buf, binary.BigEndian, v)
}

func readInt32(r *bytes.Reader) (int32, error) {
	var v int32
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func writeInt64(buf *bytes.Buffer, v int64) {
	_ = binary.Write(buf, binary.BigEndian, v)
}

func readInt64(r *bytes.Reader) (int64, error) {
	var v int64
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func writeString(buf *bytes.Buffer, s string) {
	writeInt32(buf, int32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readInt32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
