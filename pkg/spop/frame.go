package spop

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// FrameType identifies the kind and direction of a SPOP frame.
type FrameType uint8

const (
	FrameTypeUnset             FrameType = 0
	FrameTypeHAProxyHello      FrameType = 1
	FrameTypeHAProxyDisconnect FrameType = 2
	FrameTypeNotify            FrameType = 3
	FrameTypeAgentHello        FrameType = 101
	FrameTypeAgentDisconnect   FrameType = 102
	FrameTypeAck               FrameType = 103
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeHAProxyHello:
		return "haproxy-hello"
	case FrameTypeHAProxyDisconnect:
		return "haproxy-disconnect"
	case FrameTypeNotify:
		return "notify"
	case FrameTypeAgentHello:
		return "agent-hello"
	case FrameTypeAgentDisconnect:
		return "agent-disconnect"
	case FrameTypeAck:
		return "ack"
	default:
		return "unset"
	}
}

// Fragmentable reports whether frames of this type may be split across
// multiple wire frames sharing a (stream-id, frame-id) pair.
func (t FrameType) Fragmentable() bool {
	return t == FrameTypeNotify || t == FrameTypeUnset
}

// Frame flag bits, carried in a 32-bit big-endian field.
const (
	FlagFin   uint32 = 1 << 0
	FlagAbort uint32 = 1 << 1
)

// FrameHeader is the fixed-layout prefix of every SPOP frame: a one-byte
// type, a 32-bit flags field, and two varint identifiers.
type FrameHeader struct {
	Type     FrameType
	Flags    uint32
	StreamID uint64
	FrameID  uint64
}

func (h FrameHeader) Fin() bool   { return h.Flags&FlagFin != 0 }
func (h FrameHeader) Abort() bool { return h.Flags&FlagAbort != 0 }

// encodeFrameHeader appends h's wire encoding to buf.
func encodeFrameHeader(buf []byte, h FrameHeader) []byte {
	buf = append(buf, byte(h.Type))
	var flagBytes [4]byte
	binary.BigEndian.PutUint32(flagBytes[:], h.Flags)
	buf = append(buf, flagBytes[:]...)
	buf = encodeVarint(buf, h.StreamID)
	buf = encodeVarint(buf, h.FrameID)
	return buf
}

// decodeFrameHeader reads a [FrameHeader] from r. ABORT without FIN is
// rejected per the protocol invariant that an aborted frame is always final.
func decodeFrameHeader(r *bufio.Reader) (FrameHeader, error) {
	typeByte, err := r.ReadByte()
	if err != nil {
		return FrameHeader{}, fmt.Errorf("%w: frame type: %w", ErrInsufficientBytes, err)
	}

	var flagBytes [4]byte
	if _, err := io.ReadFull(r, flagBytes[:]); err != nil {
		return FrameHeader{}, fmt.Errorf("%w: frame flags: %w", ErrInsufficientBytes, err)
	}
	flags := binary.BigEndian.Uint32(flagBytes[:])

	streamID, err := decodeVarint(r)
	if err != nil {
		return FrameHeader{}, fmt.Errorf("%w: stream-id: %w", ErrInvalidStreamID, err)
	}
	frameID, err := decodeVarint(r)
	if err != nil {
		return FrameHeader{}, fmt.Errorf("%w: frame-id: %w", ErrInvalidFrameID, err)
	}

	h := FrameHeader{
		Type:     FrameType(typeByte),
		Flags:    flags,
		StreamID: streamID,
		FrameID:  frameID,
	}
	if h.Abort() && !h.Fin() {
		return FrameHeader{}, fmt.Errorf("%w: ABORT set without FIN", ErrInvalidFlags)
	}

	return h, nil
}
