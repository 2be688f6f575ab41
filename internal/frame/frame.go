package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fasthttp/websocket"
)

var ErrMalformedFrame = errors.New("malformed binary frame")

// prefixSize is the length of the little-endian header size that starts a prefixed binary frame.
const prefixSize = 4

type Kind int

const (
	KindNone Kind = iota
	KindText
	KindBinary
)

// Frame is a read-only view over one websocket message. The payload is borrowed, not copied.
type Frame struct {
	kind Kind
	data []byte
}

// FromMessage builds a frame from a websocket message type as returned by Conn.ReadMessage.
func FromMessage(messageType int, data []byte) Frame {
	switch messageType {
	case websocket.TextMessage:
		return Frame{kind: KindText, data: data}
	case websocket.BinaryMessage:
		return Frame{kind: KindBinary, data: data}
	default:
		return Frame{data: data}
	}
}

func Text(data []byte) Frame {
	return Frame{kind: KindText, data: data}
}

func Binary(data []byte) Frame {
	return Frame{kind: KindBinary, data: data}
}

func (f Frame) Kind() Kind {
	return f.kind
}

func (f Frame) IsText() bool {
	return f.kind == KindText
}

func (f Frame) IsBinary() bool {
	return f.kind == KindBinary
}

// IsEmpty reports a degenerate frame carrying neither a kind nor data.
func (f Frame) IsEmpty() bool {
	return f.kind == KindNone && len(f.data) == 0
}

func (f Frame) Data() []byte {
	return f.data
}

func (f Frame) Size() int {
	return len(f.data)
}

// SplitBinary splits a prefixed binary payload into its JSON header and trailing body.
// Layout: uint32 little-endian header length, header bytes, body bytes.
func SplitBinary(payload []byte) (header, body []byte, err error) {
	if len(payload) < prefixSize {
		return nil, nil, fmt.Errorf("%w: %d bytes is shorter than the size prefix", ErrMalformedFrame, len(payload))
	}
	size := binary.LittleEndian.Uint32(payload[:prefixSize])
	if uint64(size) > uint64(len(payload)-prefixSize) {
		return nil, nil, fmt.Errorf("%w: header of %d bytes in a %d bytes frame", ErrMalformedFrame, size, len(payload))
	}
	end := prefixSize + int(size)
	return payload[prefixSize:end], payload[end:], nil
}

// JoinBinary is the inverse of SplitBinary.
func JoinBinary(header, body []byte) []byte {
	out := make([]byte, prefixSize+len(header)+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(header)))
	copy(out[prefixSize:], header)
	copy(out[prefixSize+len(header):], body)
	return out
}
