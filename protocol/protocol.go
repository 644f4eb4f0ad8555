// Package protocol implements the binary frame format used by stream transports.
//
// A TCP stream has no message boundaries, so every payload is preceded by a
// fixed 10-byte header that carries the body length. The receiver reads the
// header, then exactly BodyLen bytes.
//
// Frame format:
//
//	0      3  4  5  6         10
//	┌──────┬──┬──┬──┬─────────┬───────────────┐
//	│magic │v │ct│mt│ bodyLen │    body ...    │
//	│ trp  │01│  │  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴───────────────┘
//
// Correlation identifiers live inside the body (see package message), so the
// frame layer stays payload-agnostic.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic number bytes: "trp" (typed rpc). Rejects peers speaking anything else.
const (
	MagicNumber byte   = 0x74 // 't'
	MagicByte2  byte   = 0x72 // 'r'
	MagicByte3  byte   = 0x70 // 'p'
	Version     byte   = 0x01
	HeaderSize  int    = 10 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (bodyLen)
	MaxBodyLen  uint32 = 64 * 1024 * 1024
)

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Stub → Dispatcher
	MsgTypeResponse  MsgType = 1 // Dispatcher → Stub
	MsgTypeHeartbeat MsgType = 2 // KeepAlive (no body)
)

// Codec type constants, mirrored from the codec package to keep this package a leaf.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header is the fixed frame header.
type Header struct {
	CodecType byte    // Slot format of the body: 0=JSON, 1=Binary
	MsgType   MsgType // Request, Response, or Heartbeat
	BodyLen   uint32  // Body length in bytes
}

// Encode writes a complete frame (header + body) to w.
// Callers sharing w across goroutines must hold a write lock around Encode,
// otherwise frames interleave.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) != h.BodyLen {
		return fmt.Errorf("protocol: header body length %d, body has %d bytes", h.BodyLen, len(body))
	}
	if h.BodyLen > MaxBodyLen {
		return fmt.Errorf("protocol: body length %d exceeds limit", h.BodyLen)
	}

	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.BodyLen)

	// One Write per frame so a concurrent reader never sees half a header
	_, err := w.Write(append(buf, body...))
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates magic number, version, codec type, message type and length.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := headerBuf[5]
	if msgType != byte(MsgTypeRequest) && msgType != byte(MsgTypeResponse) && msgType != byte(MsgTypeHeartbeat) {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[6:10])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("body length %d exceeds limit", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   MsgType(msgType),
		BodyLen:   bodyLen,
	}, body, nil
}
