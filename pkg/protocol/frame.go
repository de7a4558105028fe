package protocol

import (
	"errors"
	"io"
)

// Frame constants.
const (
	// FrameHeaderSize is the size of the frame header in bytes.
	FrameHeaderSize = 4

	// MaxPayloadSize is the maximum payload size (2^16 - 1 bytes).
	MaxPayloadSize = 65535
)

// FrameType identifies the type of frame.
type FrameType uint8

const (
	FrameHandshake FrameType = 0x00 // Connection setup
	FrameIntent    FrameType = 0x01 // Client → server requested change
	FrameUpdate    FrameType = 0x02 // Server → client applied change set
	FrameControl   FrameType = 0x03 // Ping, resync request, close
	FrameSnapshot  FrameType = 0x04 // Server → client full world state
	FrameError     FrameType = 0x05 // Rejection or protocol error
)

// String returns the string representation of the frame type.
func (ft FrameType) String() string {
	switch ft {
	case FrameHandshake:
		return "Handshake"
	case FrameIntent:
		return "Intent"
	case FrameUpdate:
		return "Update"
	case FrameControl:
		return "Control"
	case FrameSnapshot:
		return "Snapshot"
	case FrameError:
		return "Error"
	default:
		return "Unknown"
	}
}

// FrameFlags are optional flags for frame processing. None are assigned
// yet; the byte is reserved so the header layout never has to change.
type FrameFlags uint8

// Frame errors.
var (
	ErrFrameTooLarge    = errors.New("protocol: frame payload too large")
	ErrFrameTooShort    = errors.New("protocol: frame shorter than header")
	ErrInvalidFrameType = errors.New("protocol: invalid frame type")
)

// Frame is a protocol frame: header plus payload.
type Frame struct {
	Type    FrameType
	Flags   FrameFlags
	Payload []byte
}

// NewFrame creates a frame with the given type and payload.
func NewFrame(ft FrameType, payload []byte) *Frame {
	return &Frame{Type: ft, Payload: payload}
}

// Encode returns the frame as bytes including the header. The length
// header is 16 bits, so payloads larger than MaxPayloadSize cannot be
// represented; Encode panics with ErrFrameTooLarge rather than emit a
// truncated length. Callers keep payloads bounded: intents, updates,
// controls, and errors are small by construction, and snapshots are
// bounded by the world player cap.
func (f *Frame) Encode() []byte {
	length := len(f.Payload)
	if length > MaxPayloadSize {
		panic(ErrFrameTooLarge)
	}
	buf := make([]byte, FrameHeaderSize+length)
	buf[0] = byte(f.Type)
	buf[1] = byte(f.Flags)
	buf[2] = byte(length >> 8)
	buf[3] = byte(length)
	copy(buf[FrameHeaderSize:], f.Payload)
	return buf
}

// DecodeFrame decodes a frame from data. The input must contain the full
// header and payload; trailing bytes are ignored.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < FrameHeaderSize {
		return nil, ErrFrameTooShort
	}

	ft := FrameType(data[0])
	if ft > FrameError {
		return nil, ErrInvalidFrameType
	}
	flags := FrameFlags(data[1])
	length := int(data[2])<<8 | int(data[3])

	if len(data) < FrameHeaderSize+length {
		return nil, io.ErrUnexpectedEOF
	}

	payload := make([]byte, length)
	copy(payload, data[FrameHeaderSize:FrameHeaderSize+length])

	return &Frame{Type: ft, Flags: flags, Payload: payload}, nil
}
