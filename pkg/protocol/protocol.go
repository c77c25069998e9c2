// Package protocol defines the hub's frame format and the UDP media packet.
//
// A frame on the wire:
//
//	[length u32][type u16][jsonLen u32][json object][binary payload]
//
// length counts every byte after the length field. All integers are big-endian.
package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// LengthSize is the size of the outer length prefix.
	LengthSize = 4

	// HeaderSize is the size of the type and JSON length fields that follow the prefix.
	HeaderSize = 6

	// MaxFrameSize bounds the bytes after the length prefix (16 MiB).
	MaxFrameSize = 16 << 20
)

var (
	// ErrIncomplete means the buffer does not yet hold a whole frame.
	ErrIncomplete = errors.New("protocol: incomplete frame")

	// ErrMalformed means the buffer can never be decoded; the connection must be closed.
	ErrMalformed = errors.New("protocol: malformed frame")
)

// Type tags a frame. The same space is used in both directions.
type Type uint16

const (
	TypeAuth        Type = 1  // register / login
	TypePing        Type = 2  // liveness check, allowed before login
	TypePong        Type = 3  // reply to Ping
	TypeOrder       Type = 4  // work-order operations
	TypeJoinRoom    Type = 5  // enter a room
	TypeLeaveRoom   Type = 6  // leave the current room
	TypeMediaFrame  Type = 7  // video/audio frame, carries binary payload
	TypeChat        Type = 8  // room passthrough
	TypeAnnotation  Type = 9  // room passthrough
	TypeControl     Type = 10 // room passthrough
	TypeServerEvent Type = 11 // server -> client envelope
)

func (t Type) String() string {
	switch t {
	case TypeAuth:
		return "AUTH"
	case TypePing:
		return "PING"
	case TypePong:
		return "PONG"
	case TypeOrder:
		return "ORDER"
	case TypeJoinRoom:
		return "JOIN_ROOM"
	case TypeLeaveRoom:
		return "LEAVE_ROOM"
	case TypeMediaFrame:
		return "MEDIA_FRAME"
	case TypeChat:
		return "CHAT"
	case TypeAnnotation:
		return "ANNOTATION"
	case TypeControl:
		return "CONTROL"
	case TypeServerEvent:
		return "SERVER_EVENT"
	default:
		return fmt.Sprintf("TYPE(%d)", uint16(t))
	}
}

// Valid reports whether t belongs to the closed set of frame types.
func (t Type) Valid() bool {
	return t >= TypeAuth && t <= TypeServerEvent
}

// CarriesBinary reports whether frames of this type may have a binary payload.
func (t Type) CarriesBinary() bool {
	return t == TypeMediaFrame
}

// Packet is one decoded frame.
type Packet struct {
	Type   Type
	JSON   json.RawMessage
	Binary []byte
}

var emptyObject = json.RawMessage("{}")

// NewPacket marshals body as the packet's JSON metadata. A nil body yields {}.
func NewPacket(t Type, body any, bin []byte) (Packet, error) {
	p := Packet{Type: t, Binary: bin}
	if body == nil {
		p.JSON = emptyObject
		return p, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return Packet{}, fmt.Errorf("protocol: marshal %s: %w", t, err)
	}
	p.JSON = data
	return p, nil
}

// Unmarshal decodes the packet's JSON metadata into v.
func (p Packet) Unmarshal(v any) error {
	data := p.JSON
	if len(data) == 0 {
		data = emptyObject
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("protocol: unmarshal %s: %w", p.Type, err)
	}
	return nil
}

// Size returns the encoded size of the packet in bytes.
func (p Packet) Size() int {
	n := len(p.JSON)
	if n == 0 {
		n = len(emptyObject)
	}
	return LengthSize + HeaderSize + n + len(p.Binary)
}

// Encode serializes the packet into a single frame.
func Encode(p Packet) ([]byte, error) {
	if !p.Type.Valid() {
		return nil, fmt.Errorf("protocol: encode: unknown type %d", uint16(p.Type))
	}
	if len(p.Binary) > 0 && !p.Type.CarriesBinary() {
		return nil, fmt.Errorf("protocol: encode: %s cannot carry binary payload", p.Type)
	}
	meta := p.JSON
	if len(meta) == 0 {
		meta = emptyObject
	}
	if !isObject(meta) {
		return nil, fmt.Errorf("protocol: encode: %s metadata is not a JSON object", p.Type)
	}

	length := HeaderSize + len(meta) + len(p.Binary)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("protocol: encode: frame too large: %d bytes", length)
	}

	buf := make([]byte, LengthSize+length)
	binary.BigEndian.PutUint32(buf[0:4], uint32(length)) //nolint:gosec // bounded by MaxFrameSize
	binary.BigEndian.PutUint16(buf[4:6], uint16(p.Type))
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(meta))) //nolint:gosec // bounded by MaxFrameSize
	n := copy(buf[LengthSize+HeaderSize:], meta)
	copy(buf[LengthSize+HeaderSize+n:], p.Binary)
	return buf, nil
}

// Decode extracts the first frame in buf. It returns the packet and the number
// of bytes consumed, ErrIncomplete when more bytes are needed, or an error
// wrapping ErrMalformed when buf can never yield a valid frame.
// The returned packet does not alias buf.
func Decode(buf []byte) (Packet, int, error) {
	if len(buf) < LengthSize {
		return Packet{}, 0, ErrIncomplete
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	if length < HeaderSize || length > MaxFrameSize {
		return Packet{}, 0, fmt.Errorf("%w: bad length %d", ErrMalformed, length)
	}
	// Header fields can be checked before the body has arrived.
	if len(buf) >= LengthSize+HeaderSize {
		if err := checkHeader(buf[LengthSize:LengthSize+HeaderSize], length); err != nil {
			return Packet{}, 0, err
		}
	}
	total := LengthSize + int(length)
	if len(buf) < total {
		return Packet{}, 0, ErrIncomplete
	}

	frame := buf[LengthSize:total]
	t := Type(binary.BigEndian.Uint16(frame[0:2]))
	jsonLen := int(binary.BigEndian.Uint32(frame[2:6]))
	meta := frame[HeaderSize : HeaderSize+jsonLen]
	if jsonLen == 0 {
		meta = emptyObject
	} else if !isObject(meta) {
		return Packet{}, 0, fmt.Errorf("%w: %s metadata is not a JSON object", ErrMalformed, t)
	}

	p := Packet{
		Type: t,
		JSON: append(json.RawMessage(nil), meta...),
	}
	if rest := frame[HeaderSize+jsonLen:]; len(rest) > 0 {
		p.Binary = append([]byte(nil), rest...)
	}
	return p, total, nil
}

func checkHeader(h []byte, length uint32) error {
	t := Type(binary.BigEndian.Uint16(h[0:2]))
	if !t.Valid() {
		return fmt.Errorf("%w: unknown type %d", ErrMalformed, uint16(t))
	}
	jsonLen := binary.BigEndian.Uint32(h[2:6])
	if jsonLen > length-HeaderSize {
		return fmt.Errorf("%w: json length %d exceeds frame", ErrMalformed, jsonLen)
	}
	if jsonLen < length-HeaderSize && !t.CarriesBinary() {
		return fmt.Errorf("%w: %s cannot carry binary payload", ErrMalformed, t)
	}
	return nil
}

func isObject(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(data)
}

// Decoder accumulates a byte stream and yields complete packets in order.
// It is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// Write appends stream bytes. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Next returns the next complete packet, ErrIncomplete if more bytes are
// needed, or a malformed-frame error. After a malformed error the decoder
// is unusable.
func (d *Decoder) Next() (Packet, error) {
	p, n, err := Decode(d.buf)
	if err != nil {
		return Packet{}, err
	}
	// Shift the tail down so the buffer does not grow without bound.
	remaining := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:remaining]
	return p, nil
}

// Buffered returns the number of undecoded bytes held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// WritePacket encodes p and writes it as a single frame.
func WritePacket(w io.Writer, p Packet) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("protocol: write %s: %w", p.Type, err)
	}
	return nil
}

// ReadPacket reads exactly one frame from r.
func ReadPacket(r io.Reader) (Packet, error) {
	lenBuf := make([]byte, LengthSize)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return Packet{}, fmt.Errorf("protocol: read length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length < HeaderSize || length > MaxFrameSize {
		return Packet{}, fmt.Errorf("%w: bad length %d", ErrMalformed, length)
	}
	frame := make([]byte, LengthSize+int(length))
	copy(frame, lenBuf)
	if _, err := io.ReadFull(r, frame[LengthSize:]); err != nil {
		return Packet{}, fmt.Errorf("protocol: read frame: %w", err)
	}
	p, _, err := Decode(frame)
	return p, err
}
