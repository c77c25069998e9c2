package protocol

import (
	"encoding/binary"
	"errors"
)

const (
	// MediaHeaderSize is the byte size of the UDP media packet header.
	// [sessionID(4) | seqNum(4) | timestamp(4)] = 12 bytes
	MediaHeaderSize = 12

	// MaxMediaPayload is the largest payload relayed in one datagram.
	MaxMediaPayload = 1400
)

var ErrMediaTooShort = errors.New("protocol: media packet too short")

// MediaPacket is a datagram on the UDP media relay. SessionID is the
// connection id handed out at login; the relay routes by the room that
// connection is in, never by anything the datagram claims.
type MediaPacket struct {
	SessionID uint32
	SeqNum    uint32
	Timestamp uint32
	Payload   []byte
}

// MarshalHeader marshals only the header portion.
func (p *MediaPacket) MarshalHeader() []byte {
	h := make([]byte, MediaHeaderSize)
	binary.BigEndian.PutUint32(h[0:4], p.SessionID)
	binary.BigEndian.PutUint32(h[4:8], p.SeqNum)
	binary.BigEndian.PutUint32(h[8:12], p.Timestamp)
	return h
}

// Marshal serializes the whole datagram.
func (p *MediaPacket) Marshal() []byte {
	buf := make([]byte, MediaHeaderSize+len(p.Payload))
	copy(buf, p.MarshalHeader())
	copy(buf[MediaHeaderSize:], p.Payload)
	return buf
}

// UnmarshalMediaPacket parses a datagram. The payload is copied.
func UnmarshalMediaPacket(data []byte) (*MediaPacket, error) {
	if len(data) < MediaHeaderSize {
		return nil, ErrMediaTooShort
	}
	pkt := &MediaPacket{
		SessionID: binary.BigEndian.Uint32(data[0:4]),
		SeqNum:    binary.BigEndian.Uint32(data[4:8]),
		Timestamp: binary.BigEndian.Uint32(data[8:12]),
		Payload:   make([]byte, len(data)-MediaHeaderSize),
	}
	copy(pkt.Payload, data[MediaHeaderSize:])
	return pkt, nil
}
