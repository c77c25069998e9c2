package client

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/cloudmeeting/orderhub/pkg/protocol"
)

// MediaClient sends and receives datagrams through the hub's UDP relay.
// Payloads are opaque to the hub; the session id comes from Login.
type MediaClient struct {
	conn      *net.UDPConn
	sessionID uint32
	seqNum    uint32
	mu        sync.Mutex

	// Incoming media packets are sent here
	IncomingPackets chan *protocol.MediaPacket

	done chan struct{}
}

// NewMediaClient dials the relay at serverAddr.
func NewMediaClient(serverAddr string, sessionID uint32) (*MediaClient, error) {
	addr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("client: resolve relay addr: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial relay: %w", err)
	}

	// Increase buffer sizes
	_ = conn.SetReadBuffer(512 * 1024)
	_ = conn.SetWriteBuffer(512 * 1024)

	return &MediaClient{
		conn:            conn,
		sessionID:       sessionID,
		IncomingPackets: make(chan *protocol.MediaPacket, 100),
		done:            make(chan struct{}),
	}, nil
}

// SendMedia sends one payload. The first datagram binds this socket's
// address to the session on the relay.
func (m *MediaClient) SendMedia(payload []byte, timestamp uint32) error {
	if len(payload) > protocol.MaxMediaPayload {
		return fmt.Errorf("client: media payload too large: %d bytes", len(payload))
	}
	m.mu.Lock()
	m.seqNum++
	seqNum := m.seqNum
	m.mu.Unlock()

	pkt := &protocol.MediaPacket{
		SessionID: m.sessionID,
		SeqNum:    seqNum,
		Timestamp: timestamp,
		Payload:   payload,
	}
	_, err := m.conn.Write(pkt.Marshal())
	return err
}

// StartReceiving starts listening for relayed media packets. Each sender's
// packets are delivered on IncomingPackets in sequence order.
func (m *MediaClient) StartReceiving() {
	go func() {
		defer close(m.done)
		buf := make([]byte, protocol.MediaHeaderSize+protocol.MaxMediaPayload)
		senders := make(map[uint32]*ReorderBuffer)

		for {
			n, err := m.conn.Read(buf)
			if err != nil {
				slog.Debug("media read error", "err", err)
				return
			}

			pkt, err := protocol.UnmarshalMediaPacket(buf[:n])
			if err != nil {
				continue
			}

			rb, ok := senders[pkt.SessionID]
			if !ok {
				rb = NewReorderBuffer()
				senders[pkt.SessionID] = rb
			}
			rb.Push(pkt)
			for {
				next, _, ok := rb.Pop()
				if !ok {
					break
				}
				if next == nil {
					continue // lost
				}
				select {
				case m.IncomingPackets <- next:
				default:
					// Drop packet if channel is full (back-pressure)
				}
			}
		}
	}()
}

// Close closes the relay socket.
func (m *MediaClient) Close() error {
	return m.conn.Close()
}
