package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/cloudmeeting/orderhub/pkg/protocol"
)

// Relay remembers the UDP address bound to each connection id.
type Relay struct {
	mu    sync.RWMutex
	addrs map[uint32]*net.UDPAddr
}

// NewRelay creates an empty relay address table.
func NewRelay() *Relay {
	return &Relay{addrs: make(map[uint32]*net.UDPAddr)}
}

// Bind records addr for connID unless another address is already bound.
// It reports whether addr is the bound address.
func (r *Relay) Bind(connID uint32, addr *net.UDPAddr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.addrs[connID]
	if !ok {
		r.addrs[connID] = addr
		return true
	}
	return cur.IP.Equal(addr.IP) && cur.Port == addr.Port
}

// Addr returns the bound address for connID.
func (r *Relay) Addr(connID uint32) (*net.UDPAddr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.addrs[connID]
	return a, ok
}

// Forget drops the binding for connID.
func (r *Relay) Forget(connID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.addrs, connID)
}

// ListenRelay binds the UDP media relay socket.
func (s *Server) ListenRelay() error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.RelayAddr)
	if err != nil {
		return fmt.Errorf("server: resolve relay addr: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("server: listen relay: %w", err)
	}

	// Increase UDP buffer size for better performance
	if err := conn.SetReadBuffer(1024 * 1024); err != nil {
		slog.Warn("failed to set UDP read buffer", "err", err)
	}
	if err := conn.SetWriteBuffer(1024 * 1024); err != nil {
		slog.Warn("failed to set UDP write buffer", "err", err)
	}

	s.mu.Lock()
	s.udpConn = conn
	s.mu.Unlock()
	slog.Info("media relay listening", "addr", conn.LocalAddr().String())
	return nil
}

// relayLoop reads media datagrams and forwards them to the other members of
// the sender's room. Payloads are opaque; nothing is decoded or mixed.
func (s *Server) relayLoop(ctx context.Context) error {
	s.mu.Lock()
	conn := s.udpConn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("server: relay: not listening")
	}

	buf := make([]byte, protocol.MediaHeaderSize+protocol.MaxMediaPayload)
	for {
		n, remoteAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("relay read error", "err", err)
			continue
		}
		s.relayDatagram(conn, buf[:n], remoteAddr)
	}
}

// relayDatagram handles one datagram. The sender is identified by the
// connection id in the header, checked against the address it first bound
// from; its room comes from the hub, never from the datagram.
func (s *Server) relayDatagram(conn *net.UDPConn, data []byte, from *net.UDPAddr) {
	if len(data) < protocol.MediaHeaderSize {
		s.metrics.RelayPacketsDropped.Add(1)
		return
	}
	s.metrics.RelayPacketsIn.Add(1)
	s.metrics.RelayBytesIn.Add(int64(len(data)))

	pkt, err := protocol.UnmarshalMediaPacket(data)
	if err != nil {
		s.metrics.RelayPacketsDropped.Add(1)
		return
	}

	sender, ok := s.conns.Get(pkt.SessionID)
	if !ok {
		s.metrics.RelayPacketsDropped.Add(1)
		return
	}
	if _, ok := s.authenticated(sender); !ok {
		s.metrics.RelayPacketsDropped.Add(1)
		return
	}
	if !s.relay.Bind(pkt.SessionID, from) {
		s.metrics.RelayPacketsDropped.Add(1)
		return // source mismatch, drop (prevents UDP session hijack)
	}
	if !s.registered(sender) {
		s.relay.Forget(pkt.SessionID)
		s.metrics.RelayPacketsDropped.Add(1)
		return
	}

	roomID := s.rooms.RoomOf(pkt.SessionID)
	if roomID == "" {
		s.metrics.RelayPacketsDropped.Add(1)
		return
	}

	for _, memberID := range s.rooms.Members(roomID) {
		if memberID == pkt.SessionID {
			continue // don't echo back to sender
		}
		addr, ok := s.relay.Addr(memberID)
		if !ok {
			continue
		}
		if _, err := conn.WriteToUDP(data, addr); err != nil {
			slog.Debug("relay forward error", "target", memberID, "err", err)
			continue
		}
		s.metrics.RelayPacketsOut.Add(1)
		s.metrics.RelayBytesOut.Add(int64(len(data)))
	}
}
