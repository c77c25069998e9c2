package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/cloudmeeting/orderhub/pkg/protocol"
	"github.com/cloudmeeting/orderhub/pkg/protocol/events"
)

const readBufferSize = 32 << 10

// Listen binds the TCP listener, wrapped in TLS when configured.
func (s *Server) Listen() error {
	var (
		ln  net.Listener
		err error
	)
	if s.cfg.TLS {
		cert, terr := s.hubCertificate()
		if terr != nil {
			return fmt.Errorf("server: tls: %w", terr)
		}
		tlsCfg := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS13,
		}
		ln, err = tls.Listen("tcp", s.cfg.ListenAddr, tlsCfg)
	} else {
		ln, err = net.Listen("tcp", s.cfg.ListenAddr)
	}
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	slog.Info("hub listening", "addr", ln.Addr().String(), "tls", s.cfg.TLS)
	return nil
}

// acceptLoop serves connections until the listener is closed.
func (s *Server) acceptLoop(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("server: accept: not listening")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("accept error", "err", err)
			continue
		}
		go s.ServeConn(conn)
	}
}

// ServeConn runs one connection until it closes. It is used for TCP, TLS and
// WebSocket transports alike.
func (s *Server) ServeConn(nc net.Conn) {
	c := newConn(nc, s.cfg, s.now())
	s.conns.Add(c)
	go c.writeLoop()

	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	slog.Debug("new connection", "conn", c.ID(), "remote", c.RemoteAddr())
	defer s.disconnect(c, "closed")

	// Connections accepted during shutdown are closed immediately.
	if s.ctx.Err() != nil {
		return
	}

	var dec protocol.Decoder
	buf := make([]byte, readBufferSize)
	for {
		n, err := nc.Read(buf)
		if n > 0 {
			_, _ = dec.Write(buf[:n])
			for {
				p, derr := dec.Next()
				if errors.Is(derr, protocol.ErrIncomplete) {
					break
				}
				if derr != nil {
					s.metrics.DecodeErrors.Add(1)
					slog.Warn("malformed frame, closing connection", "conn", c.ID(), "remote", c.RemoteAddr(), "err", derr)
					return
				}
				c.Touch(s.now())
				s.metrics.PacketsIn.Add(1)
				s.handlePacket(c, p)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("read error", "conn", c.ID(), "err", err)
			}
			return
		}
	}
}

// handlePacket dispatches one decoded packet. AUTH and the liveness
// packets are accepted before login.
func (s *Server) handlePacket(c *Conn, p protocol.Packet) {
	switch p.Type {
	case protocol.TypeAuth:
		s.handleAuth(c, p)
		return
	case protocol.TypePing:
		s.handlePing(c, p)
		return
	case protocol.TypePong:
		// Liveness already recorded.
		return
	}

	sess, ok := s.authenticated(c)
	if !ok {
		s.sendError(c, events.KindAuth, newError(CodeUnauthorized, "authentication required"))
		return
	}

	switch p.Type {
	case protocol.TypeOrder:
		s.handleOrder(c, sess, p)
	case protocol.TypeJoinRoom:
		s.handleJoinRoom(c, sess, p)
	case protocol.TypeLeaveRoom:
		s.handleLeaveRoom(c, sess)
	case protocol.TypeServerEvent:
		s.sendError(c, events.KindError, newError(CodeBadRequest, "SERVER_EVENT is server-to-client only"))
	default:
		s.forwardToRoom(c, sess, p)
	}
}

// handlePing answers with the request body plus the server time.
func (s *Server) handlePing(c *Conn, p protocol.Packet) {
	body := map[string]json.RawMessage{}
	if err := p.Unmarshal(&body); err != nil {
		body = map[string]json.RawMessage{}
	}
	ts, _ := json.Marshal(s.now().UnixMilli())
	body["ts"] = ts
	s.send(c, protocol.TypePong, body)
}

// disconnect runs the cleanup shared by client close, decode errors,
// heartbeat eviction, slow consumers and shutdown. Only the first call for
// a connection does anything.
func (s *Server) disconnect(c *Conn, reason string) {
	c.Close()
	if !s.conns.Remove(c.ID()) {
		return
	}
	sess, hadSession := s.sessions.RemoveConn(c.ID())
	s.relay.Forget(c.ID())
	s.leaveRoom(c, c.Username())

	s.metrics.ActiveConnections.Add(-1)
	s.metrics.TotalDisconnects.Add(1)
	if hadSession {
		slog.Info("client disconnected", "user", sess.Username, "conn", c.ID(), "reason", reason)
	} else {
		slog.Debug("connection closed", "conn", c.ID(), "reason", reason)
	}
}

// registered reports whether c is still in the connection registry.
// disconnect removes c from the registry before clearing the session, room
// and relay tables, so a handler that inserts into one of those tables and
// then finds c gone must undo the insert itself.
func (s *Server) registered(c *Conn) bool {
	got, ok := s.conns.Get(c.ID())
	return ok && got == c
}

func encodeEvent(t protocol.Type, body any) ([]byte, error) {
	p, err := protocol.NewPacket(t, body, nil)
	if err != nil {
		return nil, err
	}
	return protocol.Encode(p)
}

// send encodes body and queues it for c.
func (s *Server) send(c *Conn, t protocol.Type, body any) {
	frame, err := encodeEvent(t, body)
	if err != nil {
		slog.Error("encode failed", "type", t, "err", err)
		return
	}
	s.sendFrame(c, frame)
}

// sendFrame queues an encoded frame. A connection past its hard backlog
// limit is closed; that cleanup runs on its own goroutine because the
// caller may be mid-broadcast.
func (s *Server) sendFrame(c *Conn, frame []byte) {
	err := c.Send(frame)
	if errors.Is(err, errSlowConsumer) {
		s.metrics.SlowConsumerCloses.Add(1)
		slog.Warn("closing slow consumer", "conn", c.ID(), "backlog", c.Backlog())
		go s.disconnect(c, "slow consumer")
	}
}

// sendError reports a failed request to the caller. The connection stays open.
func (s *Server) sendError(c *Conn, kind string, e *Error) {
	s.send(c, protocol.TypeServerEvent, events.Error(kind, e.Code, e.Message))
}
