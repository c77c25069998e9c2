package server

import (
	"encoding/json"
	"log/slog"

	"github.com/cloudmeeting/orderhub/pkg/model"
	"github.com/cloudmeeting/orderhub/pkg/protocol"
	"github.com/cloudmeeting/orderhub/pkg/protocol/events"
)

// handleJoinRoom moves c into a room. A room whose id names a work order
// admits only that order's creator and assignee; any other id is an ad-hoc
// room open to every authenticated connection.
func (s *Server) handleJoinRoom(c *Conn, sess Session, p protocol.Packet) {
	var req events.RoomRequest
	if err := p.Unmarshal(&req); err != nil || req.RoomID == "" {
		s.sendError(c, events.KindRoom, newError(CodeBadRequest, "roomId required"))
		return
	}

	order, isOrder := s.orders.Get(req.RoomID)
	if isOrder && !order.CanJoin(sess.Username, sess.Role) {
		s.sendError(c, events.KindRoom, newError(CodeForbidden, "not authorized to join this room"))
		return
	}

	if prev := s.rooms.Join(c.ID(), req.RoomID); prev != "" {
		s.announceMembers(prev, events.EventLeave, sess.Username)
	}
	if !s.registered(c) {
		// Disconnected while the join was in flight.
		s.leaveRoom(c, sess.Username)
		return
	}
	slog.Info("joined room", "user", sess.Username, "room", req.RoomID, "conn", c.ID())

	s.send(c, protocol.TypeServerEvent, events.RoomEvent{Kind: events.KindRoom, Event: events.EventOK, RoomID: req.RoomID})
	s.send(c, protocol.TypeServerEvent, events.Room(events.EventSnapshot, req.RoomID, s.memberNames(req.RoomID), sess.Username))
	s.announceMembers(req.RoomID, events.EventJoin, sess.Username)

	if isOrder {
		s.maybeStartOrder(order)
	}
}

// maybeStartOrder moves an assigned order to in_progress once both its
// creator and its assignee are in the room.
func (s *Server) maybeStartOrder(order model.WorkOrder) {
	if order.Status != model.StatusAssigned {
		return
	}
	var creator, assignee bool
	for _, id := range s.rooms.Members(order.ID) {
		c, ok := s.conns.Get(id)
		if !ok {
			continue
		}
		sess, ok := s.authenticated(c)
		if !ok {
			continue
		}
		switch {
		case sess.Role == model.RoleRequester && sess.Username == order.CreatedBy:
			creator = true
		case sess.Role == model.RoleSpecialist && sess.Username == order.AssignedTo:
			assignee = true
		}
	}
	if !creator || !assignee {
		return
	}
	updated, changed, err := s.orders.Start(order.ID)
	if err != nil || !changed {
		return
	}
	s.metrics.OrderUpdates.Add(1)
	slog.Info("order in progress", "order", updated.ID)
	s.broadcastOrderEvent(events.EventUpdated, updated)
}

func (s *Server) handleLeaveRoom(c *Conn, sess Session) {
	roomID := s.leaveRoom(c, sess.Username)
	if roomID == "" {
		s.sendError(c, events.KindRoom, newError(CodeConflict, "not in a room"))
		return
	}
	s.send(c, protocol.TypeServerEvent, events.Room(events.EventLeave, roomID, nil, sess.Username))
}

// leaveRoom removes c from its room and tells the remaining members.
func (s *Server) leaveRoom(c *Conn, username string) string {
	roomID := s.rooms.Leave(c.ID())
	if roomID == "" {
		return ""
	}
	slog.Debug("left room", "user", username, "room", roomID, "conn", c.ID())
	s.announceMembers(roomID, events.EventLeave, username)
	return roomID
}

// announceMembers sends the current member list of a room to all its members.
func (s *Server) announceMembers(roomID, event, who string) {
	s.broadcastEvent(roomID, events.Room(event, roomID, s.memberNames(roomID), who))
}

func (s *Server) broadcastEvent(roomID string, body any) {
	frame, err := encodeEvent(protocol.TypeServerEvent, body)
	if err != nil {
		slog.Error("encode room event failed", "err", err)
		return
	}
	s.broadcastToRoom(roomID, frame, nil, false)
}

// memberNames returns the usernames in a room, in connection id order.
func (s *Server) memberNames(roomID string) []string {
	ids := s.rooms.Members(roomID)
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.conns.Get(id); ok {
			names = append(names, c.Username())
		}
	}
	return names
}

// forwardToRoom tags a passthrough packet with its sender, room and time,
// then relays it to the rest of the room. Packets from connections outside
// any room are dropped.
func (s *Server) forwardToRoom(c *Conn, sess Session, p protocol.Packet) {
	roomID := s.rooms.RoomOf(c.ID())
	if roomID == "" {
		s.metrics.PacketsDropped.Add(1)
		return
	}

	meta := map[string]json.RawMessage{}
	if err := p.Unmarshal(&meta); err != nil {
		s.metrics.PacketsDropped.Add(1)
		return
	}
	sender, _ := json.Marshal(sess.Username)
	room, _ := json.Marshal(roomID)
	ts, _ := json.Marshal(s.now().UnixMilli())
	meta["sender"] = sender
	meta["roomId"] = room
	meta["ts"] = ts

	out, err := protocol.NewPacket(p.Type, meta, p.Binary)
	if err != nil {
		s.metrics.PacketsDropped.Add(1)
		return
	}
	frame, err := protocol.Encode(out)
	if err != nil {
		s.metrics.PacketsDropped.Add(1)
		slog.Debug("forward encode failed", "conn", c.ID(), "err", err)
		return
	}
	s.broadcastToRoom(roomID, frame, c, p.Type == protocol.TypeMediaFrame)
}

// broadcastToRoom queues frame for every member except except. When
// dropIfBacklogged is set, a member whose backlog is already past the
// threshold misses this frame and the sender gets a congestion advisory.
// Skipped frames are never retried.
func (s *Server) broadcastToRoom(roomID string, frame []byte, except *Conn, dropIfBacklogged bool) {
	for _, id := range s.rooms.Members(roomID) {
		if except != nil && id == except.ID() {
			continue
		}
		member, ok := s.conns.Get(id)
		if !ok {
			continue
		}
		if dropIfBacklogged {
			if backlog := member.Backlog(); backlog > s.cfg.BacklogThreshold {
				s.metrics.MediaFramesDropped.Add(1)
				if except != nil {
					s.metrics.CongestionAdvisories.Add(1)
					s.send(except, protocol.TypeServerEvent, events.Congested(backlog))
				}
				continue
			}
		}
		s.sendFrame(member, frame)
		s.metrics.PacketsForwarded.Add(1)
	}
}
