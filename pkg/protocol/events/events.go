// Package events defines the JSON bodies carried inside hub frames.
//
// Requests travel in AUTH, ORDER and JOIN_ROOM frames. Everything the hub
// pushes unprompted travels in SERVER_EVENT frames tagged with a kind and
// an event name.
package events

import "github.com/cloudmeeting/orderhub/pkg/model"

// Event kinds.
const (
	KindAuth  = "auth"
	KindOrder = "order"
	KindRoom  = "room"
	KindNet   = "net"
	KindError = "error"
)

// Event names.
const (
	EventOK        = "ok"
	EventError     = "error"
	EventCreated   = "created"
	EventAccepted  = "accepted"
	EventUpdated   = "updated"
	EventJoin      = "join"
	EventLeave     = "leave"
	EventSnapshot  = "snapshot"
	EventCongested = "congested"
)

// Auth operations.
const (
	OpRegister = "register"
	OpLogin    = "login"
)

// Order operations.
const (
	OpCreate = "create"
	OpList   = "list"
	OpAccept = "accept"
	OpStatus = "status"
)

// AuthRequest is the body of an AUTH frame.
type AuthRequest struct {
	Op       string `json:"op"`
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// OrderRequest is the body of an ORDER frame sent by a client.
type OrderRequest struct {
	Op          string `json:"op"`
	ID          string `json:"id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

// OrderReply answers create, accept and status requests.
type OrderReply struct {
	Op    string          `json:"op"`
	Order model.WorkOrder `json:"order"`
}

// OrderListReply answers a list request.
type OrderListReply struct {
	Op     string            `json:"op"`
	Orders []model.WorkOrder `json:"orders"`
}

// RoomRequest is the body of JOIN_ROOM. LEAVE_ROOM ignores it.
type RoomRequest struct {
	RoomID string `json:"roomId"`
}

// Envelope is the common header of every SERVER_EVENT body.
type Envelope struct {
	Kind  string `json:"kind"`
	Event string `json:"event"`
}

// ErrorEvent reports a failed request. The connection stays open.
type ErrorEvent struct {
	Kind    string `json:"kind"`
	Event   string `json:"event"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// AuthEvent answers AUTH requests. Token, SessionID and User are set only on login.
type AuthEvent struct {
	Kind      string         `json:"kind"`
	Event     string         `json:"event"`
	Message   string         `json:"message,omitempty"`
	Token     string         `json:"token,omitempty"`
	SessionID uint32         `json:"sessionId,omitempty"`
	User      *model.Profile `json:"user,omitempty"`
}

// OrderEvent is broadcast to every authenticated connection when an order changes.
type OrderEvent struct {
	Kind  string          `json:"kind"`
	Event string          `json:"event"`
	Order model.WorkOrder `json:"order"`
}

// RoomEvent reports room membership. User names the member that changed.
type RoomEvent struct {
	Kind    string   `json:"kind"`
	Event   string   `json:"event"`
	RoomID  string   `json:"roomId"`
	Members []string `json:"members,omitempty"`
	User    string   `json:"user,omitempty"`
}

// CongestionEvent tells a sender that a media frame was dropped for a slow recipient.
type CongestionEvent struct {
	Kind         string `json:"kind"`
	Event        string `json:"event"`
	BacklogBytes int64  `json:"backlog_bytes"`
}

// Error builds an error event. kind names the request family that failed,
// or KindError when there is none.
func Error(kind string, code int, msg string) ErrorEvent {
	return ErrorEvent{Kind: kind, Event: EventError, Code: code, Message: msg}
}

// Congested builds a congestion advisory.
func Congested(backlog int64) CongestionEvent {
	return CongestionEvent{Kind: KindNet, Event: EventCongested, BacklogBytes: backlog}
}

// Order builds an order broadcast.
func Order(event string, o model.WorkOrder) OrderEvent {
	return OrderEvent{Kind: KindOrder, Event: event, Order: o}
}

// Room builds a membership event.
func Room(event, roomID string, members []string, user string) RoomEvent {
	return RoomEvent{Kind: KindRoom, Event: event, RoomID: roomID, Members: members, User: user}
}
