// Package client implements a Go client for the order hub.
//
// A Client owns one frame-protocol connection. Request methods send one
// packet and wait for its reply; they are serialized, so at most one is in
// flight. Everything else the hub pushes (order broadcasts, room events,
// forwarded room traffic) is delivered on Events.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cloudmeeting/orderhub/pkg/model"
	"github.com/cloudmeeting/orderhub/pkg/protocol"
	"github.com/cloudmeeting/orderhub/pkg/protocol/events"
	"github.com/cloudmeeting/orderhub/pkg/wsconn"
)

// ErrClosed is returned by requests on a client whose connection is gone.
var ErrClosed = errors.New("client: connection closed")

// ServerError is an error event returned by the hub for a request.
type ServerError struct {
	Kind    string
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Kind, e.Code, e.Message)
}

// Options controls how Dial connects.
type Options struct {
	TLS bool
	// InsecureSkipVerify accepts self-signed hub certificates.
	InsecureSkipVerify bool
	// EventBuffer is the capacity of the Events channel (default 256).
	EventBuffer int
}

type call struct {
	match func(p protocol.Packet, env events.Envelope) bool
	reply chan protocol.Packet
}

// Client is a connection to the hub.
type Client struct {
	conn net.Conn

	writeMu sync.Mutex
	reqMu   sync.Mutex

	mu        sync.Mutex
	pending   *call
	username  string
	sessionID uint32
	token     string

	events chan protocol.Packet
	done   chan struct{}
}

// Dial connects to the hub's TCP listener.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	var (
		conn net.Conn
		err  error
	)
	if opts.TLS {
		dialer := &tls.Dialer{Config: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed hubs
			MinVersion:         tls.VersionTLS13,
		}}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("client: connect: %w", err)
	}
	return New(conn, opts), nil
}

// DialWebSocket connects to the hub's /ws endpoint, e.g. "ws://host:9002/ws".
func DialWebSocket(ctx context.Context, url string, opts Options) (*Client, error) {
	dialer := *websocket.DefaultDialer
	if opts.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed hubs
	}
	ws, resp, err := dialer.DialContext(ctx, url, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("client: connect websocket: %w", err)
	}
	return New(wsconn.New(ws), opts), nil
}

// New runs a client over an established connection and starts receiving.
func New(conn net.Conn, opts Options) *Client {
	size := opts.EventBuffer
	if size <= 0 {
		size = 256
	}
	c := &Client{
		conn:   conn,
		events: make(chan protocol.Packet, size),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Events delivers packets that are not replies to a request. It is closed
// when the connection ends. Packets are dropped if it is not drained.
func (c *Client) Events() <-chan protocol.Packet { return c.events }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// SessionID returns the connection id assigned at login, used for the media relay.
func (c *Client) SessionID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Token returns the session token from the last login.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes a packet without waiting for a reply. Use it for room
// traffic: CHAT, ANNOTATION, CONTROL and MEDIA_FRAME.
func (c *Client) Send(t protocol.Type, body any, bin []byte) error {
	p, err := protocol.NewPacket(t, body, bin)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WritePacket(c.conn, p)
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		p, err := protocol.ReadPacket(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("client read error", "err", err)
			}
			return
		}
		var env events.Envelope
		if p.Type == protocol.TypeServerEvent {
			_ = p.Unmarshal(&env)
		}

		c.mu.Lock()
		pending := c.pending
		if pending != nil && pending.match(p, env) {
			c.pending = nil
		} else {
			pending = nil
		}
		c.mu.Unlock()

		if pending != nil {
			pending.reply <- p
			continue
		}
		select {
		case c.events <- p:
		default:
			slog.Warn("client event dropped", "type", p.Type)
		}
	}
}

// roundTrip sends one request and waits for the packet match accepts.
// Error events of kind errKind, and authentication errors, end the wait
// with a *ServerError.
func (c *Client) roundTrip(ctx context.Context, t protocol.Type, body any, errKind string,
	match func(protocol.Packet, events.Envelope) bool) (protocol.Packet, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	cl := &call{
		reply: make(chan protocol.Packet, 1),
		match: func(p protocol.Packet, env events.Envelope) bool {
			if env.Event == events.EventError && (env.Kind == errKind || env.Kind == events.KindAuth || env.Kind == events.KindError) {
				return true
			}
			return match(p, env)
		},
	}
	c.mu.Lock()
	c.pending = cl
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.pending == cl {
			c.pending = nil
		}
		c.mu.Unlock()
	}()

	if err := c.Send(t, body, nil); err != nil {
		return protocol.Packet{}, fmt.Errorf("client: send %s: %w", t, err)
	}

	select {
	case p := <-cl.reply:
		if p.Type == protocol.TypeServerEvent {
			var ev events.ErrorEvent
			if err := p.Unmarshal(&ev); err == nil && ev.Event == events.EventError {
				return p, &ServerError{Kind: ev.Kind, Code: ev.Code, Message: ev.Message}
			}
		}
		return p, nil
	case <-c.done:
		return protocol.Packet{}, ErrClosed
	case <-ctx.Done():
		return protocol.Packet{}, ctx.Err()
	}
}

func isEvent(kind, event string) func(protocol.Packet, events.Envelope) bool {
	return func(_ protocol.Packet, env events.Envelope) bool {
		return env.Kind == kind && env.Event == event
	}
}

// Register creates an account. role is "requester" or "specialist".
func (c *Client) Register(ctx context.Context, username, password, role string) error {
	_, err := c.roundTrip(ctx, protocol.TypeAuth, events.AuthRequest{
		Op: events.OpRegister, Username: username, Password: password, Role: role,
	}, events.KindAuth, isEvent(events.KindAuth, events.EventOK))
	return err
}

// Login authenticates the connection and returns the caller's profile.
func (c *Client) Login(ctx context.Context, username, password string) (model.Profile, error) {
	p, err := c.roundTrip(ctx, protocol.TypeAuth, events.AuthRequest{
		Op: events.OpLogin, Username: username, Password: password,
	}, events.KindAuth, isEvent(events.KindAuth, events.EventOK))
	if err != nil {
		return model.Profile{}, err
	}
	var ev events.AuthEvent
	if err := p.Unmarshal(&ev); err != nil {
		return model.Profile{}, err
	}
	if ev.User == nil {
		return model.Profile{}, fmt.Errorf("client: login reply without profile")
	}

	c.mu.Lock()
	c.username, c.sessionID, c.token = ev.User.Username, ev.SessionID, ev.Token
	c.mu.Unlock()
	slog.Debug("logged in", "user", ev.User.Username, "session", ev.SessionID)
	return *ev.User, nil
}

func (c *Client) order(ctx context.Context, req events.OrderRequest) (protocol.Packet, error) {
	return c.roundTrip(ctx, protocol.TypeOrder, req, events.KindOrder,
		func(p protocol.Packet, _ events.Envelope) bool { return p.Type == protocol.TypeOrder })
}

func (c *Client) orderReply(ctx context.Context, req events.OrderRequest) (model.WorkOrder, error) {
	p, err := c.order(ctx, req)
	if err != nil {
		return model.WorkOrder{}, err
	}
	var reply events.OrderReply
	if err := p.Unmarshal(&reply); err != nil {
		return model.WorkOrder{}, err
	}
	return reply.Order, nil
}

// CreateOrder opens a work order. Requesters only.
func (c *Client) CreateOrder(ctx context.Context, title, description string) (model.WorkOrder, error) {
	return c.orderReply(ctx, events.OrderRequest{Op: events.OpCreate, Title: title, Description: description})
}

// ListOrders returns the orders visible to the logged-in user.
func (c *Client) ListOrders(ctx context.Context) ([]model.WorkOrder, error) {
	p, err := c.order(ctx, events.OrderRequest{Op: events.OpList})
	if err != nil {
		return nil, err
	}
	var reply events.OrderListReply
	if err := p.Unmarshal(&reply); err != nil {
		return nil, err
	}
	return reply.Orders, nil
}

// AcceptOrder assigns an open order to the logged-in specialist.
func (c *Client) AcceptOrder(ctx context.Context, id string) (model.WorkOrder, error) {
	return c.orderReply(ctx, events.OrderRequest{Op: events.OpAccept, ID: id})
}

// SetStatus requests a status change on an order.
func (c *Client) SetStatus(ctx context.Context, id string, status model.Status) (model.WorkOrder, error) {
	return c.orderReply(ctx, events.OrderRequest{Op: events.OpStatus, ID: id, Status: string(status)})
}

// Join enters a room. Use an order id for the order's room.
func (c *Client) Join(ctx context.Context, roomID string) error {
	_, err := c.roundTrip(ctx, protocol.TypeJoinRoom, events.RoomRequest{RoomID: roomID},
		events.KindRoom, isEvent(events.KindRoom, events.EventOK))
	return err
}

// Leave exits the current room.
func (c *Client) Leave(ctx context.Context) error {
	c.mu.Lock()
	me := c.username
	c.mu.Unlock()
	_, err := c.roundTrip(ctx, protocol.TypeLeaveRoom, nil, events.KindRoom,
		func(p protocol.Packet, env events.Envelope) bool {
			if env.Kind != events.KindRoom || env.Event != events.EventLeave {
				return false
			}
			var ev events.RoomEvent
			return p.Unmarshal(&ev) == nil && ev.User == me
		})
	return err
}

// Ping measures the round trip to the hub. It works before login.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	_, err := c.roundTrip(ctx, protocol.TypePing, map[string]int64{"client_ts": start.UnixMilli()}, events.KindError,
		func(p protocol.Packet, _ events.Envelope) bool { return p.Type == protocol.TypePong })
	if err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
