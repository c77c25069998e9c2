package server

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/cloudmeeting/orderhub/pkg/model"
)

var (
	errConnClosed   = errors.New("server: connection closed")
	errSlowConsumer = errors.New("server: outbound backlog limit exceeded")
)

// Conn is one live client connection. Outbound frames go through an
// unbounded queue drained by a writer goroutine, so a broadcast never
// blocks on a slow peer; Backlog reports the bytes not yet written.
type Conn struct {
	id     uint32
	nc     net.Conn
	remote string
	limit  int64

	mu       sync.Mutex
	username string
	role     model.Role
	token    string
	queue    [][]byte
	closed   bool

	wake         chan struct{}
	done         chan struct{}
	closeOnce    sync.Once
	backlog      atomic.Int64
	lastActivity atomic.Int64 // unix nanos

	authLimiter *rate.Limiter
}

func newConn(nc net.Conn, cfg Config, now time.Time) *Conn {
	burst := cfg.AuthBurst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.AuthRate > 0 {
		limit = rate.Limit(cfg.AuthRate)
	}
	c := &Conn{
		nc:          nc,
		remote:      nc.RemoteAddr().String(),
		limit:       cfg.BacklogLimit,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		authLimiter: rate.NewLimiter(limit, burst),
	}
	c.Touch(now)
	return c
}

// ID returns the connection id, also used as the media relay session id.
func (c *Conn) ID() uint32 { return c.id }

// RemoteAddr returns the peer address as a string.
func (c *Conn) RemoteAddr() string { return c.remote }

// Identity returns the authenticated username, role and token.
// All are empty before login.
func (c *Conn) Identity() (username string, role model.Role, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username, c.role, c.token
}

// Username returns the authenticated username, or "".
func (c *Conn) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *Conn) setIdentity(username string, role model.Role, token string) {
	c.mu.Lock()
	c.username, c.role, c.token = username, role, token
	c.mu.Unlock()
}

// Touch records inbound activity at now.
func (c *Conn) Touch(now time.Time) {
	c.lastActivity.Store(now.UnixNano())
}

// LastActivity returns the time of the last decoded inbound packet.
func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load()).UTC()
}

// Backlog returns the number of queued bytes not yet written to the peer.
func (c *Conn) Backlog() int64 {
	return c.backlog.Load()
}

// Send queues an encoded frame. It fails once the connection is closed, and
// with errSlowConsumer when the backlog would pass the hard limit. That
// happens at most once per connection: overflow marks it closed.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errConnClosed
	}
	size := int64(len(frame))
	if c.limit > 0 && c.backlog.Load()+size > c.limit {
		// Stop queueing at once; the caller tears the connection down.
		c.closed = true
		c.queue = nil
		c.mu.Unlock()
		return errSlowConsumer
	}
	c.queue = append(c.queue, frame)
	c.backlog.Add(size)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// writeLoop drains the queue in order until the connection closes.
func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for {
			c.mu.Lock()
			if c.closed || len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			frame := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.mu.Unlock()

			_, err := c.nc.Write(frame)
			c.backlog.Add(-int64(len(frame)))
			if err != nil {
				slog.Debug("write failed", "conn", c.id, "err", err)
				c.Close()
				return
			}
		}
	}
}

// Close closes the transport and drops anything still queued. Safe to call
// more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.queue = nil
		c.mu.Unlock()
		close(c.done)
		_ = c.nc.Close()
	})
}

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }
