// Package server implements the order hub: authenticated connections,
// work-order rooms and the media relay.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudmeeting/orderhub/pkg/store"
)

// Config holds server configuration.
type Config struct {
	ListenAddr string // TCP bind address for the frame protocol (e.g. ":9000")
	RelayAddr  string // UDP bind address for the media relay (empty = disabled)
	HTTPAddr   string // HTTP bind address for /metrics, /healthz and /ws (empty = disabled)

	TLS      bool   // serve the TCP listener over TLS
	CertFile string // TLS certificate file path
	KeyFile  string // TLS private key file path
	DataDir  string // directory for generated certs and data

	HeartbeatInterval time.Duration // how often idle connections are swept
	IdleTimeout       time.Duration // inactivity after which a connection is dropped
	MetricsInterval   time.Duration // periodic metrics log (0 = disabled)

	BacklogThreshold int64 // outbound bytes above which media frames are skipped
	BacklogLimit     int64 // outbound bytes above which the connection is closed

	AuthRate  float64 // AUTH packets per second per connection
	AuthBurst int
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":9000",
		RelayAddr:         ":9001",
		HTTPAddr:          ":9002",
		DataDir:           "data",
		HeartbeatInterval: 30 * time.Second,
		IdleTimeout:       300 * time.Second,
		MetricsInterval:   60 * time.Second,
		BacklogThreshold:  3 << 20,
		BacklogLimit:      64 << 20,
		AuthRate:          1,
		AuthBurst:         5,
	}
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store store.DataStore

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
	// NewID overrides work-order id generation, for tests.
	NewID func() string
}

// Server is the order hub. It owns the session table, the connection
// registry and the room index; the credential and work-order tables are
// shared with the store only through their own save paths.
type Server struct {
	cfg      Config
	store    store.DataStore
	now      func() time.Time
	users    *CredentialTable
	orders   *OrderBook
	sessions *SessionTable
	conns    *ConnRegistry
	rooms    *RoomIndex
	relay    *Relay
	metrics  *Metrics

	mu       sync.Mutex
	listener net.Listener
	udpConn  *net.UDPConn

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Server instance. Call Load before serving connections.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	now := deps.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	metrics := NewMetrics()
	s := &Server{
		cfg:      cfg,
		store:    deps.Store,
		now:      now,
		users:    NewCredentialTable(deps.Store, now, metrics),
		orders:   NewOrderBook(deps.Store, now, newID, metrics),
		sessions: NewSessionTable(),
		conns:    NewConnRegistry(),
		rooms:    NewRoomIndex(),
		relay:    NewRelay(),
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
	}
	return s
}

// Load reads the credential and work-order documents into memory.
func (s *Server) Load() error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	if err := s.users.Load(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := s.orders.Load(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("loaded documents", "users", s.users.Count(), "orders", s.orders.Count())
	return nil
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Orders returns the work-order table.
func (s *Server) Orders() *OrderBook {
	return s.orders
}

// Users returns the credential table.
func (s *Server) Users() *CredentialTable {
	return s.users
}

// Rooms returns the room index.
func (s *Server) Rooms() *RoomIndex {
	return s.rooms
}

// Conns returns the connection registry.
func (s *Server) Conns() *ConnRegistry {
	return s.conns
}

// Sessions returns the session table.
func (s *Server) Sessions() *SessionTable {
	return s.sessions
}

// Addr returns the bound TCP address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
