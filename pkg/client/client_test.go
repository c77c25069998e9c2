package client

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudmeeting/orderhub/pkg/model"
	"github.com/cloudmeeting/orderhub/pkg/protocol"
	"github.com/cloudmeeting/orderhub/pkg/protocol/events"
	"github.com/cloudmeeting/orderhub/pkg/server"
	"github.com/cloudmeeting/orderhub/pkg/store"
)

func newHub(t *testing.T) *server.Server {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.AuthRate = 0
	srv := server.New(cfg, server.Dependencies{Store: store.NewMemory()})
	require.NoError(t, srv.Load())
	t.Cleanup(srv.Shutdown)
	return srv
}

func connect(t *testing.T, srv *server.Server) *Client {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	go srv.ServeConn(serverSide)
	c := New(clientSide, Options{})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// waitEvent returns the next pushed SERVER_EVENT with kind and event.
func waitEvent(t *testing.T, c *Client, kind, event string) protocol.Packet {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case p, ok := <-c.Events():
			require.True(t, ok, "connection closed")
			var env events.Envelope
			if p.Type == protocol.TypeServerEvent && p.Unmarshal(&env) == nil && env.Kind == kind && env.Event == event {
				return p
			}
		case <-timeout:
			t.Fatalf("no %s/%s event", kind, event)
		}
	}
}

func TestClientWorkflow(t *testing.T) {
	srv := newHub(t)
	ctx := testContext(t)
	alice, bob := connect(t, srv), connect(t, srv)

	rtt, err := alice.Ping(ctx)
	require.NoError(t, err)
	assert.Positive(t, rtt)

	require.NoError(t, alice.Register(ctx, "alice", "s3cret", "requester"))
	require.NoError(t, bob.Register(ctx, "bob", "hunter2", "specialist"))

	profile, err := alice.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "requester", profile.Role)
	assert.Len(t, alice.Token(), 64)
	assert.NotZero(t, alice.SessionID())
	_, err = bob.Login(ctx, "bob", "hunter2")
	require.NoError(t, err)

	o, err := alice.CreateOrder(ctx, "Replace bearing", "spindle 2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, o.Status)

	var created events.OrderEvent
	require.NoError(t, waitEvent(t, bob, events.KindOrder, events.EventCreated).Unmarshal(&created))
	assert.Equal(t, o.ID, created.Order.ID)

	orders, err := bob.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	o, err = bob.AcceptOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", o.AssignedTo)

	require.NoError(t, alice.Join(ctx, o.ID))
	require.NoError(t, bob.Join(ctx, o.ID))
	var updated events.OrderEvent
	require.NoError(t, waitEvent(t, alice, events.KindOrder, events.EventUpdated).Unmarshal(&updated))
	assert.Equal(t, model.StatusInProgress, updated.Order.Status)

	require.NoError(t, bob.Send(protocol.TypeChat, map[string]string{"text": "on my way"}, nil))
	for p := range alice.Events() {
		if p.Type != protocol.TypeChat {
			continue
		}
		var chat map[string]any
		require.NoError(t, p.Unmarshal(&chat))
		assert.Equal(t, "bob", chat["sender"])
		break
	}

	require.NoError(t, bob.Leave(ctx))
	o, err = alice.SetStatus(ctx, o.ID, model.StatusClosed)
	require.NoError(t, err)
	assert.Equal(t, model.StatusClosed, o.Status)
}

func TestClientServerErrors(t *testing.T) {
	srv := newHub(t)
	ctx := testContext(t)
	c := connect(t, srv)

	_, err := c.ListOrders(ctx)
	var serr *ServerError
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Equal(t, 401, serr.Code)

	require.NoError(t, c.Register(ctx, "carol", "pw", "specialist"))
	err = c.Register(ctx, "carol", "pw", "specialist")
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Equal(t, 409, serr.Code)

	_, err = c.Login(ctx, "carol", "wrong")
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Equal(t, 401, serr.Code)

	_, err = c.Login(ctx, "carol", "pw")
	require.NoError(t, err)
	_, err = c.CreateOrder(ctx, "not allowed", "")
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Equal(t, 403, serr.Code)

	err = c.Leave(ctx)
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Equal(t, 409, serr.Code)
}

func TestClientClosed(t *testing.T) {
	srv := newHub(t)
	c := connect(t, srv)
	require.NoError(t, c.Close())

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed")
	}
	_, err := c.Ping(testContext(t))
	require.Error(t, err)
}

func TestDialTLS(t *testing.T) {
	dir := t.TempDir()
	cfg := server.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.RelayAddr = ""
	cfg.HTTPAddr = ""
	cfg.AuthRate = 0
	cfg.TLS = true
	cfg.DataDir = dir
	srv := server.New(cfg, server.Dependencies{Store: store.NewMemory()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return srv.Addr() != nil }, 5*time.Second, 10*time.Millisecond)

	for _, name := range []string{"server.crt", "server.key"} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}

	c, err := Dial(testContext(t), srv.Addr().String(), Options{TLS: true, InsecureSkipVerify: true})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Register(testContext(t), "alice", "s3cret", "requester"))
	profile, err := c.Login(testContext(t), "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.Username)
	assert.NotEmpty(t, c.Token())

	// Verification is on unless asked otherwise; the certificate is self-signed.
	_, err = Dial(testContext(t), srv.Addr().String(), Options{TLS: true})
	require.Error(t, err)
}

func TestMediaClientFraming(t *testing.T) {
	relay, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer relay.Close()

	m, err := NewMediaClient(relay.LocalAddr().String(), 42)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.SendMedia([]byte("frame-1"), 960))
	require.NoError(t, m.SendMedia([]byte("frame-2"), 1920))
	require.Error(t, m.SendMedia(make([]byte, protocol.MaxMediaPayload+1), 0))

	buf := make([]byte, 2048)
	require.NoError(t, relay.SetReadDeadline(time.Now().Add(5*time.Second)))
	for i, want := range []string{"frame-1", "frame-2"} {
		n, from, err := relay.ReadFromUDP(buf)
		require.NoError(t, err)
		pkt, err := protocol.UnmarshalMediaPacket(buf[:n])
		require.NoError(t, err)
		assert.Equal(t, uint32(42), pkt.SessionID)
		assert.Equal(t, uint32(i+1), pkt.SeqNum)
		assert.Equal(t, want, string(pkt.Payload))

		// Echo back to exercise the receive path.
		_, err = relay.WriteToUDP(buf[:n], from)
		require.NoError(t, err)
	}

	m.StartReceiving()
	for _, want := range []string{"frame-1", "frame-2"} {
		select {
		case pkt := <-m.IncomingPackets:
			assert.Equal(t, want, string(pkt.Payload))
		case <-time.After(5 * time.Second):
			t.Fatal("no media packet received")
		}
	}
}

func TestProfileStore(t *testing.T) {
	path := t.TempDir() + "/nested/profiles.yaml"
	ps := NewProfileStore(path)
	require.NoError(t, ps.Load())
	require.Empty(t, ps.Profiles)

	assert.True(t, ps.Put(Profile{Name: "plant", Addr: "hub:9000", Username: "alice"}))
	assert.False(t, ps.Put(Profile{Name: "plant", Addr: "hub:9443", TLS: true, Username: "alice"}))
	assert.True(t, ps.Touch("plant", time.Unix(1700000000, 0)))
	assert.False(t, ps.Touch("missing", time.Now()))
	require.NoError(t, ps.Save())

	reloaded := NewProfileStore(path)
	require.NoError(t, reloaded.Load())
	p, ok := reloaded.Get("plant")
	require.True(t, ok)
	assert.Equal(t, Profile{Name: "plant", Addr: "hub:9443", TLS: true, Username: "alice", LastUsed: 1700000000}, p)
}
