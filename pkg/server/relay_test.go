package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudmeeting/orderhub/pkg/protocol"
)

func TestRelayBind(t *testing.T) {
	r := NewRelay()
	a := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5000}
	b := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 5000}

	require.True(t, r.Bind(1, a))
	require.True(t, r.Bind(1, &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5000}))
	require.False(t, r.Bind(1, b), "a second source must not take over the session")

	got, ok := r.Addr(1)
	require.True(t, ok)
	require.Equal(t, a, got)

	r.Forget(1)
	require.True(t, r.Bind(1, b))
}

func udpClient(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRelayForwardsWithinRoom(t *testing.T) {
	h := newTestHub(t, func(cfg *Config) { cfg.RelayAddr = "127.0.0.1:0" })
	require.NoError(t, h.srv.ListenRelay())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.srv.relayLoop(ctx) }()
	relayAddr := h.srv.udpConn.LocalAddr().(*net.UDPAddr)

	alice := h.user(t, "alice", "requester")
	bob := h.user(t, "bob", "specialist")
	alice.join("lobby")
	bob.join("lobby")

	aliceUDP, bobUDP := udpClient(t), udpClient(t)

	// bob binds his address first; nobody else is bound yet so nothing is forwarded.
	hello := (&protocol.MediaPacket{SessionID: bob.id, SeqNum: 1}).Marshal()
	_, err := bobUDP.WriteToUDP(hello, relayAddr)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := h.srv.relay.Addr(bob.id)
		return ok
	}, replyTimeout, 5*time.Millisecond)

	pkt := &protocol.MediaPacket{SessionID: alice.id, SeqNum: 7, Timestamp: 960, Payload: []byte("opaque")}
	_, err = aliceUDP.WriteToUDP(pkt.Marshal(), relayAddr)
	require.NoError(t, err)

	buf := make([]byte, protocol.MediaHeaderSize+protocol.MaxMediaPayload)
	require.NoError(t, bobUDP.SetReadDeadline(time.Now().Add(replyTimeout)))
	n, _, err := bobUDP.ReadFromUDP(buf)
	require.NoError(t, err)
	got, err := protocol.UnmarshalMediaPacket(buf[:n])
	require.NoError(t, err)
	require.Equal(t, pkt, got)

	// A spoofed session id from another address is dropped.
	dropped := h.srv.Metrics().RelayPacketsDropped.Load()
	_, err = bobUDP.WriteToUDP(pkt.Marshal(), relayAddr)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return h.srv.Metrics().RelayPacketsDropped.Load() == dropped+1
	}, replyTimeout, 5*time.Millisecond)
	require.EqualValues(t, 1, h.srv.Metrics().RelayPacketsOut.Load())
}

func TestRelayRejectsUnknownSession(t *testing.T) {
	h := newTestHub(t, nil)
	from := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}

	h.srv.relayDatagram(nil, []byte{1, 2, 3}, from)
	h.srv.relayDatagram(nil, (&protocol.MediaPacket{SessionID: 99}).Marshal(), from)

	require.EqualValues(t, 2, h.srv.Metrics().RelayPacketsDropped.Load())
	require.EqualValues(t, 1, h.srv.Metrics().RelayPacketsIn.Load())
}
