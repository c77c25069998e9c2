package server

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/cloudmeeting/orderhub/pkg/protocol"
	"github.com/cloudmeeting/orderhub/pkg/protocol/events"
)

func roomEvent(t *testing.T, p protocol.Packet) events.RoomEvent {
	t.Helper()
	var ev events.RoomEvent
	require.NoError(t, p.Unmarshal(&ev))
	return ev
}

func TestRoomIndex(t *testing.T) {
	ri := NewRoomIndex()

	require.Equal(t, "", ri.Join(1, "lobby"))
	require.Equal(t, "", ri.Join(2, "lobby"))
	require.Equal(t, "", ri.Join(1, "lobby"), "rejoin must not report a previous room")
	require.Equal(t, []uint32{1, 2}, ri.Members("lobby"))

	require.Equal(t, "lobby", ri.Join(1, "wo-1"))
	require.Equal(t, []uint32{2}, ri.Members("lobby"))
	require.Equal(t, "wo-1", ri.RoomOf(1))
	require.Equal(t, 2, ri.Count())

	require.Equal(t, "lobby", ri.Leave(2))
	require.Equal(t, "", ri.Leave(2))
	require.Empty(t, ri.Members("lobby"))
	require.Equal(t, 1, ri.Count(), "empty rooms are removed")
}

func TestJoinAnnouncesMembers(t *testing.T) {
	h := newTestHub(t, nil)
	alice := h.user(t, "alice", "requester")
	bob := h.user(t, "bob", "specialist")

	alice.join("lobby")
	snap := roomEvent(t, alice.waitFor(events.KindRoom, events.EventSnapshot))
	require.Equal(t, []string{"alice"}, snap.Members)
	// The joiner sees its own join announcement.
	require.Equal(t, "alice", roomEvent(t, alice.waitFor(events.KindRoom, events.EventJoin)).User)

	bob.join("lobby")
	join := roomEvent(t, alice.waitFor(events.KindRoom, events.EventJoin))
	require.Equal(t, "bob", join.User)
	require.ElementsMatch(t, []string{"alice", "bob"}, join.Members)

	bob.send(protocol.TypeLeaveRoom, nil, nil)
	require.Equal(t, "lobby", roomEvent(t, bob.waitFor(events.KindRoom, events.EventLeave)).RoomID)
	leave := roomEvent(t, alice.waitFor(events.KindRoom, events.EventLeave))
	require.Equal(t, "bob", leave.User)
	require.Equal(t, []string{"alice"}, leave.Members)

	bob.send(protocol.TypeLeaveRoom, nil, nil)
	require.Equal(t, CodeConflict, bob.waitError(events.KindRoom).Code)

	bob.send(protocol.TypeJoinRoom, events.RoomRequest{}, nil)
	require.Equal(t, CodeBadRequest, bob.waitError(events.KindRoom).Code)
}

func TestRejoinSameRoom(t *testing.T) {
	h := newTestHub(t, nil)
	alice := h.user(t, "alice", "requester")

	alice.join("lobby")
	alice.join("lobby")
	snap := roomEvent(t, alice.waitFor(events.KindRoom, events.EventSnapshot))
	require.Equal(t, []string{"alice"}, snap.Members)
	require.Len(t, h.srv.Rooms().Members("lobby"), 1)
}

func TestSwitchRoomsLeavesPrevious(t *testing.T) {
	h := newTestHub(t, nil)
	alice := h.user(t, "alice", "requester")
	bob := h.user(t, "bob", "specialist")
	alice.join("lobby")
	bob.join("lobby")

	bob.join("workshop")
	leave := roomEvent(t, alice.waitFor(events.KindRoom, events.EventLeave))
	require.Equal(t, "bob", leave.User)
	require.Equal(t, "workshop", h.srv.Rooms().RoomOf(bob.id))
	require.Equal(t, []uint32{alice.id}, h.srv.Rooms().Members("lobby"))
}

func TestDisconnectLeavesRoom(t *testing.T) {
	h := newTestHub(t, nil)
	alice := h.user(t, "alice", "requester")
	bob := h.user(t, "bob", "specialist")
	alice.join("lobby")
	bob.join("lobby")

	require.NoError(t, bob.nc.Close())
	leave := roomEvent(t, alice.waitFor(events.KindRoom, events.EventLeave))
	require.Equal(t, "bob", leave.User)
	require.Eventually(t, func() bool {
		return h.srv.Sessions().Count() == 1 && h.srv.Conns().Count() == 1
	}, replyTimeout, 10*time.Millisecond)
}

// A join or login already past the auth check when another goroutine
// disconnects the connection must not leave entries behind.
func TestHandlersAfterDisconnect(t *testing.T) {
	h := newTestHub(t, nil)
	alice := h.user(t, "alice", "requester")

	c, ok := h.srv.Conns().Get(alice.id)
	require.True(t, ok)
	sess, ok := h.srv.authenticated(c)
	require.True(t, ok)

	h.srv.disconnect(c, "idle timeout")
	require.Zero(t, h.srv.Conns().Count())

	join, err := protocol.NewPacket(protocol.TypeJoinRoom, events.RoomRequest{RoomID: "lobby"}, nil)
	require.NoError(t, err)
	h.srv.handleJoinRoom(c, sess, join)
	require.Zero(t, h.srv.Rooms().Count())
	require.Equal(t, "", h.srv.Rooms().RoomOf(c.ID()))
	require.Empty(t, h.srv.Rooms().Members("lobby"))

	h.srv.handleLogin(c, events.AuthRequest{Op: events.OpLogin, Username: "alice", Password: password("alice")})
	require.Zero(t, h.srv.Sessions().Count())
	_, ok = h.srv.authenticated(c)
	require.False(t, ok)
}

func TestForwardTagsSender(t *testing.T) {
	h := newTestHub(t, nil)
	alice := h.user(t, "alice", "requester")
	bob := h.user(t, "bob", "specialist")
	alice.join("lobby")
	bob.join("lobby")

	alice.send(protocol.TypeChat, map[string]string{"text": "hello", "sender": "mallory"}, nil)
	var chat struct {
		Text   string `json:"text"`
		Sender string `json:"sender"`
		RoomID string `json:"roomId"`
		TS     int64  `json:"ts"`
	}
	require.NoError(t, bob.waitType(protocol.TypeChat).Unmarshal(&chat))
	want := struct {
		Text   string `json:"text"`
		Sender string `json:"sender"`
		RoomID string `json:"roomId"`
		TS     int64  `json:"ts"`
	}{"hello", "alice", "lobby", h.clock.Now().UnixMilli()}
	if diff := cmp.Diff(want, chat); diff != "" {
		t.Errorf("forwarded chat mismatch (-want +got):\n%s", diff)
	}

	payload := bytes.Repeat([]byte{0xAB}, 512)
	bob.send(protocol.TypeMediaFrame, map[string]any{"codec": "h264"}, payload)
	media := alice.waitType(protocol.TypeMediaFrame)
	require.Equal(t, payload, media.Binary)
	require.True(t, strings.Contains(string(media.JSON), `"sender":"bob"`), string(media.JSON))
}

func TestForwardWithoutRoomDropped(t *testing.T) {
	h := newTestHub(t, nil)
	alice := h.user(t, "alice", "requester")

	alice.send(protocol.TypeAnnotation, map[string]int{"x": 1}, nil)
	alice.send(protocol.TypePing, nil, nil)
	alice.waitType(protocol.TypePong)
	require.EqualValues(t, 1, h.srv.Metrics().PacketsDropped.Load())
}

func TestMediaBackpressure(t *testing.T) {
	const (
		threshold = 6000
		frames    = 10
	)
	h := newTestHub(t, func(cfg *Config) { cfg.BacklogThreshold = threshold })

	// slow logs in and joins, then stops reading. Its writer blocks on the
	// first unread frame, so its backlog only grows from here on.
	slow := h.dialSync(t)
	slow.register("slow", "specialist")
	slow.login("slow")
	slow.send(protocol.TypeJoinRoom, events.RoomRequest{RoomID: "lobby"}, nil)
	slow.waitFor(events.KindRoom, events.EventJoin)

	fast := h.user(t, "fast", "specialist")
	fast.join("lobby")
	sender := h.user(t, "sender", "requester")
	sender.join("lobby")

	fastConn, ok := h.srv.Conns().Get(fast.id)
	require.True(t, ok)
	slowConn, ok := h.srv.Conns().Get(slow.id)
	require.True(t, ok)

	payload := bytes.Repeat([]byte{0x42}, 4000)
	for i := range frames {
		sender.send(protocol.TypeMediaFrame, map[string]int{"seq": i}, payload)
		var meta struct {
			Seq int `json:"seq"`
		}
		require.NoError(t, fast.waitType(protocol.TypeMediaFrame).Unmarshal(&meta))
		require.Equal(t, i, meta.Seq)
		require.Eventually(t, func() bool { return fastConn.Backlog() == 0 }, replyTimeout, time.Millisecond)
	}

	// Two frames fit under the threshold; every later frame is skipped.
	for range frames - 2 {
		var ev events.CongestionEvent
		require.NoError(t, sender.waitFor(events.KindNet, events.EventCongested).Unmarshal(&ev))
		require.Greater(t, ev.BacklogBytes, int64(threshold))
	}
	require.EqualValues(t, frames-2, h.srv.Metrics().MediaFramesDropped.Load())
	require.EqualValues(t, frames-2, h.srv.Metrics().CongestionAdvisories.Load())
	require.Greater(t, slowConn.Backlog(), int64(threshold))

	// Non-media traffic is still queued for the slow member.
	before := slowConn.Backlog()
	sender.send(protocol.TypeChat, map[string]string{"text": "still there?"}, nil)
	fast.waitType(protocol.TypeChat)
	require.Eventually(t, func() bool { return slowConn.Backlog() > before }, replyTimeout, time.Millisecond)
}

func TestSlowConsumerClosed(t *testing.T) {
	h := newTestHub(t, func(cfg *Config) { cfg.BacklogLimit = 4096 })

	slow := h.dialSync(t)
	slow.register("slow", "specialist")
	slow.login("slow")
	slow.send(protocol.TypeJoinRoom, events.RoomRequest{RoomID: "lobby"}, nil)
	slow.waitFor(events.KindRoom, events.EventJoin)

	sender := h.user(t, "sender", "requester")
	sender.join("lobby")

	text := strings.Repeat("x", 1000)
	for range 8 {
		sender.send(protocol.TypeChat, map[string]string{"text": text}, nil)
	}

	leave := roomEvent(t, sender.waitFor(events.KindRoom, events.EventLeave))
	require.Equal(t, "slow", leave.User)
	require.EqualValues(t, 1, h.srv.Metrics().SlowConsumerCloses.Load())
	require.Eventually(t, func() bool { return h.srv.Conns().Count() == 1 }, replyTimeout, 10*time.Millisecond)
}

func TestHeartbeatSweep(t *testing.T) {
	h := newTestHub(t, func(cfg *Config) {
		cfg.IdleTimeout = 300 * time.Second
		cfg.HeartbeatInterval = 30 * time.Second
	})
	start := h.clock.Now()

	idle := h.dial(t)
	active := h.dial(t)
	require.Eventually(t, func() bool { return h.srv.Conns().Count() == 2 }, replyTimeout, 10*time.Millisecond)

	h.clock.Advance(200 * time.Second)
	active.send(protocol.TypePing, nil, nil)
	active.waitType(protocol.TypePong)

	require.Zero(t, h.srv.Sweep(start.Add(299*time.Second)))
	require.Equal(t, 1, h.srv.Sweep(start.Add(300*time.Second)), "a connection idle for exactly the timeout is evicted")
	idle.waitClosed()

	remaining := h.srv.Conns().All()
	require.Len(t, remaining, 1)
	require.Equal(t, start.Add(200*time.Second), remaining[0].LastActivity())
	require.EqualValues(t, 1, h.srv.Metrics().HeartbeatEvictions.Load())

	require.Equal(t, 1, h.srv.Sweep(start.Add(500*time.Second)))
	active.waitClosed()
}
