package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type member struct {
	user      domain.UserID
	transport *fakeTransport
	engine    *fakeEngine
	surface   *fakeSurface
	meetings  *fakeMeetings
	room      *RoomCall
	closed    chan struct{}
}

func roomConfig() RoomConfig {
	cfg := DefaultRoomConfig()
	cfg.AnswerTimeout = 0
	return cfg
}

func join(t *testing.T, user domain.UserID, transport *fakeTransport, cfg RoomConfig) *member {
	t.Helper()
	m := &member{
		user:      user,
		transport: transport,
		engine:    &fakeEngine{},
		surface:   newFakeSurface(),
		meetings:  &fakeMeetings{},
		closed:    make(chan struct{}),
	}
	rc, err := OpenRoom(context.Background(), RoomDeps{
		Transport: transport,
		Media:     m.engine,
		Meetings:  m.meetings,
		Surface:   m.surface,
	}, cfg, user, "m1", "r1", func() { close(m.closed) })
	require.NoError(t, err)
	m.room = rc
	t.Cleanup(func() { _ = rc.Leave(context.Background()) })
	return m
}

func peerIDs(rc *RoomCall) []domain.PeerID {
	var ids []domain.PeerID
	for _, p := range rc.Peers() {
		ids = append(ids, p.ID)
	}
	return ids
}

func waitPeers(t *testing.T, m *member, want ...domain.PeerID) {
	t.Helper()
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, peerIDs(m.room))
	}, waitFor, tick, "%s peers: want %v, have %v", m.user, want, peerIDs(m.room))
}

func memberReleased(t *testing.T, m *member) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.engine.liveTracks() == 0 && m.engine.openConns() == 0
	}, waitFor, tick, "%s still holds media", m.user)
	assert.True(t, m.room.LocalStream().Released())
}

func TestRoom_TwoPartiesConnect(t *testing.T) {
	net := newFakeNet()
	ta, tb := net.attach("a"), net.attach("b")
	a := join(t, "a", ta, roomConfig())
	waitGot(t, ta, domain.EventRoomUsers)
	b := join(t, "b", tb, roomConfig())

	waitPeers(t, a, tb.sock.id)
	waitPeers(t, b, ta.sock.id)
	assert.Equal(t, []domain.PeerID{ta.sock.id}, b.room.Roster())

	conn := b.engine.allConns()[0]
	require.Eventually(t, func() bool { return conn.SignalingState() == domain.SignalingStable }, waitFor, tick)
	assert.Equal(t, 1, tb.count(domain.EventOffer), "the joiner offers")
	assert.Zero(t, ta.count(domain.EventOffer))
	assert.Equal(t, 1, ta.count(domain.EventAnswer))

	offer := tb.sentOf(domain.EventOffer)[0].(domain.Offer)
	assert.Equal(t, domain.RoomID("r1"), offer.RoomID)
	assert.Equal(t, ta.sock.id, offer.ToSocketID)
}

func TestRoom_LeaveWhileThirdNegotiates(t *testing.T) {
	net := newFakeNet()
	ta, tb, tc := net.attach("a"), net.attach("b"), net.attach("c")
	a := join(t, "a", ta, roomConfig())
	waitGot(t, ta, domain.EventRoomUsers)
	b := join(t, "b", tb, roomConfig())
	waitPeers(t, a, tb.sock.id)

	c := join(t, "c", tc, roomConfig())
	require.NoError(t, b.room.Leave(context.Background()))

	waitPeers(t, a, tc.sock.id)
	waitPeers(t, c, ta.sock.id)
	memberReleased(t, b)
	assert.Equal(t, 1, tb.count(domain.EventRoomLeave))
	assert.Zero(t, b.meetings.ended.Load(), "leaving keeps the meeting")

	select {
	case <-b.closed:
	case <-time.After(waitFor):
		t.Fatal("close callback not called")
	}
	assert.NotContains(t, a.room.Roster(), tb.sock.id)
	assert.Len(t, a.engine.allConns(), 2)
}

func TestRoom_EndWithBackendErrorStillCloses(t *testing.T) {
	transport := newFakeTransport()
	m := join(t, "a", transport, roomConfig())
	m.meetings.endErr = errors.New("backend down")
	transport.inject(domain.RoomUsers{RoomID: "r1", Users: []domain.PeerID{"s2", "s3"}})
	waitPeers(t, m, "s2", "s3")

	require.NoError(t, m.room.End(context.Background()))
	assert.Equal(t, int32(1), m.meetings.ended.Load())
	select {
	case <-m.closed:
	default:
		t.Fatal("close callback not called")
	}
	assert.Empty(t, m.room.Peers())
	assert.Zero(t, transport.handlerCount())
	memberReleased(t, m)

	require.NoError(t, m.room.End(context.Background()))
	assert.Equal(t, int32(1), m.meetings.ended.Load())
}

func TestRoom_OpenFailsWithoutMedia(t *testing.T) {
	transport := newFakeTransport()
	engine := &fakeEngine{}
	engine.setFail(domain.MediaVideo, errors.New("no camera"))

	_, err := OpenRoom(context.Background(), RoomDeps{Transport: transport, Media: engine}, roomConfig(), "a", "", "r1", nil)
	require.Error(t, err)
	assert.True(t, domain.IsMediaAccess(err))
	assert.Zero(t, transport.handlerCount())
	assert.Zero(t, transport.count(domain.EventRoomJoin))
}

func TestRoom_UnansweredOfferDropsPeer(t *testing.T) {
	cfg := roomConfig()
	cfg.AnswerTimeout = 30 * time.Millisecond
	transport := newFakeTransport()
	m := join(t, "a", transport, cfg)

	transport.inject(domain.RoomUsers{RoomID: "r1", Users: []domain.PeerID{"ghost"}})
	waitPeers(t, m, "ghost")
	waitPeers(t, m)
	assert.True(t, m.engine.allConns()[0].isClosed())
	assert.Equal(t, []domain.PeerID{"ghost"}, m.room.Roster(), "the roster is the relay's, not ours")
}

func TestRoom_EarlyCandidatesAreApplied(t *testing.T) {
	transport := newFakeTransport()
	m := join(t, "a", transport, roomConfig())
	route := domain.Route{RoomID: "r1", FromUserID: "b", FromSocketID: "s9", ToSocketID: "s1"}

	transport.inject(domain.ICECandidateMsg{Route: route, Candidate: domain.ICECandidate{Candidate: "candidate:1 1 udp 1 10.0.0.9 4000 typ host"}})
	transport.inject(domain.Offer{Route: route, SDP: domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0"}})

	waitPeers(t, m, "s9")
	require.Eventually(t, func() bool { return transport.count(domain.EventAnswer) == 1 }, waitFor, tick)
	_, _, candidates := m.engine.allConns()[0].stats()
	assert.Equal(t, 1, candidates)

	answer := transport.sentOf(domain.EventAnswer)[0].(domain.Answer)
	assert.Equal(t, domain.PeerID("s9"), answer.ToSocketID)
	assert.Equal(t, domain.UserID("a"), answer.FromUserID)
}

func TestRoom_IgnoresOtherRooms(t *testing.T) {
	transport := newFakeTransport()
	m := join(t, "a", transport, roomConfig())

	transport.inject(domain.Offer{
		Route: domain.Route{RoomID: "r2", FromUserID: "b", FromSocketID: "s9", ToSocketID: "s1"},
		SDP:   domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0"},
	})
	transport.inject(domain.Offer{
		Route: domain.Route{FromUserID: "b", ToUserID: "a"},
		SDP:   domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0"},
	})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, m.room.Peers())
}

func TestRoom_Glare(t *testing.T) {
	offerFrom := func(user domain.UserID) domain.Offer {
		return domain.Offer{
			Route: domain.Route{RoomID: "r1", FromUserID: user, FromSocketID: "s9", ToSocketID: "s1"},
			SDP:   domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0"},
		}
	}

	t.Run("polite side rolls back", func(t *testing.T) {
		transport := newFakeTransport()
		m := join(t, "m", transport, roomConfig())
		transport.inject(domain.RoomUsers{RoomID: "r1", Users: []domain.PeerID{"s9"}})
		require.Eventually(t, func() bool { return transport.count(domain.EventOffer) == 1 }, waitFor, tick)

		transport.inject(offerFrom("z"))
		require.Eventually(t, func() bool { return transport.count(domain.EventAnswer) == 1 }, waitFor, tick)
		_, rollbacks, _ := m.engine.allConns()[0].stats()
		assert.Equal(t, 1, rollbacks)
	})

	t.Run("impolite side keeps its offer", func(t *testing.T) {
		transport := newFakeTransport()
		m := join(t, "m", transport, roomConfig())
		transport.inject(domain.RoomUsers{RoomID: "r1", Users: []domain.PeerID{"s9"}})
		require.Eventually(t, func() bool { return transport.count(domain.EventOffer) == 1 }, waitFor, tick)

		transport.inject(offerFrom("c"))
		time.Sleep(20 * time.Millisecond)
		assert.Zero(t, transport.count(domain.EventAnswer))
		conn := m.engine.allConns()[0]
		assert.Equal(t, domain.SignalingHaveLocalOffer, conn.SignalingState())
	})
}

func TestRoom_RemoteTracksAndFailure(t *testing.T) {
	transport := newFakeTransport()
	m := join(t, "a", transport, roomConfig())
	transport.inject(domain.RoomUsers{RoomID: "r1", Users: []domain.PeerID{"s2"}})
	waitPeers(t, m, "s2")

	conn := m.engine.allConns()[0]
	audio := conn.emitTrack(domain.MediaAudio, "remote")
	video := conn.emitTrack(domain.MediaVideo, "remote")
	require.Eventually(t, func() bool {
		peers := m.room.Peers()
		return len(peers) == 1 && peers[0].Remote != nil && len(peers[0].Remote.Tracks()) == 2
	}, waitFor, tick)
	assert.True(t, m.surface.has("room:s2"))

	done := make(chan struct{})
	var once sync.Once
	stop := m.room.Observe(func(p []PeerSnapshot) {
		if len(p) == 0 {
			once.Do(func() { close(done) })
		}
	})
	defer stop()

	conn.obs.OnStateChange(domain.ConnectionFailed)
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("peer not dropped")
	}
	assert.Equal(t, domain.TrackEnded, audio.State())
	assert.Equal(t, domain.TrackEnded, video.State())
	assert.False(t, m.surface.has("room:s2"))
	assert.True(t, conn.isClosed())
	assert.False(t, m.room.LocalStream().Released(), "our own media stays up")
}

func TestRoom_UserLeftPurgesPeer(t *testing.T) {
	transport := newFakeTransport()
	m := join(t, "a", transport, roomConfig())
	transport.inject(domain.RoomUsers{RoomID: "r1", Users: []domain.PeerID{"s2", "s3"}})
	waitPeers(t, m, "s2", "s3")

	transport.inject(domain.RoomUserLeft{RoomID: "r1", SocketID: "s2", UserID: "b"})
	waitPeers(t, m, "s3")
	assert.Equal(t, []domain.PeerID{"s3"}, m.room.Roster())

	transport.inject(domain.RoomUserJoined{RoomID: "r1", SocketID: "s4", UserID: "d"})
	require.Eventually(t, func() bool { return len(m.room.Roster()) == 2 }, waitFor, tick)
	assert.Len(t, m.room.Peers(), 1, "joiners offer to us")
}

// waitGot waits until tr was delivered ev at least once.
func waitGot(t *testing.T, tr *fakeTransport, ev domain.Event) {
	t.Helper()
	require.Eventually(t, func() bool { return tr.got(ev) > 0 }, waitFor, tick)
}

func earlyPeers(t *testing.T, m *member) int {
	t.Helper()
	var n int
	require.NoError(t, m.room.do(context.Background(), func() { n = len(m.room.early) }))
	return n
}

func candidateFrom(socket domain.PeerID) domain.ICECandidateMsg {
	return domain.ICECandidateMsg{
		Route:     domain.Route{RoomID: "r1", FromUserID: "b", FromSocketID: socket, ToSocketID: "s1"},
		Candidate: domain.ICECandidate{Candidate: "candidate:1 1 udp 1 10.0.0.9 4000 typ host"},
	}
}

func TestRoom_LateCandidatesFromDepartedPeersAreDropped(t *testing.T) {
	transport := newFakeTransport()
	m := join(t, "a", transport, roomConfig())

	for i := range 500 {
		id := domain.PeerID(fmt.Sprintf("gone-%d", i))
		transport.inject(domain.RoomUserLeft{RoomID: "r1", SocketID: id})
		transport.inject(candidateFrom(id))
	}
	assert.Zero(t, earlyPeers(t, m))

	// A late offer does not bring the peer back either.
	transport.inject(domain.Offer{
		Route: domain.Route{RoomID: "r1", FromUserID: "b", FromSocketID: "gone-499", ToSocketID: "s1"},
		SDP:   domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0"},
	})
	assert.Zero(t, earlyPeers(t, m))
	assert.Empty(t, peerIDs(m.room))
	assert.Zero(t, transport.count(domain.EventAnswer))
}

func TestRoom_UnknownPeersAreCapped(t *testing.T) {
	transport := newFakeTransport()
	m := join(t, "a", transport, roomConfig())

	for i := range 100 {
		transport.inject(candidateFrom(domain.PeerID(fmt.Sprintf("stranger-%d", i))))
	}
	assert.Equal(t, maxEarlyPeers, earlyPeers(t, m))
}

func TestRoom_RejoinedPeerIsBufferedAgain(t *testing.T) {
	transport := newFakeTransport()
	m := join(t, "a", transport, roomConfig())

	transport.inject(domain.RoomUserLeft{RoomID: "r1", SocketID: "s9"})
	transport.inject(candidateFrom("s9"))
	assert.Zero(t, earlyPeers(t, m))

	transport.inject(domain.RoomUserJoined{RoomID: "r1", SocketID: "s9", UserID: "b"})
	transport.inject(candidateFrom("s9"))
	assert.Equal(t, 1, earlyPeers(t, m))

	transport.inject(domain.Offer{
		Route: domain.Route{RoomID: "r1", FromUserID: "b", FromSocketID: "s9", ToSocketID: "s1"},
		SDP:   domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0"},
	})
	waitPeers(t, m, "s9")
	require.Eventually(t, func() bool { return transport.count(domain.EventAnswer) == 1 }, waitFor, tick)
	_, _, candidates := m.engine.allConns()[0].stats()
	assert.Equal(t, 1, candidates)
}
