package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/developer-khadim/Business-nexus/internal/adapter/driven/persistence/memory"
	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/developer-khadim/Business-nexus/internal/core/port"
)

// fakeNet wires fake transports through a real Relay. It is the relay's
// registry and bus at once and dispatches synchronously.
type fakeNet struct {
	relay *Relay

	mu      sync.Mutex
	sockets map[domain.PeerID]*fakeTransport
}

func newFakeNet() *fakeNet {
	n := &fakeNet{sockets: make(map[domain.PeerID]*fakeTransport)}
	n.relay = NewRelay(n, memory.NewRosterRepository(), n, nopMetrics{})
	return n
}

// attach returns a connected transport for user.
func (n *fakeNet) attach(user domain.UserID) *fakeTransport {
	t := newFakeTransport()
	t.net = n
	t.sock = &fakeSocket{id: domain.NewPeerID(), user: user, t: t}
	n.relay.Connect(t.sock)
	return t
}

func (n *fakeNet) Register(c port.Client) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sockets[c.ID()] = c.(*fakeSocket).t
}

func (n *fakeNet) Unregister(c port.Client) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.sockets, c.ID())
}

func (n *fakeNet) Publish(_ context.Context, d port.Delivery) error {
	n.mu.Lock()
	var targets []*fakeTransport
	for id, t := range n.sockets {
		switch {
		case d.ToSocket != "" && id == d.ToSocket:
			targets = append(targets, t)
		case d.ToSocket == "" && t.sock.user == d.ToUser && id != d.Except:
			targets = append(targets, t)
		}
	}
	n.mu.Unlock()

	for _, t := range targets {
		msg, err := domain.DecodeEnvelope(d.Frame)
		if err != nil {
			return err
		}
		t.inject(msg)
	}
	return nil
}

func (n *fakeNet) Subscribe(ctx context.Context, _ func(port.Delivery)) error {
	<-ctx.Done()
	return nil
}

func (n *fakeNet) Close() error { return nil }

type fakeSocket struct {
	id   domain.PeerID
	user domain.UserID
	t    *fakeTransport
}

func (s *fakeSocket) ID() domain.PeerID       { return s.id }
func (s *fakeSocket) UserID() domain.UserID   { return s.user }
func (s *fakeSocket) Send(frame []byte) error { return nil }
func (s *fakeSocket) Close() error            { return nil }

type nopMetrics struct{}

func (nopMetrics) SocketOpened()              {}
func (nopMetrics) SocketClosed()              {}
func (nopMetrics) RoomJoined()                {}
func (nopMetrics) RoomLeft()                  {}
func (nopMetrics) MessageRouted(domain.Event) {}
func (nopMetrics) MessageRejected(string)     {}

type handlerEntry struct {
	id int
	h  port.Handler
}

// fakeTransport records what it sends. Attached to a fakeNet it also routes
// through the relay; standalone, messages only arrive through inject.
type fakeTransport struct {
	net  *fakeNet
	sock *fakeSocket

	mu       sync.Mutex
	sent     []domain.Message
	received []domain.Event
	handlers map[domain.Event][]handlerEntry
	nextID   int
	fail     error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[domain.Event][]handlerEntry)}
}

func (t *fakeTransport) Send(ctx context.Context, msg domain.Message) error {
	t.mu.Lock()
	t.sent = append(t.sent, msg)
	fail := t.fail
	t.mu.Unlock()
	if fail != nil {
		return &domain.SignalingDeliveryError{Event: msg.Event(), Err: fail}
	}
	if t.net != nil {
		return t.net.relay.Handle(ctx, t.sock, msg)
	}
	return nil
}

func (t *fakeTransport) On(ev domain.Event, h port.Handler) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.handlers[ev] = append(t.handlers[ev], handlerEntry{id: id, h: h})
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		hs := t.handlers[ev]
		for i, e := range hs {
			if e.id == id {
				t.handlers[ev] = append(hs[:i:i], hs[i+1:]...)
				return
			}
		}
	}
}

func (t *fakeTransport) inject(msg domain.Message) {
	t.mu.Lock()
	t.received = append(t.received, msg.Event())
	hs := append([]handlerEntry(nil), t.handlers[msg.Event()]...)
	t.mu.Unlock()
	for _, e := range hs {
		e.h(msg)
	}
}

func (t *fakeTransport) handlerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, hs := range t.handlers {
		n += len(hs)
	}
	return n
}

func (t *fakeTransport) sentOf(ev domain.Event) []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.Message
	for _, m := range t.sent {
		if m.Event() == ev {
			out = append(out, m)
		}
	}
	return out
}

func (t *fakeTransport) count(ev domain.Event) int {
	return len(t.sentOf(ev))
}

func (t *fakeTransport) got(ev domain.Event) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.received {
		if e == ev {
			n++
		}
	}
	return n
}

type fakeTrack struct {
	id      string
	kind    domain.MediaKind
	stopped atomic.Bool
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() domain.MediaKind { return t.kind }
func (t *fakeTrack) Stop()                  { t.stopped.Store(true) }

func (t *fakeTrack) State() domain.TrackState {
	if t.stopped.Load() {
		return domain.TrackEnded
	}
	return domain.TrackLive
}

// fakeEngine hands out fake tracks and connections and remembers all of
// them.
type fakeEngine struct {
	mu     sync.Mutex
	tracks []*fakeTrack
	conns  []*fakeConn
	seq    int

	fail     error
	failOn   domain.MediaKind
	block    bool
	acquires atomic.Int32
}

func (e *fakeEngine) AcquireLocalMedia(ctx context.Context, c domain.Constraints) (*domain.MediaStream, error) {
	e.acquires.Add(1)
	e.mu.Lock()
	fail, failOn, block := e.fail, e.failOn, e.block
	e.mu.Unlock()

	if fail != nil && (failOn == "" || (failOn == domain.MediaVideo && c.Video) || (failOn == domain.MediaAudio && c.Audio)) {
		return nil, &domain.MediaAccessError{Kind: failOn, Err: fail}
	}
	var tracks []domain.Track
	if c.Audio {
		tracks = append(tracks, e.newTrack(domain.MediaAudio))
	}
	if c.Video {
		tracks = append(tracks, e.newTrack(domain.MediaVideo))
	}
	stream := domain.NewMediaStream(domain.NewStreamID(), tracks...)
	if block {
		// The device opens only after the caller gave up.
		<-ctx.Done()
	}
	return stream, nil
}

func (e *fakeEngine) setFail(kind domain.MediaKind, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failOn, e.fail = kind, err
}

func (e *fakeEngine) setBlock(block bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.block = block
}

func (e *fakeEngine) newTrack(kind domain.MediaKind) *fakeTrack {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	t := &fakeTrack{id: fmt.Sprintf("%s-%d", kind, e.seq), kind: kind}
	e.tracks = append(e.tracks, t)
	return t
}

func (e *fakeEngine) CreateConnection(ctx context.Context, obs port.ConnectionObserver) (port.Connection, error) {
	c := &fakeConn{obs: obs, signaling: domain.SignalingStable, senders: make(map[string]domain.Track)}
	e.mu.Lock()
	e.conns = append(e.conns, c)
	e.mu.Unlock()
	return c, nil
}

func (e *fakeEngine) allTracks() []*fakeTrack {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*fakeTrack(nil), e.tracks...)
}

func (e *fakeEngine) allConns() []*fakeConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*fakeConn(nil), e.conns...)
}

func (e *fakeEngine) liveTracks() int {
	n := 0
	for _, t := range e.allTracks() {
		if t.State() == domain.TrackLive {
			n++
		}
	}
	return n
}

func (e *fakeEngine) openConns() int {
	n := 0
	for _, c := range e.allConns() {
		if !c.isClosed() {
			n++
		}
	}
	return n
}

var errBadState = errors.New("invalid signaling state")

// fakeConn models just enough of the offer/answer state machine to catch
// misuse.
type fakeConn struct {
	obs port.ConnectionObserver

	mu         sync.Mutex
	signaling  domain.SignalingState
	hasRemote  bool
	streams    []*domain.MediaStream
	senders    map[string]domain.Track
	candidates []domain.ICECandidate
	remotes    []*fakeTrack
	offers     int
	rollbacks  int
	closed     bool
}

func (c *fakeConn) AttachStream(stream *domain.MediaStream) error {
	if !stream.Retain() {
		return domain.ErrStreamReleased
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams = append(c.streams, stream)
	for _, t := range stream.Tracks() {
		c.senders[t.ID()] = t
	}
	return nil
}

func (c *fakeConn) ReplaceOrAddTrack(stream *domain.MediaStream, t domain.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	held := false
	for _, s := range c.streams {
		if s == stream {
			held = true
		}
	}
	if !held {
		if !stream.Retain() {
			return domain.ErrStreamReleased
		}
		c.streams = append(c.streams, stream)
	}
	c.senders[t.ID()] = t
	return nil
}

func (c *fakeConn) RemoveTrack(t domain.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.senders, t.ID())
	return nil
}

func (c *fakeConn) sdp() string {
	lines := []string{"v=0", "m=audio 9 UDP/TLS/RTP/SAVPF 111"}
	for _, t := range c.senders {
		if t.Kind() == domain.MediaVideo {
			lines = append(lines, "m=video 9 UDP/TLS/RTP/SAVPF 96")
			break
		}
	}
	return strings.Join(lines, "\r\n")
}

func (c *fakeConn) CreateOffer() (domain.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.signaling == domain.SignalingHaveRemoteOffer {
		return domain.SessionDescription{}, errBadState
	}
	c.signaling = domain.SignalingHaveLocalOffer
	c.offers++
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: c.sdp()}, nil
}

func (c *fakeConn) CreateAnswer() (domain.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signaling != domain.SignalingHaveRemoteOffer {
		return domain.SessionDescription{}, errBadState
	}
	c.signaling = domain.SignalingStable
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: c.sdp()}, nil
}

func (c *fakeConn) SetRemoteDescription(sd domain.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return errBadState
	case sd.Type == domain.SDPOffer && c.signaling == domain.SignalingStable:
		c.signaling = domain.SignalingHaveRemoteOffer
	case sd.Type == domain.SDPAnswer && c.signaling == domain.SignalingHaveLocalOffer:
		c.signaling = domain.SignalingStable
	default:
		return errBadState
	}
	c.hasRemote = true
	return nil
}

func (c *fakeConn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signaling != domain.SignalingHaveLocalOffer {
		return errBadState
	}
	c.signaling = domain.SignalingStable
	c.rollbacks++
	return nil
}

func (c *fakeConn) AddICECandidate(cand domain.ICECandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasRemote {
		return errBadState
	}
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *fakeConn) HasRemoteDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasRemote
}

func (c *fakeConn) SignalingState() domain.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signaling
}

func (c *fakeConn) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ConnectionClosed
	}
	return domain.ConnectionNew
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.signaling = domain.SignalingClosed
	streams, remotes := c.streams, c.remotes
	c.streams, c.remotes = nil, nil
	c.mu.Unlock()
	for _, t := range remotes {
		t.Stop()
	}
	for _, s := range streams {
		s.Release()
	}
	return nil
}

// emitTrack simulates a remote track arriving.
func (c *fakeConn) emitTrack(kind domain.MediaKind, streamID string) *fakeTrack {
	t := &fakeTrack{id: "remote-" + string(kind), kind: kind}
	c.mu.Lock()
	c.remotes = append(c.remotes, t)
	c.mu.Unlock()
	c.obs.OnTrack(t, streamID)
	return t
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) hasSender(kind domain.MediaKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.senders {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

func (c *fakeConn) stats() (offers, rollbacks, candidates int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers, c.rollbacks, len(c.candidates)
}

type fakeRinger struct {
	ringing atomic.Bool
	starts  atomic.Int32
}

func (r *fakeRinger) Start() {
	r.ringing.Store(true)
	r.starts.Add(1)
}

func (r *fakeRinger) Stop() { r.ringing.Store(false) }

type fakeSurface struct {
	mu       sync.Mutex
	attached map[string]*domain.MediaStream
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{attached: make(map[string]*domain.MediaStream)}
}

func (s *fakeSurface) Attach(key string, stream *domain.MediaStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[key] = stream
}

func (s *fakeSurface) Detach(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attached, key)
}

func (s *fakeSurface) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.attached[key]
	return ok
}

type fakeMeetings struct {
	endErr error
	ended  atomic.Int32
}

func (m *fakeMeetings) StartMeeting(_ context.Context, id domain.MeetingID) (domain.Meeting, error) {
	return domain.Meeting{ID: id, Status: domain.MeetingLive}, nil
}

func (m *fakeMeetings) EndMeeting(context.Context, domain.MeetingID) error {
	m.ended.Add(1)
	return m.endErr
}
