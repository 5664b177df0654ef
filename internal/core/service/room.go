package service

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/developer-khadim/Business-nexus/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// maxEarlyPeers caps how many unknown sockets may have candidates
	// buffered at once.
	maxEarlyPeers = 16
	// maxDeparted is how many departed sockets are remembered so their
	// late traffic is dropped.
	maxDeparted = 64
)

type RoomConfig struct {
	// AnswerTimeout purges a peer whose offer got no answer. Zero disables it.
	AnswerTimeout  time.Duration
	ICEBufferLimit int
	BackendTimeout time.Duration
}

func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		AnswerTimeout:  30 * time.Second,
		ICEBufferLimit: 64,
		BackendTimeout: 10 * time.Second,
	}
}

type RoomDeps struct {
	Transport port.SignalingTransport
	Media     port.MediaEngine
	Meetings  port.MeetingBackend
	Surface   port.Surface
}

var roomEvents = []domain.Event{
	domain.EventRoomUsers,
	domain.EventRoomUserJoined,
	domain.EventRoomUserLeft,
	domain.EventOffer,
	domain.EventAnswer,
	domain.EventICE,
}

// RoomCall is this agent's membership in one meeting room: a full mesh with
// one connection per remote socket, all fed from one shared local stream.
type RoomCall struct {
	*actor

	deps RoomDeps
	cfg  RoomConfig
	log  zerolog.Logger

	self    domain.UserID
	room    domain.RoomID
	meeting domain.MeetingID

	ctx    context.Context
	cancel context.CancelFunc

	local       *domain.MediaStream
	peers       *PeerTable
	early       map[domain.PeerID]*bounded[domain.ICECandidate]
	departed    []domain.PeerID
	unsubscribe []func()
	onClose     func()
	closed      bool
}

// OpenRoom acquires audio and video, subscribes to room traffic and
// announces itself. A media failure returns a *domain.MediaAccessError and
// leaves nothing behind.
func OpenRoom(ctx context.Context, deps RoomDeps, cfg RoomConfig, self domain.UserID, meeting domain.MeetingID, room domain.RoomID, onClose func()) (*RoomCall, error) {
	if deps.Surface == nil {
		deps.Surface = nopSurface{}
	}
	stream, err := deps.Media.AcquireLocalMedia(ctx, domain.Constraints{Audio: true, Video: true})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		stream.Stop()
		return nil, err
	}

	rctx, cancel := context.WithCancel(context.Background())
	r := &RoomCall{
		actor:   newActor(),
		deps:    deps,
		cfg:     cfg,
		self:    self,
		room:    room,
		meeting: meeting,
		ctx:     rctx,
		cancel:  cancel,
		local:   stream,
		peers:   NewPeerTable(),
		early:   make(map[domain.PeerID]*bounded[domain.ICECandidate]),
		onClose: onClose,
		log: log.With().
			Str("room_id", room.String()).
			Str("meeting_id", meeting.String()).
			Logger(),
	}
	for _, ev := range roomEvents {
		r.unsubscribe = append(r.unsubscribe, deps.Transport.On(ev, r.route))
	}
	go r.run()

	r.post(func() { r.send(domain.RoomJoin{RoomID: room, UserID: self}) })
	r.log.Info().Msg("Joined room")
	return r, nil
}

func (r *RoomCall) RoomID() domain.RoomID {
	return r.room
}

func (r *RoomCall) LocalStream() *domain.MediaStream {
	return r.local
}

func (r *RoomCall) Peers() []PeerSnapshot {
	return r.peers.Snapshot()
}

func (r *RoomCall) Roster() []domain.PeerID {
	return r.peers.Roster()
}

func (r *RoomCall) Observe(f func([]PeerSnapshot)) func() {
	return r.peers.Observe(f)
}

// End leaves the room and marks the meeting completed. A backend failure is
// logged; local cleanup and the close callback always run.
func (r *RoomCall) End(ctx context.Context) error {
	return r.close(ctx, true)
}

// Leave tears the room down without touching the meeting.
func (r *RoomCall) Leave(ctx context.Context) error {
	return r.close(ctx, false)
}

func (r *RoomCall) close(ctx context.Context, endMeeting bool) error {
	r.cancel()
	err := r.do(ctx, func() { r.terminate(endMeeting) })
	if errors.Is(err, domain.ErrSessionClosed) {
		return nil
	}
	return err
}

func (r *RoomCall) route(msg domain.Message) {
	if !r.owns(msg) {
		return
	}
	r.post(func() { r.handle(msg) })
}

// owns filters room traffic. Roster events without a room id are accepted
// since a socket is in at most one room at a time in practice.
func (r *RoomCall) owns(msg domain.Message) bool {
	switch m := msg.(type) {
	case domain.RoomUsers:
		return m.RoomID == "" || m.RoomID == r.room
	case domain.RoomUserJoined:
		return m.RoomID == "" || m.RoomID == r.room
	case domain.RoomUserLeft:
		return m.RoomID == "" || m.RoomID == r.room
	case domain.Offer:
		return m.RoomID == r.room
	case domain.Answer:
		return m.RoomID == r.room
	case domain.ICECandidateMsg:
		return m.RoomID == r.room
	}
	return false
}

func (r *RoomCall) handle(msg domain.Message) {
	if r.closed {
		return
	}
	switch m := msg.(type) {
	case domain.RoomUsers:
		r.handleUsers(m.Users)
	case domain.RoomUserJoined:
		r.log.Debug().Str("socket_id", m.SocketID.String()).Msg("User joined")
		r.forgetDeparted(m.SocketID)
		r.peers.addRoster(m.SocketID)
	case domain.RoomUserLeft:
		r.log.Debug().Str("socket_id", m.SocketID.String()).Msg("User left")
		r.peers.dropRoster(m.SocketID)
		r.markDeparted(m.SocketID)
		delete(r.early, m.SocketID)
		r.purge(m.SocketID)
	case domain.Offer:
		r.handleOffer(m)
	case domain.Answer:
		r.handleAnswer(m)
	case domain.ICECandidateMsg:
		r.handleCandidate(m)
	}
}

func (r *RoomCall) handleUsers(users []domain.PeerID) {
	r.peers.setRoster(users)
	for _, id := range users {
		r.forgetDeparted(id)
		if r.peers.get(id) != nil {
			continue
		}
		e, err := r.connect(id)
		if err != nil {
			r.log.Warn().Err(err).Str("socket_id", id.String()).Msg("Failed to create peer")
			continue
		}
		if err := r.offer(e); err != nil {
			r.log.Warn().Err(err).Str("socket_id", id.String()).Msg("Failed to offer")
			r.purge(id)
		}
	}
}

func (r *RoomCall) handleOffer(m domain.Offer) {
	from := m.FromSocketID
	if from == "" {
		return
	}
	if r.hasDeparted(from) {
		r.log.Debug().Str("socket_id", from.String()).Msg("Dropping offer from departed peer")
		return
	}
	e := r.peers.get(from)
	if e == nil {
		var err error
		if e, err = r.connect(from); err != nil {
			r.log.Warn().Err(err).Str("socket_id", from.String()).Msg("Failed to create peer")
			return
		}
	}
	if e.awaiting {
		if !r.polite(m.FromUserID) {
			r.log.Debug().Str("socket_id", from.String()).Msg("Ignoring offer that collides with our own")
			return
		}
		if err := e.conn.Rollback(); err != nil {
			r.log.Warn().Err(err).Msg("Rollback failed")
			return
		}
		e.awaiting = false
		stopTimer(e.timer)
	}
	if err := e.conn.SetRemoteDescription(m.SDP); err != nil {
		r.log.Warn().Err(err).Str("socket_id", from.String()).Msg("Failed to apply offer")
		return
	}
	r.flush(e)
	answer, err := e.conn.CreateAnswer()
	if err != nil {
		r.log.Warn().Err(err).Str("socket_id", from.String()).Msg("Failed to create answer")
		return
	}
	r.send(domain.Answer{Route: r.routeTo(from), SDP: answer})
}

func (r *RoomCall) handleAnswer(m domain.Answer) {
	e := r.peers.get(m.FromSocketID)
	if e == nil || !e.awaiting {
		r.log.Debug().Err(domain.ErrNoConnection).Str("socket_id", m.FromSocketID.String()).Msg("Dropping answer")
		return
	}
	if err := e.conn.SetRemoteDescription(m.SDP); err != nil {
		r.log.Warn().Err(err).Msg("Failed to apply answer")
		return
	}
	e.awaiting = false
	stopTimer(e.timer)
	r.flush(e)
}

func (r *RoomCall) handleCandidate(m domain.ICECandidateMsg) {
	from := m.FromSocketID
	if from == "" {
		return
	}
	e := r.peers.get(from)
	switch {
	case e == nil:
		if r.hasDeparted(from) {
			r.log.Debug().Str("socket_id", from.String()).Msg("Dropping candidate from departed peer")
			return
		}
		buf, ok := r.early[from]
		if !ok {
			if len(r.early) >= maxEarlyPeers {
				r.log.Debug().Str("socket_id", from.String()).Msg("Too many unknown peers, dropping candidate")
				return
			}
			buf = newBounded[domain.ICECandidate](r.cfg.ICEBufferLimit)
			r.early[from] = buf
		}
		buf.push(m.Candidate)
	case !e.conn.HasRemoteDescription():
		e.candidates.push(m.Candidate)
	default:
		if err := e.conn.AddICECandidate(m.Candidate); err != nil {
			r.log.Debug().Err(err).Msg("Failed to add ICE candidate")
		}
	}
}

func (r *RoomCall) hasDeparted(id domain.PeerID) bool {
	return slices.Contains(r.departed, id)
}

// markDeparted remembers id, forgetting the oldest entry when full.
func (r *RoomCall) markDeparted(id domain.PeerID) {
	r.forgetDeparted(id)
	if len(r.departed) >= maxDeparted {
		r.departed = slices.Delete(r.departed, 0, 1)
	}
	r.departed = append(r.departed, id)
}

func (r *RoomCall) forgetDeparted(id domain.PeerID) {
	r.departed = slices.DeleteFunc(r.departed, func(d domain.PeerID) bool { return d == id })
}

// connect creates the connection for id and attaches the local stream.
func (r *RoomCall) connect(id domain.PeerID) (*peerEntry, error) {
	e := &peerEntry{
		id:         id,
		state:      domain.ConnectionNew,
		candidates: newBounded[domain.ICECandidate](r.cfg.ICEBufferLimit),
	}
	conn, err := r.deps.Media.CreateConnection(r.ctx, r.observer(e))
	if err != nil {
		return nil, err
	}
	if err := conn.AttachStream(r.local); err != nil {
		_ = conn.Close()
		return nil, err
	}
	e.conn = conn
	if buf, ok := r.early[id]; ok {
		for _, c := range buf.drain() {
			e.candidates.push(c)
		}
		delete(r.early, id)
	}
	r.peers.put(e)
	return e, nil
}

func (r *RoomCall) observer(e *peerEntry) port.ConnectionObserver {
	return port.ConnectionObserver{
		OnICECandidate: func(c domain.ICECandidate) {
			r.post(func() {
				if r.peers.get(e.id) == e {
					r.send(domain.ICECandidateMsg{Route: r.routeTo(e.id), Candidate: c})
				}
			})
		},
		OnTrack: func(t domain.Track, streamID string) {
			ok := r.post(func() {
				if r.closed || r.peers.get(e.id) != e {
					t.Stop()
					return
				}
				if e.remote == nil {
					r.peers.setRemote(e, domain.NewMediaStream(streamID, t))
				} else {
					e.remote.AddTrack(t)
					r.peers.notify()
				}
				r.deps.Surface.Attach(surfaceKey(e.id), e.remote)
			})
			if !ok {
				t.Stop()
			}
		},
		OnStateChange: func(st domain.ConnectionState) {
			r.post(func() {
				if r.peers.get(e.id) != e {
					return
				}
				r.peers.setState(e, st)
				if st == domain.ConnectionFailed || st == domain.ConnectionDisconnected {
					r.log.Info().Str("socket_id", e.id.String()).Str("state", string(st)).Msg("Peer connection lost")
					r.purge(e.id)
				}
			})
		},
	}
}

func (r *RoomCall) offer(e *peerEntry) error {
	sd, err := e.conn.CreateOffer()
	if err != nil {
		return err
	}
	e.awaiting = true
	r.send(domain.Offer{Route: r.routeTo(e.id), SDP: sd})
	if r.cfg.AnswerTimeout > 0 {
		e.timer = time.AfterFunc(r.cfg.AnswerTimeout, func() {
			r.post(func() {
				if r.peers.get(e.id) == e && e.awaiting {
					r.log.Info().Str("socket_id", e.id.String()).Msg("Offer unanswered, dropping peer")
					r.purge(e.id)
				}
			})
		})
	}
	return nil
}

func (r *RoomCall) flush(e *peerEntry) {
	for _, c := range e.candidates.drain() {
		if err := e.conn.AddICECandidate(c); err != nil {
			r.log.Debug().Err(err).Msg("Failed to add buffered ICE candidate")
		}
	}
}

// purge closes the connection to id and forgets its remote stream.
func (r *RoomCall) purge(id domain.PeerID) {
	e := r.peers.remove(id)
	if e == nil {
		return
	}
	stopTimer(e.timer)
	if err := e.conn.Close(); err != nil {
		r.log.Warn().Err(err).Str("socket_id", id.String()).Msg("Error closing peer connection")
	}
	if e.remote != nil {
		e.remote.Stop()
	}
	r.deps.Surface.Detach(surfaceKey(id))
	e.candidates.drain()
}

func (r *RoomCall) terminate(endMeeting bool) {
	if r.closed {
		return
	}
	r.closed = true
	for _, u := range r.unsubscribe {
		u()
	}
	for _, id := range r.peers.ids() {
		r.purge(id)
	}
	clear(r.early)
	r.departed = nil

	r.local.Release()
	if !r.local.Released() {
		r.log.Warn().Msg("Local media still retained, forcing stop")
		r.local.Stop()
	}
	r.send(domain.RoomLeave{RoomID: r.room, UserID: r.self})

	if endMeeting && r.meeting != "" && r.deps.Meetings != nil {
		r.endMeeting()
	}
	r.stop()
	r.log.Info().Bool("meeting_ended", endMeeting).Msg("Left room")
	if r.onClose != nil {
		r.onClose()
	}
}

func (r *RoomCall) endMeeting() {
	timeout := r.cfg.BackendTimeout
	if timeout <= 0 {
		timeout = DefaultRoomConfig().BackendTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), timeout)
	defer cancel()
	if err := r.deps.Meetings.EndMeeting(ctx, r.meeting); err != nil {
		syncErr := &domain.BackendSyncError{MeetingID: r.meeting, Op: "end", Err: err}
		r.log.Error().Err(syncErr).Msg("Failed to end meeting on backend")
	}
}

// polite reports whether we yield when our offer collides with one from
// remote. Exactly one side of a pair yields.
func (r *RoomCall) polite(remote domain.UserID) bool {
	return remote == "" || r.self < remote
}

func (r *RoomCall) routeTo(id domain.PeerID) domain.Route {
	return domain.Route{RoomID: r.room, FromUserID: r.self, ToSocketID: id}
}

func (r *RoomCall) send(msg domain.Message) {
	if err := r.deps.Transport.Send(context.WithoutCancel(r.ctx), msg); err != nil {
		r.log.Warn().Err(err).Msg("Signaling send failed")
	}
}

func surfaceKey(id domain.PeerID) string {
	return "room:" + id.String()
}
