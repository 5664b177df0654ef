package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/developer-khadim/Business-nexus/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type CallConfig struct {
	// RingTimeout auto-declines a call nobody answered. Zero disables it.
	RingTimeout time.Duration
	// AnswerTimeout ends a call whose offer got no answer before it went
	// active. Zero disables it.
	AnswerTimeout  time.Duration
	ICEBufferLimit int
}

func DefaultCallConfig() CallConfig {
	return CallConfig{
		RingTimeout:    45 * time.Second,
		AnswerTimeout:  30 * time.Second,
		ICEBufferLimit: 64,
	}
}

type CallDeps struct {
	Transport port.SignalingTransport
	Media     port.MediaEngine
	Ringer    port.Ringer
	Surface   port.Surface
}

func (d CallDeps) withDefaults() CallDeps {
	if d.Ringer == nil {
		d.Ringer = nopRinger{}
	}
	if d.Surface == nil {
		d.Surface = nopSurface{}
	}
	return d
}

type callParams struct {
	local   domain.UserID
	remote  domain.UserID
	kind    domain.MediaKind
	caller  bool
	onState func(domain.CallState)
	onClose func(*CallSession, domain.EndReason)
}

// CallSession is one 1:1 call. All state is owned by the session goroutine;
// exported methods post work to it.
type CallSession struct {
	*actor

	deps CallDeps
	cfg  CallConfig
	log  zerolog.Logger

	local  domain.UserID
	remote domain.UserID
	caller bool

	ctx    context.Context
	cancel context.CancelFunc

	phase        domain.Phase
	kind         domain.MediaKind
	wantKind     domain.MediaKind
	announced    bool
	offerPending bool
	renegotiate  bool

	localStream  *domain.MediaStream
	remoteStream *domain.MediaStream
	conn         port.Connection
	held         *domain.SessionDescription
	candidates   *bounded[domain.ICECandidate]

	ringTimer   *time.Timer
	answerTimer *time.Timer

	onState func(domain.CallState)
	closers []func(domain.EndReason)

	stateMu  sync.Mutex
	snapshot domain.CallState
	reason   domain.EndReason
}

func newCallSession(deps CallDeps, cfg CallConfig, p callParams) *CallSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &CallSession{
		actor:      newActor(),
		deps:       deps.withDefaults(),
		cfg:        cfg,
		local:      p.local,
		remote:     p.remote,
		caller:     p.caller,
		ctx:        ctx,
		cancel:     cancel,
		phase:      domain.PhaseIdle,
		kind:       p.kind,
		wantKind:   p.kind,
		candidates: newBounded[domain.ICECandidate](cfg.ICEBufferLimit),
		onState:    p.onState,
		log: log.With().
			Str("remote_user", p.remote.String()).
			Bool("caller", p.caller).
			Logger(),
	}
	if p.onClose != nil {
		s.closers = append(s.closers, func(r domain.EndReason) { p.onClose(s, r) })
	}
	s.publish()
	go s.run()
	return s
}

func (s *CallSession) Remote() domain.UserID {
	return s.remote
}

func (s *CallSession) State() domain.CallState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.snapshot
}

func (s *CallSession) Phase() domain.Phase {
	return s.State().Phase
}

// Reason is empty until the session ended.
func (s *CallSession) Reason() domain.EndReason {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.reason
}

// OnClose registers f to run once the call ended. If it already ended, f
// runs immediately.
func (s *CallSession) OnClose(f func(domain.EndReason)) {
	if !s.post(func() { s.closers = append(s.closers, f) }) {
		f(s.Reason())
	}
}

// Deliver hands an inbound signaling message to the session. It returns
// false when the session already ended.
func (s *CallSession) Deliver(msg domain.Message) bool {
	return s.post(func() { s.handle(msg) })
}

// Accept answers a ringing call.
func (s *CallSession) Accept(ctx context.Context) error {
	var err error
	if doErr := s.do(ctx, func() { err = s.accept() }); doErr != nil {
		s.abandon()
		return doErr
	}
	return err
}

// Decline rejects a ringing call.
func (s *CallSession) Decline(ctx context.Context) error {
	var err error
	doErr := s.do(ctx, func() {
		if s.caller || s.phase != domain.PhaseRinging {
			err = domain.ErrInvalidPhase
			return
		}
		s.terminate(domain.EndLocalDecline)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// ToggleMedia switches an active call between audio and video. A toggle
// requested while an offer is still unanswered runs once that answer lands.
func (s *CallSession) ToggleMedia(ctx context.Context) error {
	var err error
	doErr := s.do(ctx, func() {
		if s.phase != domain.PhaseActive {
			err = domain.ErrInvalidPhase
			return
		}
		s.wantKind = opposite(s.wantKind)
		if s.offerPending || s.conn.SignalingState() != domain.SignalingStable {
			s.log.Debug().Str("want", string(s.wantKind)).Msg("Media toggle deferred until negotiation settles")
			return
		}
		err = s.applyToggle()
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// End hangs up from any phase. In-flight media acquisition is abandoned.
// Calling End again is a no-op.
func (s *CallSession) End(ctx context.Context) error {
	return s.endWith(ctx, domain.EndLocalHangup)
}

func (s *CallSession) endWith(ctx context.Context, reason domain.EndReason) error {
	s.cancel()
	err := s.do(ctx, func() { s.terminate(reason) })
	if errors.Is(err, domain.ErrSessionClosed) {
		return nil
	}
	return err
}

func (s *CallSession) dial(ctx context.Context) error {
	var err error
	if doErr := s.do(ctx, func() { err = s.startDialing() }); doErr != nil {
		s.abandon()
		return doErr
	}
	return err
}

// abandon ends the session without waiting for it. Dial and Accept use it
// when their caller gave up while media was still being acquired.
func (s *CallSession) abandon() {
	s.cancel()
	s.post(func() { s.terminate(domain.EndLocalHangup) })
}

func (s *CallSession) startDialing() error {
	if !s.caller || s.phase != domain.PhaseIdle {
		return domain.ErrInvalidPhase
	}
	if err := s.acquire(); err != nil {
		return err
	}
	s.advance(domain.PhaseDialing)
	s.announced = true
	s.send(domain.CallInvite{
		Parties:  domain.Parties{FromUserID: s.local, ToUserID: s.remote},
		CallType: s.kind,
	})
	if err := s.sendOffer(); err != nil {
		s.terminate(domain.EndSignalingFailed)
		return err
	}
	s.armAnswerTimer()
	return nil
}

func (s *CallSession) accept() error {
	if s.caller || s.phase != domain.PhaseRinging {
		return domain.ErrInvalidPhase
	}
	s.deps.Ringer.Stop()
	stopTimer(s.ringTimer)
	s.send(domain.CallAccept{Parties: domain.Parties{FromUserID: s.local, ToUserID: s.remote}})

	if err := s.acquire(); err != nil {
		return err
	}
	s.advance(domain.PhaseNegotiating)

	if s.held != nil {
		offer := *s.held
		s.held = nil
		if err := s.answerOffer(offer); err != nil {
			s.terminate(domain.EndSignalingFailed)
			return err
		}
		s.advance(domain.PhaseActive)
		return nil
	}
	if err := s.sendOffer(); err != nil {
		s.terminate(domain.EndSignalingFailed)
		return err
	}
	s.armAnswerTimer()
	return nil
}

// acquire opens local media and the connection. Any failure terminates the
// session before returning.
func (s *CallSession) acquire() error {
	stream, err := s.deps.Media.AcquireLocalMedia(s.ctx, domain.ConstraintsFor(s.kind))
	if s.ctx.Err() != nil {
		if stream != nil {
			stream.Stop()
		}
		s.terminate(domain.EndLocalHangup)
		return domain.ErrSessionClosed
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("Local media unavailable")
		s.terminate(domain.EndMediaFailure)
		return err
	}
	s.localStream = stream

	conn, err := s.deps.Media.CreateConnection(s.ctx, s.observer())
	if err != nil {
		s.terminate(domain.EndMediaFailure)
		return err
	}
	s.conn = conn
	if err := conn.AttachStream(stream); err != nil {
		s.terminate(domain.EndMediaFailure)
		return err
	}
	return nil
}

func (s *CallSession) observer() port.ConnectionObserver {
	return port.ConnectionObserver{
		OnICECandidate: func(c domain.ICECandidate) {
			s.post(func() {
				s.send(domain.ICECandidateMsg{Route: s.route(), Candidate: c})
			})
		},
		OnTrack: func(t domain.Track, streamID string) {
			if !s.post(func() { s.addRemoteTrack(t, streamID) }) {
				t.Stop()
			}
		},
		OnStateChange: func(st domain.ConnectionState) {
			s.post(func() { s.connectionChanged(st) })
		},
	}
}

func (s *CallSession) handle(msg domain.Message) {
	if s.phase == domain.PhaseEnded {
		return
	}
	switch m := msg.(type) {
	case domain.CallInvite:
		switch {
		case !s.caller && s.phase == domain.PhaseIdle:
			s.startRinging(m.CallType)
		case s.phase == domain.PhaseRinging:
			s.kind, s.wantKind = m.CallType, m.CallType
			s.publish()
		case s.caller && s.phase == domain.PhaseDialing && s.yields():
			s.log.Info().Msg("Calls crossed, taking theirs")
			s.send(domain.CallAccept{Parties: domain.Parties{FromUserID: s.local, ToUserID: s.remote}})
		}
	case domain.CallAccept:
		if s.caller && s.phase == domain.PhaseDialing {
			s.advance(domain.PhaseNegotiating)
		}
	case domain.CallDecline:
		s.terminate(domain.EndRemoteDecline)
	case domain.CallEnd:
		s.terminate(domain.EndRemoteHangup)
	case domain.Offer:
		s.handleOffer(m.SDP)
	case domain.Answer:
		s.handleAnswer(m.SDP)
	case domain.ICECandidateMsg:
		s.handleCandidate(m.Candidate)
	}
}

func (s *CallSession) startRinging(kind domain.MediaKind) {
	s.kind, s.wantKind = kind, kind
	s.advance(domain.PhaseRinging)
	s.announced = true
	s.deps.Ringer.Start()
	if s.cfg.RingTimeout > 0 {
		s.ringTimer = time.AfterFunc(s.cfg.RingTimeout, func() {
			s.post(func() {
				if s.phase == domain.PhaseRinging {
					s.log.Info().Msg("Ring timeout")
					s.terminate(domain.EndRingTimeout)
				}
			})
		})
	}
}

func (s *CallSession) handleOffer(sd domain.SessionDescription) {
	switch s.phase {
	case domain.PhaseIdle:
		if s.caller {
			return
		}
		s.startRinging(kindFromSDP(sd.SDP))
		s.held = &sd
	case domain.PhaseRinging:
		s.held = &sd
	case domain.PhaseDialing:
		if !s.yields() {
			s.log.Debug().Msg("Ignoring offer that collides with our own")
			return
		}
		if s.offerPending {
			if err := s.conn.Rollback(); err != nil {
				s.log.Warn().Err(err).Msg("Rollback failed")
				return
			}
			s.offerPending = false
		}
		stopTimer(s.answerTimer)
		if err := s.answerOffer(sd); err != nil {
			s.log.Warn().Err(err).Msg("Failed to answer offer")
			return
		}
		s.advance(domain.PhaseActive)
		s.settled()
	case domain.PhaseNegotiating, domain.PhaseActive:
		if s.offerPending {
			if s.caller {
				s.log.Debug().Msg("Ignoring offer that collides with our own")
				return
			}
			if err := s.conn.Rollback(); err != nil {
				s.log.Warn().Err(err).Msg("Rollback failed")
				return
			}
			s.offerPending = false
			s.renegotiate = true
		}
		if err := s.answerOffer(sd); err != nil {
			s.log.Warn().Err(err).Msg("Failed to answer offer")
			return
		}
		if s.phase == domain.PhaseNegotiating {
			stopTimer(s.answerTimer)
			s.advance(domain.PhaseActive)
		}
		s.settled()
	}
}

// yields reports whether we give way when both parties dialed each other.
// The lower user id answers the other's offer.
func (s *CallSession) yields() bool {
	return s.local < s.remote
}

func (s *CallSession) handleAnswer(sd domain.SessionDescription) {
	if s.conn == nil || !s.offerPending {
		s.log.Debug().Err(domain.ErrNoConnection).Msg("Dropping answer")
		return
	}
	if err := s.conn.SetRemoteDescription(sd); err != nil {
		s.log.Warn().Err(err).Msg("Failed to apply answer")
		return
	}
	s.offerPending = false
	stopTimer(s.answerTimer)
	s.flushCandidates()
	if s.phase == domain.PhaseDialing || s.phase == domain.PhaseNegotiating {
		s.advance(domain.PhaseActive)
	}
	s.settled()
}

func (s *CallSession) handleCandidate(c domain.ICECandidate) {
	if s.conn == nil || !s.conn.HasRemoteDescription() {
		s.candidates.push(c)
		return
	}
	if err := s.conn.AddICECandidate(c); err != nil {
		s.log.Debug().Err(err).Msg("Failed to add ICE candidate")
	}
}

func (s *CallSession) flushCandidates() {
	for _, c := range s.candidates.drain() {
		if err := s.conn.AddICECandidate(c); err != nil {
			s.log.Debug().Err(err).Msg("Failed to add buffered ICE candidate")
		}
	}
}

func (s *CallSession) answerOffer(sd domain.SessionDescription) error {
	if err := s.conn.SetRemoteDescription(sd); err != nil {
		return err
	}
	s.flushCandidates()
	answer, err := s.conn.CreateAnswer()
	if err != nil {
		return err
	}
	s.send(domain.Answer{Route: s.route(), SDP: answer})
	return nil
}

func (s *CallSession) sendOffer() error {
	offer, err := s.conn.CreateOffer()
	if err != nil {
		return err
	}
	s.offerPending = true
	s.renegotiate = false
	s.send(domain.Offer{Route: s.route(), SDP: offer})
	return nil
}

// settled runs whatever waited for the connection to be stable again.
func (s *CallSession) settled() {
	if s.phase != domain.PhaseActive {
		return
	}
	if s.wantKind != s.kind {
		if err := s.applyToggle(); err != nil {
			s.log.Warn().Err(err).Msg("Deferred media toggle failed")
		}
		return
	}
	if s.renegotiate {
		if err := s.sendOffer(); err != nil {
			s.log.Warn().Err(err).Msg("Renegotiation failed")
		}
	}
}

func (s *CallSession) applyToggle() error {
	target := s.wantKind
	if target == s.kind {
		return nil
	}
	switch target {
	case domain.MediaVideo:
		extra, err := s.deps.Media.AcquireLocalMedia(s.ctx, domain.Constraints{Video: true})
		if err != nil {
			s.wantKind = s.kind
			return err
		}
		if s.ctx.Err() != nil {
			extra.Stop()
			return domain.ErrSessionClosed
		}
		for _, t := range extra.RemoveKind(domain.MediaVideo) {
			s.localStream.AddTrack(t)
			if err := s.conn.ReplaceOrAddTrack(s.localStream, t); err != nil {
				return err
			}
		}
		extra.Release()
	case domain.MediaAudio:
		for _, t := range s.localStream.RemoveKind(domain.MediaVideo) {
			if err := s.conn.RemoveTrack(t); err != nil {
				s.log.Warn().Err(err).Msg("Failed to remove video sender")
			}
			t.Stop()
		}
	}
	s.kind = target
	s.publish()
	s.log.Info().Str("kind", string(target)).Msg("Media toggled")
	return s.sendOffer()
}

func (s *CallSession) addRemoteTrack(t domain.Track, streamID string) {
	if s.phase == domain.PhaseEnded {
		t.Stop()
		return
	}
	if s.remoteStream == nil {
		s.remoteStream = domain.NewMediaStream(streamID, t)
	} else {
		s.remoteStream.AddTrack(t)
	}
	s.deps.Surface.Attach(s.surfaceKey(), s.remoteStream)
}

func (s *CallSession) connectionChanged(st domain.ConnectionState) {
	s.log.Debug().Str("state", string(st)).Msg("Connection state changed")
	if st == domain.ConnectionFailed {
		s.terminate(domain.EndConnectionFail)
	}
}

func (s *CallSession) armAnswerTimer() {
	if s.cfg.AnswerTimeout <= 0 {
		return
	}
	stopTimer(s.answerTimer)
	s.answerTimer = time.AfterFunc(s.cfg.AnswerTimeout, func() {
		s.post(func() {
			if s.phase == domain.PhaseDialing || s.phase == domain.PhaseNegotiating {
				s.log.Info().Msg("Answer timeout")
				s.terminate(domain.EndAnswerTimeout)
			}
		})
	})
}

// terminate is the only exit path. It runs once; later calls return at once.
func (s *CallSession) terminate(reason domain.EndReason) {
	if s.phase == domain.PhaseEnded {
		return
	}
	prev := s.phase
	s.phase = domain.PhaseEnded
	stopTimer(s.ringTimer)
	stopTimer(s.answerTimer)

	s.deps.Ringer.Stop()
	if s.localStream != nil {
		s.localStream.Stop()
	}
	if s.remoteStream != nil {
		s.remoteStream.Stop()
	}
	s.deps.Surface.Detach(s.surfaceKey())
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Error closing connection")
		}
	}
	s.held = nil
	s.candidates.drain()

	if s.announced && !reason.Remote() {
		parties := domain.Parties{FromUserID: s.local, ToUserID: s.remote}
		if reason == domain.EndLocalDecline || reason == domain.EndRingTimeout {
			s.send(domain.CallDecline{Parties: parties})
		} else {
			s.send(domain.CallEnd{Parties: parties})
		}
	}
	s.cancel()

	s.stateMu.Lock()
	s.reason = reason
	s.stateMu.Unlock()
	s.publish()

	closers := s.closers
	s.closers = nil
	s.stop()
	s.log.Info().Str("from", string(prev)).Str("reason", string(reason)).Msg("Call ended")
	for _, f := range closers {
		f(reason)
	}
}

func (s *CallSession) advance(next domain.Phase) {
	if !s.phase.CanAdvance(next) {
		s.log.Warn().Str("from", string(s.phase)).Str("to", string(next)).Msg("Refusing phase change")
		return
	}
	s.phase = next
	s.publish()
}

func (s *CallSession) publish() {
	st := domain.CallState{
		Open:       s.phase != domain.PhaseEnded,
		Caller:     s.caller,
		Kind:       s.kind,
		LocalUser:  s.local,
		RemoteUser: s.remote,
		Phase:      s.phase,
	}
	s.stateMu.Lock()
	s.snapshot = st
	s.stateMu.Unlock()
	if s.onState != nil {
		s.onState(st)
	}
}

func (s *CallSession) send(msg domain.Message) {
	if err := s.deps.Transport.Send(context.WithoutCancel(s.ctx), msg); err != nil {
		s.log.Warn().Err(err).Msg("Signaling send failed")
	}
}

func (s *CallSession) route() domain.Route {
	return domain.Route{FromUserID: s.local, ToUserID: s.remote}
}

func (s *CallSession) surfaceKey() string {
	return "call:" + s.remote.String()
}

func opposite(k domain.MediaKind) domain.MediaKind {
	if k == domain.MediaVideo {
		return domain.MediaAudio
	}
	return domain.MediaVideo
}

func kindFromSDP(sdp string) domain.MediaKind {
	if strings.Contains(sdp, "m=video") {
		return domain.MediaVideo
	}
	return domain.MediaAudio
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

type nopRinger struct{}

func (nopRinger) Start() {}
func (nopRinger) Stop()  {}

type nopSurface struct{}

func (nopSurface) Attach(string, *domain.MediaStream) {}
func (nopSurface) Detach(string)                      {}
