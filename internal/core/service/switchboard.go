package service

import (
	"context"
	"errors"
	"sync"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var directEvents = []domain.Event{
	domain.EventCallInvite,
	domain.EventCallAccept,
	domain.EventCallDecline,
	domain.EventCallEnd,
	domain.EventOffer,
	domain.EventAnswer,
	domain.EventICE,
}

// Switchboard holds the one direct call an agent may have open. It owns the
// transport subscriptions for direct call traffic and routes each message
// to the session of the party that sent it. All mutations go through its
// own goroutine.
type Switchboard struct {
	*actor

	self domain.UserID
	deps CallDeps
	cfg  CallConfig
	log  zerolog.Logger

	current     *CallSession
	incoming    []func(*CallSession)
	unsubscribe []func()

	subMu sync.Mutex
	subs  map[chan domain.CallState]struct{}
	last  domain.CallState
}

func NewSwitchboard(self domain.UserID, deps CallDeps, cfg CallConfig) *Switchboard {
	b := &Switchboard{
		actor: newActor(),
		self:  self,
		deps:  deps,
		cfg:   cfg,
		log:   log.With().Str("component", "switchboard").Str("user_id", self.String()).Logger(),
		subs:  make(map[chan domain.CallState]struct{}),
		last:  domain.CallState{LocalUser: self, Phase: domain.PhaseIdle},
	}
	for _, ev := range directEvents {
		b.unsubscribe = append(b.unsubscribe, deps.Transport.On(ev, b.route))
	}
	go b.run()
	return b
}

// Dial starts an outgoing call. It fails with domain.ErrBusy while another
// call is open.
func (b *Switchboard) Dial(ctx context.Context, remote domain.UserID, kind domain.MediaKind) (*CallSession, error) {
	if !kind.Valid() {
		return nil, domain.ErrMalformedMessage
	}
	var s *CallSession
	var busy bool
	err := b.do(ctx, func() {
		if b.current != nil {
			busy = true
			return
		}
		s = b.open(remote, kind, true)
	})
	if err != nil {
		// The open may still run once the board gets to it.
		b.post(func() {
			if s != nil {
				s.abandon()
			}
		})
		return nil, err
	}
	if busy {
		return nil, domain.ErrBusy
	}
	if err := s.dial(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// OnIncoming registers h for every call that starts ringing. h runs on its
// own goroutine.
func (b *Switchboard) OnIncoming(h func(*CallSession)) {
	b.post(func() { b.incoming = append(b.incoming, h) })
}

// State returns the latest snapshot. Phase is idle when no call is open.
func (b *Switchboard) State() domain.CallState {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	return b.last
}

// Subscribe streams state snapshots. Slow readers miss intermediate states.
func (b *Switchboard) Subscribe() (<-chan domain.CallState, func()) {
	ch := make(chan domain.CallState, 8)
	b.subMu.Lock()
	b.subs[ch] = struct{}{}
	b.subMu.Unlock()
	return ch, func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
}

// Close ends the open call, if any, and drops the transport subscriptions.
func (b *Switchboard) Close(ctx context.Context) error {
	for _, u := range b.unsubscribe {
		u()
	}
	var cur *CallSession
	err := b.do(ctx, func() {
		cur = b.current
		b.current = nil
		b.stop()
	})
	if cur != nil {
		if endErr := cur.endWith(ctx, domain.EndShutdown); endErr != nil {
			b.log.Warn().Err(endErr).Msg("Error ending call on shutdown")
		}
	}

	b.subMu.Lock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	b.subMu.Unlock()

	if errors.Is(err, domain.ErrSessionClosed) {
		return nil
	}
	return err
}

func (b *Switchboard) route(msg domain.Message) {
	b.post(func() { b.dispatch(msg) })
}

func (b *Switchboard) dispatch(msg domain.Message) {
	from, direct := origin(msg)
	if !direct || from == "" {
		return
	}
	if b.current != nil && b.current.Remote() == from {
		if b.current.Deliver(msg) {
			return
		}
		b.idle()
	}

	var kind domain.MediaKind
	switch m := msg.(type) {
	case domain.CallInvite:
		kind = m.CallType
	case domain.Offer:
		kind = kindFromSDP(m.SDP.SDP)
	default:
		b.log.Debug().Str("event", string(msg.Event())).Str("from", from.String()).Msg("No call for message, dropping")
		return
	}

	if b.current != nil {
		b.log.Info().Str("from", from.String()).Msg("Busy, declining call")
		b.send(domain.CallDecline{Parties: domain.Parties{FromUserID: b.self, ToUserID: from}})
		return
	}

	s := b.open(from, kind, false)
	s.Deliver(msg)
	b.log.Info().Str("from", from.String()).Str("kind", string(kind)).Msg("Incoming call")
	for _, h := range b.incoming {
		go h(s)
	}
}

func (b *Switchboard) open(remote domain.UserID, kind domain.MediaKind, caller bool) *CallSession {
	s := newCallSession(b.deps, b.cfg, callParams{
		local:   b.self,
		remote:  remote,
		kind:    kind,
		caller:  caller,
		onState: b.publish,
		onClose: func(s *CallSession, _ domain.EndReason) {
			b.post(func() {
				if b.current == s {
					b.idle()
				}
			})
		},
	})
	b.current = s
	return s
}

// idle forgets the current call and tells subscribers the line is free.
func (b *Switchboard) idle() {
	b.current = nil
	b.publish(domain.CallState{LocalUser: b.self, Phase: domain.PhaseIdle})
}

func (b *Switchboard) publish(st domain.CallState) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.last = st
	for ch := range b.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

func (b *Switchboard) send(msg domain.Message) {
	if err := b.deps.Transport.Send(context.Background(), msg); err != nil {
		b.log.Warn().Err(err).Msg("Signaling send failed")
	}
}

// origin returns the sending user and whether the message belongs to a
// direct call rather than a room.
func origin(msg domain.Message) (domain.UserID, bool) {
	switch m := msg.(type) {
	case domain.CallInvite:
		return m.FromUserID, true
	case domain.CallAccept:
		return m.FromUserID, true
	case domain.CallDecline:
		return m.FromUserID, true
	case domain.CallEnd:
		return m.FromUserID, true
	case domain.Offer:
		return m.FromUserID, m.Direct()
	case domain.Answer:
		return m.FromUserID, m.Direct()
	case domain.ICECandidateMsg:
		return m.FromUserID, m.Direct()
	}
	return "", false
}
