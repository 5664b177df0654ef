package service

import (
	"context"
	"fmt"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/developer-khadim/Business-nexus/internal/core/port"
	"github.com/rs/zerolog/log"
)

// Relay is the server half of signaling. It stamps the sender on call and
// negotiation traffic, forwards it to the addressed socket or user, and keeps
// room rosters.
type Relay struct {
	registry port.ClientRegistry
	rosters  port.RosterRepository
	bus      port.SignalBus
	metrics  port.RelayMetrics
}

func NewRelay(registry port.ClientRegistry, rosters port.RosterRepository, bus port.SignalBus, metrics port.RelayMetrics) *Relay {
	return &Relay{
		registry: registry,
		rosters:  rosters,
		bus:      bus,
		metrics:  metrics,
	}
}

func (r *Relay) Connect(c port.Client) {
	r.registry.Register(c)
	r.metrics.SocketOpened()
	log.Info().Str("socket_id", c.ID().String()).Str("user_id", c.UserID().String()).Msg("Socket connected")
}

// Disconnect removes c from every room it was in and tells the remaining
// members.
func (r *Relay) Disconnect(ctx context.Context, c port.Client) {
	rooms, err := r.rosters.RoomsOf(ctx, c.ID())
	if err != nil {
		log.Error().Err(err).Str("socket_id", c.ID().String()).Msg("Failed to list rooms of socket")
	}
	for _, room := range rooms {
		if err := r.leave(ctx, c, room); err != nil {
			log.Error().Err(err).Str("room_id", room.String()).Msg("Failed to leave room on disconnect")
		}
	}
	r.registry.Unregister(c)
	r.metrics.SocketClosed()
	log.Info().Str("socket_id", c.ID().String()).Msg("Socket disconnected")
}

// Handle routes one message received from c.
func (r *Relay) Handle(ctx context.Context, c port.Client, msg domain.Message) error {
	var err error
	switch m := msg.(type) {
	case domain.CallInvite:
		m.FromUserID = c.UserID()
		err = r.toUser(ctx, c, m.ToUserID, m)
	case domain.CallAccept:
		m.FromUserID = c.UserID()
		err = r.toUser(ctx, c, m.ToUserID, m)
	case domain.CallDecline:
		m.FromUserID = c.UserID()
		err = r.toUser(ctx, c, m.ToUserID, m)
	case domain.CallEnd:
		m.FromUserID = c.UserID()
		err = r.toUser(ctx, c, m.ToUserID, m)
	case domain.Offer:
		m.Route = stamp(m.Route, c)
		err = r.toRoute(ctx, c, m.Route, m)
	case domain.Answer:
		m.Route = stamp(m.Route, c)
		err = r.toRoute(ctx, c, m.Route, m)
	case domain.ICECandidateMsg:
		m.Route = stamp(m.Route, c)
		err = r.toRoute(ctx, c, m.Route, m)
	case domain.RoomJoin:
		err = r.join(ctx, c, m.RoomID)
	case domain.RoomLeave:
		err = r.leave(ctx, c, m.RoomID)
	default:
		r.metrics.MessageRejected("server_only")
		return fmt.Errorf("%w: %s is sent by the relay only", domain.ErrUnknownEvent, msg.Event())
	}
	if err != nil {
		r.metrics.MessageRejected("delivery")
		return err
	}
	r.metrics.MessageRouted(msg.Event())
	return nil
}

func (r *Relay) join(ctx context.Context, c port.Client, room domain.RoomID) error {
	others, err := r.rosters.Join(ctx, room, c.ID())
	if err != nil {
		return fmt.Errorf("join room %s: %w", room, err)
	}
	r.metrics.RoomJoined()
	if others == nil {
		others = []domain.PeerID{}
	}
	if err := r.toSocket(ctx, c.ID(), domain.RoomUsers{RoomID: room, Users: others}); err != nil {
		return err
	}
	joined := domain.RoomUserJoined{RoomID: room, SocketID: c.ID(), UserID: c.UserID()}
	for _, peer := range others {
		if err := r.toSocket(ctx, peer, joined); err != nil {
			log.Warn().Err(err).Str("socket_id", peer.String()).Msg("Failed to announce join")
		}
	}
	log.Info().Str("room_id", room.String()).Str("socket_id", c.ID().String()).Int("members", len(others)+1).Msg("Socket joined room")
	return nil
}

func (r *Relay) leave(ctx context.Context, c port.Client, room domain.RoomID) error {
	remaining, err := r.rosters.Leave(ctx, room, c.ID())
	if err != nil {
		return fmt.Errorf("leave room %s: %w", room, err)
	}
	r.metrics.RoomLeft()
	left := domain.RoomUserLeft{RoomID: room, SocketID: c.ID(), UserID: c.UserID()}
	for _, peer := range remaining {
		if err := r.toSocket(ctx, peer, left); err != nil {
			log.Warn().Err(err).Str("socket_id", peer.String()).Msg("Failed to announce leave")
		}
	}
	log.Info().Str("room_id", room.String()).Str("socket_id", c.ID().String()).Msg("Socket left room")
	return nil
}

func (r *Relay) toRoute(ctx context.Context, from port.Client, route domain.Route, msg domain.Message) error {
	if route.ToSocketID != "" {
		return r.toSocket(ctx, route.ToSocketID, msg)
	}
	return r.toUser(ctx, from, route.ToUserID, msg)
}

func (r *Relay) toSocket(ctx context.Context, id domain.PeerID, msg domain.Message) error {
	frame, err := domain.EncodeEnvelope(msg)
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, port.Delivery{ToSocket: id, Frame: frame})
}

// toUser reaches every socket of user except the sending one.
func (r *Relay) toUser(ctx context.Context, from port.Client, user domain.UserID, msg domain.Message) error {
	frame, err := domain.EncodeEnvelope(msg)
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, port.Delivery{ToUser: user, Except: from.ID(), Frame: frame})
}

func stamp(route domain.Route, c port.Client) domain.Route {
	route.FromUserID = c.UserID()
	route.FromSocketID = c.ID()
	return route
}
