package port

import (
	"context"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
)

// Handler receives one decoded inbound signaling message.
type Handler func(msg domain.Message)

// SignalingTransport is the agent's channel to the relay. Sends are
// at-most-once and never retried. Handlers for one event run in delivery
// order; the returned func removes the handler.
type SignalingTransport interface {
	Send(ctx context.Context, msg domain.Message) error
	On(event domain.Event, h Handler) (unsubscribe func())
}

// Delivery is a frame on its way to one socket or to every socket of a user.
type Delivery struct {
	ToSocket domain.PeerID `json:"toSocket,omitempty"`
	ToUser   domain.UserID `json:"toUser,omitempty"`
	// Except skips one socket when delivering to a user.
	Except domain.PeerID `json:"except,omitempty"`
	Frame  []byte        `json:"frame"`
}

// SignalBus carries deliveries between relay instances. Every instance
// subscribes and hands deliveries to its local sockets.
type SignalBus interface {
	Publish(ctx context.Context, d Delivery) error
	Subscribe(ctx context.Context, fn func(Delivery)) error
	Close() error
}
