package port

import (
	"context"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
)

// RosterRepository stores which sockets are in which rooms.
type RosterRepository interface {
	// Join adds peer to room and returns the other members.
	Join(ctx context.Context, room domain.RoomID, peer domain.PeerID) ([]domain.PeerID, error)
	// Leave removes peer from room and returns the remaining members.
	Leave(ctx context.Context, room domain.RoomID, peer domain.PeerID) ([]domain.PeerID, error)
	RoomsOf(ctx context.Context, peer domain.PeerID) ([]domain.RoomID, error)
}
