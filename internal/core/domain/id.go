package domain

import (
	"github.com/google/uuid"
)

// UserID identifies an account on the platform backend.
type UserID string

// PeerID identifies one signaling connection (a "socket") on the relay.
// A user may hold several at once.
type PeerID string

type RoomID string
type MeetingID string

func NewPeerID() PeerID {
	return PeerID(uuid.New().String())
}

func NewStreamID() string {
	return uuid.New().String()
}

func (id UserID) String() string {
	return string(id)
}

func (id PeerID) String() string {
	return string(id)
}

func (id RoomID) String() string {
	return string(id)
}

func (id MeetingID) String() string {
	return string(id)
}
