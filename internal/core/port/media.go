package port

import (
	"context"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
)

type MediaEngine interface {
	// AcquireLocalMedia opens the capture devices selected by c. On failure it
	// returns a *domain.MediaAccessError and leaves nothing open.
	AcquireLocalMedia(ctx context.Context, c domain.Constraints) (*domain.MediaStream, error)
	CreateConnection(ctx context.Context, obs ConnectionObserver) (Connection, error)
}

// ConnectionObserver receives connection events. Callbacks may run on any
// goroutine and must not block.
type ConnectionObserver struct {
	OnICECandidate func(c domain.ICECandidate)
	// OnTrack delivers a remote track and the id of the stream it belongs to.
	OnTrack       func(t domain.Track, streamID string)
	OnStateChange func(s domain.ConnectionState)
}

// Connection is one peer connection. Calls on a single Connection must be
// serialized by the owner.
type Connection interface {
	// AttachStream retains stream and sends every track it holds.
	AttachStream(stream *domain.MediaStream) error
	// ReplaceOrAddTrack swaps the sender of the same kind or adds a new one.
	ReplaceOrAddTrack(stream *domain.MediaStream, t domain.Track) error
	RemoveTrack(t domain.Track) error

	CreateOffer() (domain.SessionDescription, error)
	CreateAnswer() (domain.SessionDescription, error)
	SetRemoteDescription(sd domain.SessionDescription) error
	// Rollback discards a local offer that was never answered.
	Rollback() error
	AddICECandidate(c domain.ICECandidate) error

	HasRemoteDescription() bool
	SignalingState() domain.SignalingState
	State() domain.ConnectionState

	// Close tears the connection down: remote tracks are stopped and every
	// attached stream is released. Safe to call more than once.
	Close() error
}
