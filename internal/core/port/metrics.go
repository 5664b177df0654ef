package port

import "github.com/developer-khadim/Business-nexus/internal/core/domain"

type RelayMetrics interface {
	SocketOpened()
	SocketClosed()
	RoomJoined()
	RoomLeft()
	MessageRouted(event domain.Event)
	MessageRejected(reason string)
}
