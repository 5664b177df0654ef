package port

import "github.com/developer-khadim/Business-nexus/internal/core/domain"

// Client is one authenticated socket held by this relay instance.
type Client interface {
	ID() domain.PeerID
	UserID() domain.UserID
	Send(frame []byte) error
	Close() error
}

// ClientRegistry tracks the sockets connected to this relay instance.
type ClientRegistry interface {
	Register(c Client)
	Unregister(c Client)
}
