package ws

import (
	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/developer-khadim/Business-nexus/internal/core/port"
	"github.com/rs/zerolog/log"
)

// Hub owns the sockets connected to this relay instance and writes
// deliveries to them. It implements port.ClientRegistry.
type Hub struct {
	clients map[domain.PeerID]port.Client
	byUser  map[domain.UserID]map[domain.PeerID]port.Client

	register   chan port.Client
	unregister chan port.Client
	deliver    chan port.Delivery
	count      chan chan int
	quit       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[domain.PeerID]port.Client),
		byUser:     make(map[domain.UserID]map[domain.PeerID]port.Client),
		register:   make(chan port.Client),
		unregister: make(chan port.Client),
		deliver:    make(chan port.Delivery, 256),
		count:      make(chan chan int),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			for id, client := range h.clients {
				client.Close()
				delete(h.clients, id)
			}
			clear(h.byUser)
			return

		case client := <-h.register:
			h.add(client)
			log.Debug().Str("socket_id", client.ID().String()).Msg("Client registered")

		case client := <-h.unregister:
			if _, ok := h.clients[client.ID()]; ok {
				h.drop(client)
				log.Debug().Str("socket_id", client.ID().String()).Msg("Client unregistered")
			}

		case d := <-h.deliver:
			h.write(d)

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

func (h *Hub) Register(c port.Client) {
	select {
	case h.register <- c:
	case <-h.quit:
	}
}

func (h *Hub) Unregister(c port.Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Deliver queues d for the sockets it addresses. Deliveries for sockets on
// other instances are ignored.
func (h *Hub) Deliver(d port.Delivery) {
	select {
	case h.deliver <- d:
	case <-h.quit:
	}
}

func (h *Hub) Count() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.quit:
		return 0
	}
}

func (h *Hub) Stop() {
	close(h.quit)
}

func (h *Hub) add(c port.Client) {
	h.clients[c.ID()] = c
	sockets, ok := h.byUser[c.UserID()]
	if !ok {
		sockets = make(map[domain.PeerID]port.Client)
		h.byUser[c.UserID()] = sockets
	}
	sockets[c.ID()] = c
}

func (h *Hub) drop(c port.Client) {
	delete(h.clients, c.ID())
	if sockets, ok := h.byUser[c.UserID()]; ok {
		delete(sockets, c.ID())
		if len(sockets) == 0 {
			delete(h.byUser, c.UserID())
		}
	}
	c.Close()
}

func (h *Hub) write(d port.Delivery) {
	var targets []port.Client
	switch {
	case d.ToSocket != "":
		if c, ok := h.clients[d.ToSocket]; ok {
			targets = append(targets, c)
		}
	case d.ToUser != "":
		for id, c := range h.byUser[d.ToUser] {
			if id != d.Except {
				targets = append(targets, c)
			}
		}
	}
	for _, c := range targets {
		if err := c.Send(d.Frame); err != nil {
			log.Error().Err(err).Str("socket_id", c.ID().String()).Msg("Error sending frame, dropping client")
			h.drop(c)
		}
	}
}
