package http

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("send buffer full")
)

// WSClient is one relay socket. It implements port.Client; frames are
// queued and written by a single pump goroutine.
type WSClient struct {
	id     domain.PeerID
	userID domain.UserID
	conn   *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn, user domain.UserID) *WSClient {
	return &WSClient{
		id:     domain.NewPeerID(),
		userID: user,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *WSClient) ID() domain.PeerID {
	return c.id
}

func (c *WSClient) UserID() domain.UserID {
	return c.userID
}

// Send queues frame. A client that cannot keep up gets errSendBufferFull and
// is dropped by the hub.
func (c *WSClient) Send(frame []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		return errSendBufferFull
	}
}

func (c *WSClient) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *WSClient) writePump(l zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				l.Debug().Err(err).Msg("Write failed")
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

// checkOrigin accepts requests without an Origin header, which browsers
// always send and agents do not.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.opts.AllowedOrigins, "*") || slices.Contains(h.opts.AllowedOrigins, origin)
}

func (h *Handler) authenticate(r *http.Request) (domain.UserID, error) {
	if h.auth == nil {
		user := r.URL.Query().Get("userId")
		if user == "" {
			return "", errors.New("userId query parameter required")
		}
		return domain.UserID(user), nil
	}
	token := r.URL.Query().Get("token")
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		token = bearer
	}
	if token == "" {
		return "", errors.New("missing token")
	}
	return h.auth.Verify(token, h.now())
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	user, err := h.authenticate(r)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Rejected websocket")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := newWSClient(conn, user)
	l := log.With().Str("socket_id", client.ID().String()).Str("user_id", user.String()).Logger()

	h.relay.Connect(client)
	go client.writePump(l)

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.relay.Disconnect(ctx, client)
		client.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := h.limiter()
	ctx := context.WithoutCancel(r.Context())
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}
		if !limiter.Allow() {
			h.metrics.MessageRejected("rate_limited")
			l.Warn().Msg("Rate limit exceeded, dropping message")
			continue
		}
		msg, err := domain.DecodeEnvelope(frame)
		if err != nil {
			h.metrics.MessageRejected("malformed")
			l.Warn().Err(err).Msg("Dropping malformed message")
			continue
		}
		if err := h.relay.Handle(ctx, client, msg); err != nil {
			l.Warn().Err(err).Str("event", string(msg.Event())).Msg("Failed to route message")
		}
	}
}
