package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/developer-khadim/Business-nexus/internal/core/port"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type ClientConfig struct {
	URL          string
	Token        string
	WriteTimeout time.Duration
	PingInterval time.Duration
}

type subscription struct {
	id int
	h  port.Handler
}

// Client is the agent side of the signaling socket. It implements
// port.SignalingTransport.
type Client struct {
	cfg  ClientConfig
	conn *websocket.Conn

	writeMu sync.Mutex

	mu       sync.RWMutex
	handlers map[domain.Event][]subscription
	nextID   int

	closeOnce sync.Once
	done      chan struct{}
}

func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:      cfg,
		conn:     conn,
		handlers: make(map[domain.Event][]subscription),
		done:     make(chan struct{}),
	}, nil
}

func (c *Client) Send(ctx context.Context, msg domain.Message) error {
	frame, err := domain.EncodeEnvelope(msg)
	if err != nil {
		return &domain.SignalingDeliveryError{Event: msg.Event(), Err: err}
	}
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return &domain.SignalingDeliveryError{Event: msg.Event(), Err: err}
	}
	log.Debug().Str("event", string(msg.Event())).Msg("Signal sent")
	return nil
}

func (c *Client) On(event domain.Event, h port.Handler) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[event] = append(c.handlers[event], subscription{id: id, h: h})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.handlers[event]
		for i, s := range subs {
			if s.id == id {
				c.handlers[event] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Run reads frames until the socket closes or ctx is done. Frames that fail
// to decode are logged and skipped.
func (c *Client) Run(ctx context.Context) error {
	pongWait := 2 * c.cfg.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.keepalive(ctx)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			_ = c.Close()
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		msg, err := domain.DecodeEnvelope(frame)
		if err != nil {
			log.Warn().Err(err).Msg("Dropping signaling frame")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg domain.Message) {
	c.mu.RLock()
	subs := append([]subscription(nil), c.handlers[msg.Event()]...)
	c.mu.RUnlock()
	if len(subs) == 0 {
		log.Debug().Str("event", string(msg.Event())).Msg("No handler for signal")
	}
	for _, s := range subs {
		s.h(msg)
	}
}

func (c *Client) keepalive(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				log.Warn().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
