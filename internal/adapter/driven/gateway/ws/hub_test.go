package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/developer-khadim/Business-nexus/internal/core/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	id   domain.PeerID
	user domain.UserID
	fail error

	mu     sync.Mutex
	frames []string
	closed bool
}

func (c *stubClient) ID() domain.PeerID     { return c.id }
func (c *stubClient) UserID() domain.UserID { return c.user }

func (c *stubClient) Send(frame []byte) error {
	if c.fail != nil {
		return c.fail
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, string(frame))
	return nil
}

func (c *stubClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubClient) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func (c *stubClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func TestHub_DeliverBySocketAndUser(t *testing.T) {
	h := startHub(t)
	a1 := &stubClient{id: "a1", user: "alice"}
	a2 := &stubClient{id: "a2", user: "alice"}
	b1 := &stubClient{id: "b1", user: "bob"}
	for _, c := range []*stubClient{a1, a2, b1} {
		h.Register(c)
	}
	require.Equal(t, 3, h.Count())

	h.Deliver(port.Delivery{ToSocket: "b1", Frame: []byte("one")})
	h.Deliver(port.Delivery{ToUser: "alice", Except: "a2", Frame: []byte("two")})
	h.Deliver(port.Delivery{ToUser: "alice", Frame: []byte("three")})
	h.Deliver(port.Delivery{ToSocket: "elsewhere", Frame: []byte("four")})
	h.Deliver(port.Delivery{ToSocket: "b1", Frame: []byte("five")})

	require.Eventually(t, func() bool { return len(b1.received()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"one", "five"}, b1.received())
	assert.Equal(t, []string{"two", "three"}, a1.received())
	assert.Equal(t, []string{"three"}, a2.received())
}

func TestHub_DropsFailingClient(t *testing.T) {
	h := startHub(t)
	bad := &stubClient{id: "x", user: "bob", fail: errors.New("buffer full")}
	h.Register(bad)

	h.Deliver(port.Delivery{ToUser: "bob", Frame: []byte("hi")})
	assert.Eventually(t, func() bool { return h.Count() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, bad.isClosed())
}

func TestHub_UnregisterAndStop(t *testing.T) {
	h := NewHub()
	go h.Run()
	a := &stubClient{id: "a", user: "alice"}
	b := &stubClient{id: "b", user: "bob"}
	h.Register(a)
	h.Register(b)

	h.Unregister(a)
	h.Unregister(a)
	assert.Equal(t, 1, h.Count())
	assert.True(t, a.isClosed())

	h.Stop()
	assert.Eventually(t, b.isClosed, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.Count())
	h.Register(&stubClient{id: "late"})
}
