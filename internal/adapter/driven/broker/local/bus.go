package local

import (
	"context"
	"errors"
	"sync"

	"github.com/developer-khadim/Business-nexus/internal/core/port"
)

var ErrClosed = errors.New("bus closed")

// Bus delivers in process. It is the default for a single relay instance.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]func(port.Delivery)
	next   int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(port.Delivery))}
}

func (b *Bus) Publish(_ context.Context, d port.Delivery) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, fn := range b.subs {
		fn(d)
	}
	return nil
}

// Subscribe calls fn for every delivery until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, fn func(port.Delivery)) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	clear(b.subs)
	return nil
}
