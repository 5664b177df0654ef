package service

import (
	"context"
	"sync"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
)

// actor runs posted funcs one at a time on its own goroutine. The queue is
// unbounded so transport and connection callbacks never block on a busy
// session.
type actor struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake chan struct{}
	done chan struct{}
}

func newActor() *actor {
	return &actor{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// post enqueues f. It returns false once the actor stopped.
func (a *actor) post(f func()) bool {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return false
	}
	a.queue = append(a.queue, f)
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

// do runs f on the actor and waits for it.
func (a *actor) do(ctx context.Context, f func()) error {
	started, ran := make(chan struct{}), make(chan struct{})
	ok := a.post(func() {
		close(started)
		defer close(ran)
		f()
	})
	if !ok {
		return domain.ErrSessionClosed
	}
	select {
	case <-ran:
		return nil
	case <-a.done:
		// f may be the func that stopped the actor.
		select {
		case <-started:
			<-ran
			return nil
		default:
			return domain.ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop must be called from inside a posted func. Funcs still queued are
// dropped.
func (a *actor) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.stopped = true
	a.queue = nil
	close(a.done)
}

func (a *actor) next() (func(), bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped || len(a.queue) == 0 {
		return nil, false
	}
	f := a.queue[0]
	a.queue[0] = nil
	a.queue = a.queue[1:]
	return f, true
}

func (a *actor) run() {
	for {
		select {
		case <-a.wake:
		case <-a.done:
			return
		}
		for {
			f, ok := a.next()
			if !ok {
				break
			}
			f()
		}
	}
}

func (a *actor) Done() <-chan struct{} {
	return a.done
}
