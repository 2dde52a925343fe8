package chathub

import (
	"context"
	"sync"
)

// PresenceListener receives presence transitions in the order they happened.
type PresenceListener func(ctx context.Context, t Transition)

// Presence derives online state from the Registry and fans transitions out
// to listeners from its own goroutine. The queue is unbounded so the
// registry never waits on a listener (a slow store write must not stall a
// new login).
type Presence struct {
	registry *Registry

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Transition
	closed    bool
	listeners []PresenceListener
}

// NewPresence attaches a tracker to registry. Listeners must be subscribed
// before Run is started.
func NewPresence(registry *Registry) *Presence {
	p := &Presence{registry: registry}
	p.cond = sync.NewCond(&p.mu)
	registry.notify = p.enqueue
	return p
}

func (p *Presence) IsOnline(userID string) bool {
	return p.registry.IsOnline(userID)
}

func (p *Presence) OnlineUsers() []string {
	return p.registry.OnlineUsers()
}

func (p *Presence) Subscribe(fn PresenceListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Presence) enqueue(t Transition) {
	p.mu.Lock()
	p.queue = append(p.queue, t)
	p.mu.Unlock()
	p.cond.Signal()
}

// next blocks until a transition is queued or the tracker is stopped.
func (p *Presence) next() (Transition, []PresenceListener, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return Transition{}, nil, false
	}
	t := p.queue[0]
	p.queue[0] = Transition{}
	p.queue = p.queue[1:]
	return t, p.listeners, true
}

// Run delivers queued transitions until ctx is cancelled.
func (p *Presence) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cond.Broadcast()
	})
	defer stop()

	for {
		t, listeners, ok := p.next()
		if !ok {
			return
		}
		for _, fn := range listeners {
			fn(ctx, t)
		}
	}
}
