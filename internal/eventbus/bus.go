// Package eventbus implements the hierarchical publish/subscribe bus (spec
// §4.1): four independent bounded broadcast queues, one per channel domain,
// with glob subscriptions and best-effort delivery signaled via Lagged.
package eventbus

import (
	"context"
	"sync"

	"github.com/waddlechat/waddle/internal/event"
)

// DefaultCapacity is the default per-domain queue capacity.
const DefaultCapacity = 1024

// Bus routes published events to matching subscriptions.
type Bus struct {
	domains map[event.Domain]*domainQueue
}

// New creates a Bus with the given per-domain queue capacity. capacity is
// clamped to a minimum of 1.
func New(capacity int) *Bus {
	if capacity < 1 {
		capacity = 1
	}
	b := &Bus{domains: make(map[event.Domain]*domainQueue, len(event.Domains))}
	for _, d := range event.Domains {
		b.domains[d] = newDomainQueue(capacity)
	}
	return b
}

// Publish validates e.Channel's domain and appends it to that domain's
// queue. Publish never blocks.
func (b *Bus) Publish(e event.Event) {
	q, ok := b.domains[e.Channel.Domain()]
	if !ok {
		return
	}
	q.publish(e)
}

// Close terminates the bus; every live subscription's next Recv returns
// ErrChannelClosed once its buffered backlog is drained.
func (b *Bus) Close() {
	for _, q := range b.domains {
		q.close()
	}
}

// Subscribe compiles pattern and returns a Subscription drawing from the
// domain it anchors to, or from all four domain queues if pattern does not
// anchor to a single domain (a fire-hose subscription).
func (b *Bus) Subscribe(pattern string) (*Subscription, error) {
	p, err := event.NewPattern(pattern)
	if err != nil {
		return nil, err
	}
	sub := &Subscription{pattern: p, bus: b}
	if d, ok := p.Domain(); ok {
		sub.cursors = []*cursor{newCursor(b.domains[d])}
	} else {
		sub.cursors = make([]*cursor, 0, len(event.Domains))
		for _, d := range event.Domains {
			sub.cursors = append(sub.cursors, newCursor(b.domains[d]))
		}
	}
	return sub, nil
}

// Subscription is a single subscriber's view into one or more domain
// queues, filtered by its compiled pattern.
type Subscription struct {
	pattern event.Pattern
	bus     *Bus
	cursors []*cursor

	mu   sync.Mutex
	next int // round-robin index across cursors for fairness
}

type cursor struct {
	q   *domainQueue
	pos int64
}

func newCursor(q *domainQueue) *cursor { return &cursor{q: q} }

// Recv blocks until an event matching the subscription's pattern is
// available, the bus is closed, or ctx is canceled. On lag it returns
// *LaggedError and the subscription resumes from the queue head on the
// next call.
func (s *Subscription) Recv(ctx context.Context) (event.Event, error) {
	for {
		s.mu.Lock()
		n := len(s.cursors)
		start := s.next
		s.mu.Unlock()

		anyClosed := true
		for i := 0; i < n; i++ {
			idx := (start + i) % n
			c := s.cursors[idx]
			e, newPos, lost, ok, closed := c.q.tryRead(c.pos)
			if !closed {
				anyClosed = false
			}
			if lost > 0 {
				c.pos = newPos
				s.mu.Lock()
				s.next = (idx + 1) % n
				s.mu.Unlock()
				return event.Event{}, &LaggedError{Count: lost}
			}
			if ok {
				c.pos = newPos
				s.mu.Lock()
				s.next = (idx + 1) % n
				s.mu.Unlock()
				if s.pattern.Match(e.Channel.String()) {
					return e, nil
				}
				// Non-matching event: drop silently, keep scanning.
				i = -1
				continue
			}
		}
		if anyClosed && n > 0 {
			return event.Event{}, ErrChannelClosed
		}

		if err := s.wait(ctx); err != nil {
			return event.Event{}, err
		}
	}
}

// wait blocks until any cursor's queue has new data, is closed, or ctx is
// done.
func (s *Subscription) wait(ctx context.Context) error {
	chans := make([]chan struct{}, 0, len(s.cursors))
	for _, c := range s.cursors {
		chans = append(chans, c.q.waitChan())
	}
	// A generic multi-channel select without reflect: wait on the first by
	// spinning a small fan-in goroutine set, bounded by len(chans) (<=4).
	done := make(chan struct{}, 1)
	var once sync.Once
	signal := func() { once.Do(func() { close(done) }) }
	for _, ch := range chans {
		go func(ch chan struct{}) {
			select {
			case <-ch:
				signal()
			case <-ctx.Done():
			}
		}(ch)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
