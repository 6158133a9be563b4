package eventbus

import (
	"sync"

	"github.com/waddlechat/waddle/internal/event"
)

// domainQueue is a single-domain bounded ring buffer broadcast to every
// subscription anchored to (or fire-hosing across) this domain. It is the
// MPMC primitive described in spec §4.1 and §5: publishers never block,
// and slow readers detect their own lag the next time they read.
type domainQueue struct {
	mu     sync.Mutex
	cap    int64
	buf    []event.Event
	next   int64 // total events ever published
	closed bool
	notify chan struct{}
}

func newDomainQueue(capacity int) *domainQueue {
	return &domainQueue{
		cap:    int64(capacity),
		buf:    make([]event.Event, capacity),
		notify: make(chan struct{}),
	}
}

func (q *domainQueue) publish(e event.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.buf[q.next%q.cap] = e
	q.next++
	ch := q.notify
	q.notify = make(chan struct{})
	q.mu.Unlock()
	close(ch)
}

func (q *domainQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	ch := q.notify
	q.mu.Unlock()
	close(ch)
}

// tryRead attempts a non-blocking read at pos. Return values: the event (if
// ok), the reader's new position, the number of events lost (if any), ok
// (an event was returned), and closed (whether the queue has been closed,
// meaningful once ok and lost are both false/0).
func (q *domainQueue) tryRead(pos int64) (e event.Event, newPos int64, lost int, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	oldest := q.next - q.cap
	if oldest < 0 {
		oldest = 0
	}
	if pos < oldest {
		return event.Event{}, oldest, int(oldest - pos), false, q.closed
	}
	if pos >= q.next {
		return event.Event{}, pos, 0, false, q.closed
	}
	return q.buf[pos%q.cap], pos + 1, 0, true, q.closed
}

// waitChan returns the channel that is closed the next time this queue's
// state changes (a publish or a close).
func (q *domainQueue) waitChan() chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.notify
}
