// Package ticket implements the FIFO inbox/outbox queues attached to node
// entities and the pinned-output bookkeeping described in spec §3 and §4.4.
// Tickets themselves (blobstore.SecureTicket) are defined in internal/blobstore;
// this package only orders and routes them.
package ticket

import (
	"sync"

	"github.com/ferroflux/ferroflux/internal/blobstore"
)

// Queue is a thread-safe FIFO of tickets attached to a single entity. Inbox
// is written by the transport worker and popped by the scheduler; Outbox is
// written by stage workers and drained by transport.
type Queue struct {
	mu    sync.Mutex
	items []blobstore.SecureTicket
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends a ticket to the tail.
func (q *Queue) Push(t blobstore.SecureTicket) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()
}

// Pop removes and returns the head ticket, in FIFO order (spec §8 item 4:
// per-node inbox order must be preserved end to end).
func (q *Queue) Pop() (blobstore.SecureTicket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return blobstore.SecureTicket{}, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

// Peek returns the head ticket without removing it.
func (q *Queue) Peek() (blobstore.SecureTicket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return blobstore.SecureTicket{}, false
	}
	return q.items[0], true
}

// Len reports the number of tickets currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether the queue currently holds no tickets.
func (q *Queue) Empty() bool {
	return q.Len() == 0
}

// Drain removes and returns every queued ticket in FIFO order, used by the
// transport worker to sweep a node's outbox each tick.
func (q *Queue) Drain() []blobstore.SecureTicket {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}
