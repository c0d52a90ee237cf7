package ticket

import (
	"context"
	"sync"

	"github.com/ferroflux/ferroflux/internal/blobstore"
	"github.com/ferroflux/ferroflux/internal/ecs"
)

// Queues owns the Inbox and Outbox components for every node entity. Nodes
// are registered once at graph-load time; lookups thereafter never allocate.
type Queues struct {
	inbox  *ecs.Store[*Queue]
	outbox *ecs.Store[*Queue]
}

// NewQueues constructs an empty inbox/outbox component table.
func NewQueues() *Queues {
	return &Queues{
		inbox:  ecs.NewStore[*Queue](),
		outbox: ecs.NewStore[*Queue](),
	}
}

// Register attaches a fresh, empty inbox and outbox to a node entity. Safe to
// call again for the same entity (e.g. on graph reload); existing queues and
// their contents are left untouched.
func (q *Queues) Register(e ecs.Entity) {
	if !q.inbox.Has(e) {
		q.inbox.Set(e, NewQueue())
	}
	if !q.outbox.Has(e) {
		q.outbox.Set(e, NewQueue())
	}
}

// Inbox returns the inbox queue for e, or nil if e was never registered.
func (q *Queues) Inbox(e ecs.Entity) *Queue {
	v, _ := q.inbox.Get(e)
	return v
}

// Outbox returns the outbox queue for e, or nil if e was never registered.
func (q *Queues) Outbox(e ecs.Entity) *Queue {
	v, _ := q.outbox.Get(e)
	return v
}

// PushInbox enqueues a ticket into e's inbox, incrementing its blobstore
// refcount to account for the new live reference (spec §3 refcount invariant).
func (q *Queues) PushInbox(ctx context.Context, store *blobstore.Store, e ecs.Entity, t blobstore.SecureTicket) {
	ib := q.Inbox(e)
	if ib == nil {
		return
	}
	_ = store.Incref(ctx, t.ID)
	ib.Push(t)
}

// PopOutboxAll drains every ticket currently queued in e's outbox. Callers
// (the transport worker) are responsible for the corresponding decref once
// the ticket lands in its downstream inbox(es) or is dropped.
func (q *Queues) PopOutboxAll(e ecs.Entity) []blobstore.SecureTicket {
	ob := q.Outbox(e)
	if ob == nil {
		return nil
	}
	return ob.Drain()
}

// PinnedOutputs tracks tickets a user has deliberately pinned, by the node
// entity that produced them (spec §3 PinnedOutput). Pinning is a user-facing
// durability promise independent of the producing node's own inbox/outbox
// state, so it is tracked separately rather than as a third queue.
type PinnedOutputs struct {
	mu      sync.RWMutex
	byNode  map[ecs.Entity][]blobstore.SecureTicket
}

// NewPinnedOutputs constructs an empty pinned-output table.
func NewPinnedOutputs() *PinnedOutputs {
	return &PinnedOutputs{byNode: make(map[ecs.Entity][]blobstore.SecureTicket)}
}

// Pin records t as pinned output of node e and marks it exempt from GC in
// the blob store.
func (p *PinnedOutputs) Pin(ctx context.Context, store *blobstore.Store, e ecs.Entity, t blobstore.SecureTicket) error {
	if err := store.Pin(ctx, t.ID); err != nil {
		return err
	}
	p.mu.Lock()
	p.byNode[e] = append(p.byNode[e], t)
	p.mu.Unlock()
	return nil
}

// For returns every ticket pinned against node e, most recent last.
func (p *PinnedOutputs) For(e ecs.Entity) []blobstore.SecureTicket {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]blobstore.SecureTicket, len(p.byNode[e]))
	copy(out, p.byNode[e])
	return out
}
