package scheduler

import (
	"context"

	"github.com/google/uuid"

	"github.com/ferroflux/ferroflux/internal/blobstore"
	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/telemetry"
	"github.com/ferroflux/ferroflux/internal/ticket"
	"github.com/ferroflux/ferroflux/internal/topology"
)

// Transport drains each node's outbox and delivers to downstream inboxes
// per the topology, preserving refcount invariants (spec §4.4).
type Transport struct {
	router *topology.Router
	topo   *topology.Topology
	queues *ticket.Queues
	store  *blobstore.Store
	logger telemetry.Logger

	nodes map[ecs.Entity]uuid.UUID
	ports map[ecs.Entity]string
}

// NewTransport constructs a transport worker bound to the shared router,
// topology, queues, and blob store.
func NewTransport(router *topology.Router, topo *topology.Topology, queues *ticket.Queues, store *blobstore.Store, logger telemetry.Logger) *Transport {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Transport{
		router: router,
		topo:   topo,
		queues: queues,
		store:  store,
		logger: logger,
		nodes:  make(map[ecs.Entity]uuid.UUID),
		ports:  make(map[ecs.Entity]string),
	}
}

// RegisterOutputPort records the (node uuid, output port) a node entity's
// outbox tickets are emitted from, used to look up topology targets.
func (t *Transport) RegisterOutputPort(node ecs.Entity, id uuid.UUID, outputPort string) {
	t.nodes[node] = id
	t.ports[node] = outputPort
}

// Tick rebuilds the topology cache if dirty, then drains every node's
// outbox, delivering each ticket to every downstream (target, port) pair.
// A ticket with no downstream is dropped with a warning; a ticket with
// multiple downstreams fans out, with refcount incremented once per
// delivery and decremented once for the ticket leaving the outbox.
func (t *Transport) Tick(ctx context.Context) bool {
	t.topo.Rebuild()
	workDone := false
	for node, id := range t.nodes {
		tickets := t.queues.PopOutboxAll(node)
		if len(tickets) == 0 {
			continue
		}
		workDone = true
		port := t.ports[node]
		targets := t.topo.Targets(id, port)
		for _, tk := range tickets {
			if len(targets) == 0 {
				t.logger.Warn(ctx, "dropping ticket with no downstream target", "node", id, "port", port)
				_ = t.store.Decref(ctx, tk.ID)
				continue
			}
			for _, target := range targets {
				t.queues.PushInbox(ctx, t.store, target.Entity, tk)
			}
			// the outbox's own reference is released once every fan-out
			// delivery has taken its new reference.
			_ = t.store.Decref(ctx, tk.ID)
		}
	}
	return workDone
}
