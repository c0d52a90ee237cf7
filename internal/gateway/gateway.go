// Package gateway implements the webhook ingress worker (spec §2 "Gateway
// (ingest_webhooks)", §6 "Webhook ingress"): a global MPMC channel of
// (node_uuid, SecureTicket) that external producers (an HTTP listener
// outside the core) push into, drained each tick into the target node's
// outbox so the existing Transport worker fans it out across the topology
// exactly like any other node-produced output.
package gateway

import (
	"context"

	"github.com/google/uuid"

	"github.com/ferroflux/ferroflux/internal/blobstore"
	"github.com/ferroflux/ferroflux/internal/ferrors"
	"github.com/ferroflux/ferroflux/internal/telemetry"
	"github.com/ferroflux/ferroflux/internal/ticket"
	"github.com/ferroflux/ferroflux/internal/topology"
)

type delivery struct {
	node uuid.UUID
	tic  blobstore.SecureTicket
}

// Gateway is the bounded MPMC ingress channel and its draining worker.
type Gateway struct {
	queue  chan delivery
	router *topology.Router
	queues *ticket.Queues
	store  *blobstore.Store
	logger telemetry.Logger
}

// New constructs a Gateway with the given channel capacity (spec §A.2
// "webhook queue capacity").
func New(capacity int, router *topology.Router, queues *ticket.Queues, store *blobstore.Store, logger telemetry.Logger) *Gateway {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Gateway{
		queue:  make(chan delivery, capacity),
		router: router,
		queues: queues,
		store:  store,
		logger: logger,
	}
}

// Push stores payload as new content and enqueues it for delivery to node's
// outbox, returning false (and releasing the ticket immediately) if the
// ingress channel is full — producers outside the core must treat this as
// backpressure, not a silent accept.
func (g *Gateway) Push(ctx context.Context, node uuid.UUID, payload []byte, metadata map[string]string) (uuid.UUID, bool, error) {
	tic, err := g.store.Store(ctx, payload, metadata)
	if err != nil {
		return uuid.UUID{}, false, err
	}
	select {
	case g.queue <- delivery{node: node, tic: tic}:
		return tic.ID, true, nil
	default:
		_ = g.store.Decref(ctx, tic.ID)
		return uuid.UUID{}, false, nil
	}
}

// Tick drains every queued delivery, pushing each onto its target node's
// outbox (or dropping it with a warning if the node is unknown, mirroring
// Transport's own stale-topology drop behavior). Returns whether any
// delivery was processed, for the driving loop's WorkDone accounting.
func (g *Gateway) Tick(ctx context.Context) bool {
	processed := false
	for {
		select {
		case d := <-g.queue:
			g.deliver(ctx, d)
			processed = true
		default:
			return processed
		}
	}
}

func (g *Gateway) deliver(ctx context.Context, d delivery) {
	e, ok := g.router.Resolve(d.node)
	if !ok {
		g.logger.Warn(ctx, "gateway: unknown target node", "node", d.node, "error", ferrors.New(ferrors.NodeMissing, "node %s not registered", d.node))
		_ = g.store.Decref(ctx, d.tic.ID)
		return
	}
	outbox := g.queues.Outbox(e)
	if outbox == nil {
		g.logger.Warn(ctx, "gateway: node has no outbox", "node", d.node)
		_ = g.store.Decref(ctx, d.tic.ID)
		return
	}
	outbox.Push(d.tic)
}
