package nodes

import (
	"context"

	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/ferrors"
	"github.com/ferroflux/ferroflux/internal/scheduler"
	"github.com/ferroflux/ferroflux/internal/stage"
)

// dispatchHTTPAgent runs the prep substep of the boundary-crossing pipeline
// (spec §4.5) for an HTTP node: it renders templates and spawns a
// ReadyToExecute staging entity. The exec and post substeps are driven
// separately, each tick, by stage.ExecWorker and the post-worker iterating
// pipeline.EachResult — not here — so a slow call never blocks dispatch of
// other nodes' tickets.
func (d *Dispatcher) dispatchHTTPAgent(ctx context.Context, node ecs.Entity, def Definition, tk scheduler.TicketHandle) bool {
	_, body, traceID, ok := d.popPayload(ctx, tk)
	if !ok {
		return false
	}

	bus := d.traceBus(traceID)
	if bus == nil {
		d.logger.Warn(ctx, "http_agent: trace no longer live", "trace", traceID)
		return false
	}

	spec := def.HTTP
	spec.Kind = "http_agent"
	if _, err := stage.Prep(ctx, d.pipeline, node, spec, body, traceID, bus, d.lookupSecret); err != nil {
		d.logger.Warn(ctx, "http_agent: prep failed", "error", ferrors.Wrap(ferrors.Internal, err, "prep"))
		return false
	}
	return true
}
