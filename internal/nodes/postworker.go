package nodes

import (
	"context"

	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/stage"
)

// PostTick drives the post substep (spec §4.5 step 3) for every staging
// entity that has an ExecutionResult waiting: it resolves the owning node
// and the trace's flow bus, then calls stage.Post. Returns whether any
// entity was processed, for the driving loop's WorkDone accounting.
func (d *Dispatcher) PostTick(ctx context.Context) bool {
	var pending []ecs.Entity
	d.pipeline.EachResult(func(e ecs.Entity, _ stage.ExecutionResult) {
		pending = append(pending, e)
	})
	if len(pending) == 0 {
		return false
	}
	for _, e := range pending {
		result, ok := d.pipeline.Result(e)
		if !ok {
			continue
		}
		node, ok := d.pipeline.OwnerNode(e)
		if !ok {
			d.pipeline.Finish(e)
			continue
		}
		if d.traces.IsCancelled(result.Context.TraceID) {
			// The boundary-crossing call ran to completion, but the trace it
			// belongs to was cancelled before agent_post — drop the result
			// instead of merging it onto the flow bus or routing it onward
			// (spec §4.7 "Cancellation", spec §8 scenario 6).
			d.pipeline.Finish(e)
			continue
		}
		bus := d.traceBus(result.Context.TraceID)
		if bus == nil {
			d.pipeline.Finish(e)
			continue
		}
		if err := stage.Post(ctx, d.pipeline, d.store, d.queues, node, bus, e); err != nil {
			d.logger.Warn(ctx, "post: failed", "error", err)
		}
	}
	return true
}
