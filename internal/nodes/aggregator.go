package nodes

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/scheduler"
)

// aggregatorState buffers inputs for one aggregator node between emissions.
type aggregatorState struct {
	items       []any
	lastTraceID uuid.UUID
}

// dispatchAggregator collects def.WindowSize inputs into an array, emitting
// once full (spec §4.6 "Aggregator"). Aggregation spans whichever traces
// happen to land on this node; the emitted ticket carries the most recently
// arrived trace id, matching a fan-in join across branches.
func (d *Dispatcher) dispatchAggregator(ctx context.Context, node ecs.Entity, def Definition, tk scheduler.TicketHandle) bool {
	_, body, traceID, ok := d.popPayload(ctx, tk)
	if !ok {
		return false
	}

	var input any
	_ = json.Unmarshal(body, &input)

	d.aggMu.Lock()
	st, ok := d.agg[node]
	if !ok {
		st = &aggregatorState{}
		d.agg[node] = st
	}
	st.items = append(st.items, input)
	st.lastTraceID = traceID
	full := def.WindowSize > 0 && len(st.items) >= def.WindowSize
	var flushed []any
	if full {
		flushed = st.items
		st.items = nil
	}
	d.aggMu.Unlock()

	if full {
		d.emitAggregated(ctx, node, traceID, flushed)
	}
	return true
}

func (d *Dispatcher) emitAggregated(ctx context.Context, node ecs.Entity, traceID uuid.UUID, items []any) {
	out, err := marshalResult(items)
	if err != nil {
		d.logger.Warn(ctx, "aggregator: marshal result", "error", err)
		return
	}
	if err := d.emitGeneric(ctx, node, traceID, out); err != nil {
		d.logger.Warn(ctx, "aggregator: emit failed", "error", err)
	}
}

// FlushAggregators emits every aggregator node's partial window as-is. Per
// the decision to flush rather than discard on shutdown (spec §7 Open
// Questions), the driving loop calls this once before tearing down; trace
// cancellation does not trigger a flush.
func (d *Dispatcher) FlushAggregators(ctx context.Context) {
	d.aggMu.Lock()
	pending := make(map[ecs.Entity]*aggregatorState, len(d.agg))
	for node, st := range d.agg {
		if len(st.items) == 0 {
			continue
		}
		pending[node] = st
		d.agg[node] = &aggregatorState{}
	}
	d.aggMu.Unlock()

	for node, st := range pending {
		d.emitAggregated(ctx, node, st.lastTraceID, st.items)
	}
}
