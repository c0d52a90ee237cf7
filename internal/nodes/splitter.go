package nodes

import (
	"context"
	"encoding/json"

	"github.com/PaesslerAG/jsonpath"

	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/ferrors"
	"github.com/ferroflux/ferroflux/internal/scheduler"
)

// dispatchSplitter emits one ticket per element of the array selected by
// def.SplitPath (or the whole payload, if unset), every ticket sharing the
// original trace id (spec §4.6 "Splitter").
func (d *Dispatcher) dispatchSplitter(ctx context.Context, node ecs.Entity, def Definition, tk scheduler.TicketHandle) bool {
	_, body, traceID, ok := d.popPayload(ctx, tk)
	if !ok {
		return false
	}

	var input any
	if err := json.Unmarshal(body, &input); err != nil {
		d.failScript(ctx, def, traceID, body, ferrors.Wrap(ferrors.ScriptError, err, "splitter: invalid JSON"))
		return true
	}

	if def.SplitPath != "" {
		selected, err := jsonpath.Get(def.SplitPath, input)
		if err != nil {
			d.failScript(ctx, def, traceID, body, ferrors.Wrap(ferrors.ScriptError, err, "splitter: path %q", def.SplitPath))
			return true
		}
		input = selected
	}

	items, ok := input.([]any)
	if !ok {
		d.failScript(ctx, def, traceID, body, ferrors.New(ferrors.ScriptError, "splitter: selected value is not an array"))
		return true
	}

	for _, item := range items {
		out, err := marshalResult(item)
		if err != nil {
			d.logger.Warn(ctx, "splitter: marshal element", "error", err)
			continue
		}
		if err := d.emitGeneric(ctx, node, traceID, out); err != nil {
			d.logger.Warn(ctx, "splitter: emit failed", "error", err)
		}
	}
	return true
}
