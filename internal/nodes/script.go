package nodes

import (
	"context"
	"encoding/json"

	"github.com/dop251/goja"

	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/scheduler"
)

// dispatchScript evaluates def.Script with the inbound payload bound as
// `input`, assigns the result to def.ResultKey (or root-merges if the
// result is an object and no key is configured), and emits the script's
// result onward as the new payload (spec §4.6 "Script / transform").
func (d *Dispatcher) dispatchScript(ctx context.Context, node ecs.Entity, def Definition, tk scheduler.TicketHandle) bool {
	_, body, traceID, ok := d.popPayload(ctx, tk)
	if !ok {
		return false
	}

	var input any
	_ = json.Unmarshal(body, &input)

	vm := goja.New()
	_ = vm.Set("input", input)
	val, err := vm.RunString(def.Script)
	if err != nil {
		d.failScript(ctx, def, traceID, body, err)
		return true
	}

	result := val.Export()
	mergeResult(ctx, d.traceBus(traceID), def.ResultKey, result)

	out, err := marshalResult(result)
	if err != nil {
		d.logger.Warn(ctx, "script: marshal result", "error", err)
		return true
	}
	if err := d.emitGeneric(ctx, node, traceID, out); err != nil {
		d.logger.Warn(ctx, "script: emit failed", "error", err)
	}
	return true
}
