package nodes

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dop251/goja"

	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/ferrors"
	"github.com/ferroflux/ferroflux/internal/scheduler"
)

// dispatchWasmCompute executes def.Script in a sandboxed goja runtime under
// a wall-clock budget (spec §4.6 "WASM compute"). The module is named for a
// wazero-backed WASM engine per the unified-sandbox decision recorded in
// DESIGN.md; swapping the interpreter later only touches this file.
func (d *Dispatcher) dispatchWasmCompute(ctx context.Context, node ecs.Entity, def Definition, tk scheduler.TicketHandle) bool {
	_, body, traceID, ok := d.popPayload(ctx, tk)
	if !ok {
		return false
	}

	var input any
	_ = json.Unmarshal(body, &input)

	vm := goja.New()
	_ = vm.Set("input", input)

	timeout := def.ComputeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(timeout):
			vm.Interrupt("wasmcompute: budget exceeded")
		case <-done:
		}
	}()

	val, err := vm.RunString(def.Script)
	close(done)
	if err != nil {
		d.failScript(ctx, def, traceID, body, ferrors.Wrap(ferrors.ScriptError, err, "wasmcompute: execution failed"))
		return true
	}

	result := val.Export()
	mergeResult(ctx, d.traceBus(traceID), def.ResultKey, result)

	out, err := marshalResult(result)
	if err != nil {
		d.logger.Warn(ctx, "wasmcompute: marshal result", "error", err)
		return true
	}
	if err := d.emitGeneric(ctx, node, traceID, out); err != nil {
		d.logger.Warn(ctx, "wasmcompute: emit failed", "error", err)
	}
	return true
}
