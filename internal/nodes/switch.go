package nodes

import (
	"context"
	"encoding/json"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/eventbus"
	"github.com/ferroflux/ferroflux/internal/ferrors"
	"github.com/ferroflux/ferroflux/internal/scheduler"
)

const errorLabel = "error"

// dispatchSwitch evaluates def.Script against the inbound payload (bound as
// `input`) and routes only along the edge whose label equals the resulting
// string (spec §4.6 "Logic switch"). Script failures emit a failed trace
// event and route along the "error" label if one exists, else drop.
func (d *Dispatcher) dispatchSwitch(ctx context.Context, node ecs.Entity, def Definition, tk scheduler.TicketHandle) bool {
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

	label := val.String()
	port := def.OutputPort
	if port == "" {
		port = "out"
	}
	if err := d.emitLabeled(ctx, def.ID, port, label, traceID, body); err != nil {
		d.logger.Warn(ctx, "switch: emit failed", "error", err)
	}
	return true
}

// failScript publishes an eventbus.Failed event carrying a ScriptError and,
// if an "error"-labeled edge exists, routes the original payload along it
// (spec §7 ScriptError).
func (d *Dispatcher) failScript(ctx context.Context, def Definition, traceID uuid.UUID, body []byte, cause error) {
	scriptErr := ferrors.Wrap(ferrors.ScriptError, cause, "script evaluation failed")
	d.bus.Publish(ctx, eventbus.Failed, traceID, map[string]any{
		"kind":  string(ferrors.ScriptError),
		"error": scriptErr.Error(),
		"node":  def.ID.String(),
	})
	port := def.OutputPort
	if port == "" {
		port = "out"
	}
	_ = d.emitLabeled(ctx, def.ID, port, errorLabel, traceID, body)
}
