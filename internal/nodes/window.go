package nodes

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/ferrors"
	"github.com/ferroflux/ferroflux/internal/scheduler"
)

type windowSample struct {
	value float64
	at    time.Time
}

type windowState struct {
	samples []windowSample
}

// dispatchWindow maintains a timed rolling buffer of numeric inputs and
// emits a reduction (count/sum/avg/min/max) over samples still inside
// def.WindowTTL (spec §4.6 "Window / stats"). The inbound payload must be a
// JSON number, or an object with a numeric "value" field.
func (d *Dispatcher) dispatchWindow(ctx context.Context, node ecs.Entity, def Definition, tk scheduler.TicketHandle) bool {
	_, body, traceID, ok := d.popPayload(ctx, tk)
	if !ok {
		return false
	}

	value, perr := extractNumeric(body)
	if perr != nil {
		d.failScript(ctx, def, traceID, body, ferrors.Wrap(ferrors.ScriptError, perr, "window: non-numeric input"))
		return true
	}

	now := time.Now()
	d.winMu.Lock()
	st, ok := d.win[node]
	if !ok {
		st = &windowState{}
		d.win[node] = st
	}
	st.samples = append(st.samples, windowSample{value: value, at: now})
	if def.WindowTTL > 0 {
		cutoff := now.Add(-def.WindowTTL)
		kept := st.samples[:0]
		for _, s := range st.samples {
			if s.at.After(cutoff) {
				kept = append(kept, s)
			}
		}
		st.samples = kept
	}
	samples := append([]windowSample(nil), st.samples...)
	d.winMu.Unlock()

	result := reduce(samples, def.Reduction)
	mergeResult(ctx, d.traceBus(traceID), def.ResultKey, result)

	out, err := marshalResult(result)
	if err != nil {
		d.logger.Warn(ctx, "window: marshal result", "error", err)
		return true
	}
	if err := d.emitGeneric(ctx, node, traceID, out); err != nil {
		d.logger.Warn(ctx, "window: emit failed", "error", err)
	}
	return true
}

func extractNumeric(body []byte) (float64, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case map[string]any:
		if f, ok := n["value"].(float64); ok {
			return f, nil
		}
	}
	return 0, ferrors.New(ferrors.ScriptError, "window: expected a number or {value: number}")
}

func reduce(samples []windowSample, kind string) map[string]any {
	count := len(samples)
	if count == 0 {
		return map[string]any{"count": 0}
	}
	sum := 0.0
	min, max := samples[0].value, samples[0].value
	for _, s := range samples {
		sum += s.value
		if s.value < min {
			min = s.value
		}
		if s.value > max {
			max = s.value
		}
	}
	switch kind {
	case "sum":
		return map[string]any{"count": count, "sum": sum}
	case "avg":
		return map[string]any{"count": count, "avg": sum / float64(count)}
	case "min":
		return map[string]any{"count": count, "min": min}
	case "max":
		return map[string]any{"count": count, "max": max}
	case "count", "":
		return map[string]any{"count": count}
	default:
		return map[string]any{"count": count, "sum": sum, "avg": sum / float64(count), "min": min, "max": max}
	}
}
