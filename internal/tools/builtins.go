package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/ferroflux/ferroflux/internal/ferrors"
)

// MathTool implements arithmetic on params {a, b, op}.
type MathTool struct{}

func (MathTool) ID() string { return "math" }

func (MathTool) Run(_ context.Context, _ *ToolContext, params map[string]any) (any, error) {
	a, aok := toFloat(params["a"])
	b, bok := toFloat(params["b"])
	if !aok || !bok {
		return nil, ferrors.New(ferrors.ToolError, "math: a and b must be numeric")
	}
	op, _ := params["op"].(string)
	switch op {
	case "add":
		return a + b, nil
	case "sub":
		return a - b, nil
	case "mul":
		return a * b, nil
	case "div":
		if b == 0 {
			return nil, ferrors.New(ferrors.ToolError, "math: division by zero")
		}
		return a / b, nil
	default:
		return nil, ferrors.New(ferrors.ToolError, "math: unknown op %q", op)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// LogTool writes a message, tagged with the trace id, through telemetry.
type LogTool struct{}

func (LogTool) ID() string { return "log" }

func (LogTool) Run(_ context.Context, tc *ToolContext, params map[string]any) (any, error) {
	msg, _ := params["message"].(string)
	if tc != nil && tc.EventBus != nil {
		tc.EventBus.Publish(context.Background(), "log", tc.TraceID, msg)
	}
	return map[string]any{"logged": msg}, nil
}

// JSONQueryTool resolves params["path"] against params["json"]: an RFC 6901
// JSON Pointer ("/foo/bar") when the path starts with "/", otherwise a
// single top-level key lookup — matching json_query.rs's two branches
// exactly (a miss resolves to nil, not an error).
type JSONQueryTool struct{}

func (JSONQueryTool) ID() string { return "json_query" }

func (JSONQueryTool) Run(_ context.Context, _ *ToolContext, params map[string]any) (any, error) {
	path, _ := params["path"].(string)
	doc := params["json"]
	if strings.HasPrefix(path, "/") {
		return jsonPointer(doc, path), nil
	}
	return jsonTopLevelGet(doc, path), nil
}

// jsonPointer walks an RFC 6901 pointer's segments ("~1" -> "/", "~0" -> "~")
// against a decoded JSON value, returning nil on any missing segment or type
// mismatch rather than erroring.
func jsonPointer(doc any, path string) any {
	if path == "/" || path == "" {
		return doc
	}
	cur := doc
	for _, seg := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		seg = strings.NewReplacer("~1", "/", "~0", "~").Replace(seg)
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			cur = v[idx]
		default:
			return nil
		}
	}
	return cur
}

// jsonTopLevelGet is json_query.rs's fallback branch for a path that is not
// pointer-shaped: a single non-recursive key lookup, not a JSONPath query.
func jsonTopLevelGet(doc any, key string) any {
	m, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}

// SetVarTool writes a key into the trace-scoped memory map.
type SetVarTool struct{}

func (SetVarTool) ID() string { return "set_var" }

func (SetVarTool) Run(_ context.Context, tc *ToolContext, params map[string]any) (any, error) {
	key, _ := params["key"].(string)
	if key == "" {
		return nil, ferrors.New(ferrors.ToolError, "set_var: key is required")
	}
	tc.Memory[key] = params["value"]
	return nil, nil
}

// GetVarTool reads a key from the trace-scoped memory map.
type GetVarTool struct{}

func (GetVarTool) ID() string { return "get_var" }

func (GetVarTool) Run(_ context.Context, tc *ToolContext, params map[string]any) (any, error) {
	key, _ := params["key"].(string)
	return tc.Memory[key], nil
}

// SleepTool pauses for the configured duration. Under shadow mode with a
// mask present, Invoke short-circuits this entirely; otherwise it really
// sleeps, honoring ctx cancellation.
type SleepTool struct{}

func (SleepTool) ID() string { return "sleep" }

func (SleepTool) Run(ctx context.Context, _ *ToolContext, params map[string]any) (any, error) {
	ms, _ := toFloat(params["ms"])
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil, nil
	case <-ctx.Done():
		return nil, ferrors.Wrap(ferrors.Timeout, ctx.Err(), "sleep interrupted")
	}
}

// SwitchTool matches params["value"] against params["cases"] (string keyed
// map) and falls back to params["default"].
type SwitchTool struct{}

func (SwitchTool) ID() string { return "switch" }

func (SwitchTool) Run(_ context.Context, _ *ToolContext, params map[string]any) (any, error) {
	value := fmt.Sprintf("%v", params["value"])
	cases, _ := params["cases"].(map[string]any)
	if v, ok := cases[value]; ok {
		return v, nil
	}
	return params["default"], nil
}

// TraceTool emits its params as a log-kind event onto the event bus.
type TraceTool struct{}

func (TraceTool) ID() string { return "trace" }

func (TraceTool) Run(_ context.Context, tc *ToolContext, params map[string]any) (any, error) {
	if tc != nil && tc.EventBus != nil {
		tc.EventBus.Publish(context.Background(), "log", tc.TraceID, params)
	}
	return nil, nil
}

// EmitTool writes a value to the node-invocation-scoped output ports.
type EmitTool struct{}

func (EmitTool) ID() string { return "emit" }

func (EmitTool) Run(_ context.Context, tc *ToolContext, params map[string]any) (any, error) {
	port, _ := params["port"].(string)
	if port == "" {
		port = "out"
	}
	tc.Emit(port, params["value"])
	return nil, nil
}

// RhaiTool evaluates a small script against a scope injected from
// ToolContext.Local. Named "rhai" per the specification's terminology for
// its lightweight scripting layer; backed by github.com/dop251/goja since
// no Rhai interpreter exists in the retrieved corpus (see DESIGN.md).
type RhaiTool struct{}

func (RhaiTool) ID() string { return "rhai" }

func (RhaiTool) Run(ctx context.Context, tc *ToolContext, params map[string]any) (any, error) {
	script, _ := params["script"].(string)
	vm := goja.New()

	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(timeout):
			vm.Interrupt("script execution timeout")
		case <-done:
		}
	}()
	defer close(done)

	if tc != nil {
		for k, v := range tc.Local {
			if err := vm.Set(k, v); err != nil {
				return nil, ferrors.Wrap(ferrors.ScriptError, err, "rhai: binding %q", k)
			}
		}
	}

	val, err := vm.RunString(script)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ScriptError, err, "rhai: script failed")
	}
	return val.Export(), nil
}
