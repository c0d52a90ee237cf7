package tools

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMathTool(t *testing.T) {
	tc := NewToolContext(uuid.New(), nil, nil)
	result, err := Invoke(context.Background(), MathTool{}, tc, map[string]any{"a": 3.0, "b": 4.0, "op": "mul"})
	require.NoError(t, err)
	assert.Equal(t, 12.0, result)
}

func TestMathToolDivisionByZero(t *testing.T) {
	tc := NewToolContext(uuid.New(), nil, nil)
	_, err := Invoke(context.Background(), MathTool{}, tc, map[string]any{"a": 1.0, "b": 0.0, "op": "div"})
	assert.Error(t, err)
}

func TestSwitchToolDefaultFallback(t *testing.T) {
	tc := NewToolContext(uuid.New(), nil, nil)
	result, err := Invoke(context.Background(), SwitchTool{}, tc, map[string]any{
		"value":   "z",
		"cases":   map[string]any{"a": 1.0},
		"default": "fallback",
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback", result)
}

func TestEmitToolWritesOutputs(t *testing.T) {
	tc := NewToolContext(uuid.New(), nil, nil)
	_, err := Invoke(context.Background(), EmitTool{}, tc, map[string]any{"port": "out", "value": 42.0})
	require.NoError(t, err)
	assert.Equal(t, 42.0, tc.Outputs()["out"])
}

func TestSetVarGetVarRoundTrip(t *testing.T) {
	tc := NewToolContext(uuid.New(), nil, nil)
	_, err := Invoke(context.Background(), SetVarTool{}, tc, map[string]any{"key": "k", "value": "v"})
	require.NoError(t, err)

	got, err := Invoke(context.Background(), GetVarTool{}, tc, map[string]any{"key": "k"})
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestRhaiToolEvaluatesScriptWithBoundLocal(t *testing.T) {
	tc := NewToolContext(uuid.New(), nil, nil)
	tc.Local["input"] = map[string]any{"v": 5.0}
	result, err := Invoke(context.Background(), RhaiTool{}, tc, map[string]any{"script": "input.v > 3"})
	require.NoError(t, err)
	assert.Equal(t, true, result)
}

func TestShadowModeShortCircuitsNoRealSleep(t *testing.T) {
	tc := NewToolContext(uuid.New(), nil, nil)
	tc.ShadowMode = true
	tc.ShadowMasks = map[string]ShadowMock{
		"sleep": {ReturnValue: "mocked", DelayMs: 1},
	}

	start := time.Now()
	result, err := Invoke(context.Background(), SleepTool{}, tc, map[string]any{"ms": 5000.0})
	require.NoError(t, err)
	assert.Equal(t, "mocked", result)
	assert.Less(t, time.Since(start), time.Second)
}

func TestShadowModeWithoutMaskRunsForReal(t *testing.T) {
	tc := NewToolContext(uuid.New(), nil, nil)
	tc.ShadowMode = true
	tc.ShadowMasks = map[string]ShadowMock{}

	result, err := Invoke(context.Background(), MathTool{}, tc, map[string]any{"a": 2.0, "b": 2.0, "op": "add"})
	require.NoError(t, err)
	assert.Equal(t, 4.0, result)
}

func TestJSONQueryToolResolvesRFC6901Pointer(t *testing.T) {
	tc := NewToolContext(uuid.New(), nil, nil)
	doc := map[string]any{"foo": map[string]any{"bar": 7.0}}
	result, err := Invoke(context.Background(), JSONQueryTool{}, tc, map[string]any{"json": doc, "path": "/foo/bar"})
	require.NoError(t, err)
	assert.Equal(t, 7.0, result)
}

func TestJSONQueryToolPointerIndexesArrayElement(t *testing.T) {
	tc := NewToolContext(uuid.New(), nil, nil)
	doc := map[string]any{"items": []any{"a", "b", "c"}}
	result, err := Invoke(context.Background(), JSONQueryTool{}, tc, map[string]any{"json": doc, "path": "/items/1"})
	require.NoError(t, err)
	assert.Equal(t, "b", result)
}

func TestJSONQueryToolPointerMissReturnsNilNotError(t *testing.T) {
	tc := NewToolContext(uuid.New(), nil, nil)
	doc := map[string]any{"foo": 1.0}
	result, err := Invoke(context.Background(), JSONQueryTool{}, tc, map[string]any{"json": doc, "path": "/missing"})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestJSONQueryToolFallsBackToTopLevelKeyWhenNotPointerShaped(t *testing.T) {
	tc := NewToolContext(uuid.New(), nil, nil)
	doc := map[string]any{"foo": "bar"}
	result, err := Invoke(context.Background(), JSONQueryTool{}, tc, map[string]any{"json": doc, "path": "foo"})
	require.NoError(t, err)
	assert.Equal(t, "bar", result)
}

func TestRegistryDefaultToolsResolve(t *testing.T) {
	r := NewDefaultRegistry()
	for _, id := range []string{"math", "log", "json_query", "set_var", "get_var", "sleep", "switch", "trace", "emit", "rhai"} {
		_, ok := r.Get(id)
		assert.True(t, ok, "expected built-in tool %q to be registered", id)
	}
}
