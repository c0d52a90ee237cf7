// Package tools implements the stateless Tool abstraction, ToolContext, the
// tool registry, and the shadow-mode short-circuit contract (spec §4.7).
package tools

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ferroflux/ferroflux/internal/eventbus"
	"github.com/ferroflux/ferroflux/internal/ferrors"
)

// Tool is a stateless, named, invocable unit. Implementations must be safe
// for concurrent use since the same Tool instance is shared across every
// invocation (spec §4.7, §9 "each tool is stateless").
type Tool interface {
	ID() string
	Run(ctx context.Context, tc *ToolContext, params map[string]any) (any, error)
}

// ShadowMock is the pre-recorded response for one tool id under shadow mode.
type ShadowMock struct {
	ReturnValue any
	DelayMs     int
}

// ToolContext is threaded through every tool invocation for one node
// execution (spec §4.7).
type ToolContext struct {
	// Local is scoped to the current node invocation.
	Local map[string]any
	// Memory is scoped to the whole trace.
	Memory map[string]any

	TraceID uuid.UUID

	EventBus *eventbus.Bus

	ShadowMode  bool
	ShadowMasks map[string]ShadowMock
}

// NewToolContext constructs a ToolContext with initialized Local/Memory maps.
func NewToolContext(traceID uuid.UUID, memory map[string]any, bus *eventbus.Bus) *ToolContext {
	if memory == nil {
		memory = make(map[string]any)
	}
	return &ToolContext{
		Local:   make(map[string]any),
		Memory:  memory,
		TraceID: traceID,
		EventBus: bus,
	}
}

// Emit writes a value to Local["_outputs"][port], the mechanism by which
// tool invocations are collected as node output ports (spec §4.7).
func (tc *ToolContext) Emit(port string, value any) {
	outputs, ok := tc.Local["_outputs"].(map[string]any)
	if !ok {
		outputs = make(map[string]any)
		tc.Local["_outputs"] = outputs
	}
	outputs[port] = value
}

// Outputs returns the accumulated _outputs map, or an empty map if nothing
// was emitted.
func (tc *ToolContext) Outputs() map[string]any {
	outputs, ok := tc.Local["_outputs"].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return outputs
}

// Invoke runs a tool, honoring the shadow-mode contract: if tc.ShadowMode is
// true and tc.ShadowMasks contains a mock for tool.ID(), the mock's delay is
// honored and its ReturnValue is returned without calling Run at all — no
// outbound I/O occurs (spec §8 invariant 6).
func Invoke(ctx context.Context, tool Tool, tc *ToolContext, params map[string]any) (any, error) {
	if tc != nil && tc.ShadowMode {
		if mock, ok := tc.ShadowMasks[tool.ID()]; ok {
			if mock.DelayMs > 0 {
				select {
				case <-time.After(time.Duration(mock.DelayMs) * time.Millisecond):
				case <-ctx.Done():
					return nil, ferrors.Wrap(ferrors.Timeout, ctx.Err(), "shadow delay interrupted for tool %q", tool.ID())
				}
			}
			return mock.ReturnValue, nil
		}
	}
	result, err := tool.Run(ctx, tc, params)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ToolError, err, "tool %q failed", tool.ID())
	}
	return result, nil
}
