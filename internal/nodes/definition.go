// Package nodes implements the typed node workers of spec §4.6: logic
// switch, script/transform, aggregator, window/stats, splitter, checkpoint
// (HITL), WASM compute, timer trigger, and the HTTP/LLM boundary-crossing
// agents. Dispatcher satisfies scheduler.Dispatcher and scheduler.
// StagingTracker so the scheduler itself stays kind-agnostic.
package nodes

import (
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ferroflux/ferroflux/internal/stage"
)

// Definition is one node's static, graph-load-time configuration. Kind
// selects which fields below are meaningful; unused fields are simply left
// zero, the same loose-schema approach the teacher's YAML-loaded node specs
// use (one flat struct per registered kind, not a sum type).
type Definition struct {
	ID         uuid.UUID
	Kind       string
	OutputPort string

	// switch, script, wasmcompute
	Script string

	// script: where to write the result; empty + object result root-merges.
	ResultKey string

	// aggregator
	WindowSize int

	// window
	WindowTTL time.Duration
	Reduction string // count | sum | avg | min | max

	// splitter: JSONPath into the inbound payload selecting the array to
	// split; empty means the whole payload is the array.
	SplitPath string

	// checkpoint
	CheckpointTimeout time.Duration

	// wasmcompute
	ComputeTimeout time.Duration

	// http_agent: reuses the stage package's own node spec wholesale.
	HTTP stage.NodeSpec

	// llm_agent
	LLMSystemPrompt string
	LLMModel        string
	LLMMaxTokens    int

	// timer
	CronSpec string

	// InputSchema validates a Trigger/TriggerWorkflow payload against this
	// node's declared configurable-fields schema before it is admitted (spec
	// §6 "Graph definition format": "its configurable fields (schema)").
	// Nil means the node accepts any input, same as omitting it in YAML.
	InputSchema *jsonschema.Schema
}
