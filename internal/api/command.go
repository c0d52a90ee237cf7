package api

import (
	"github.com/google/uuid"
)

// Command is one of the variants the API worker drains per tick (spec §4.8):
// the five core graph/trigger/pin operations, plus ResumeCheckpoint (the
// natural counterpart to a checkpoint node "resumed by an API command", spec
// §4.6) and Cancel (spec §4.7 "Cancellation").
type Command interface {
	isCommand()
}

// LoadGraph replaces the entire node set, rebuilding NodeRouter and topology.
type LoadGraph struct {
	Dir string
}

// Trigger spawns a Trace entity and enqueues an initial ticket at TargetNode.
type Trigger struct {
	TargetNode uuid.UUID
	Input      any
	Sensitive  bool
}

// TriggerWorkflow is an alias trigger variant that additionally tags the
// trace with a workflow name for event-bus correlation.
type TriggerWorkflow struct {
	TargetNode   uuid.UUID
	WorkflowName string
	Input        any
	Sensitive    bool
}

// PinNode marks a node's latest output ticket pinned, exempting it from GC.
type PinNode struct {
	Node uuid.UUID
}

// ReloadDefinitions rebuilds the definition registry from disk, re-registering
// YAML-backed factories while preserving built-in factories already present.
type ReloadDefinitions struct {
	Dir string
}

// ResumeCheckpoint resumes a paused trace, optionally overriding its payload.
type ResumeCheckpoint struct {
	TraceID  uuid.UUID
	Override []byte
}

// Cancel marks a running trace cancelled (spec §4.7 "Cancellation"): no
// further ticket carrying TraceID advances through the scheduler, and any
// agent_post result already in flight for it is dropped rather than merged.
type Cancel struct {
	TraceID uuid.UUID
}

func (LoadGraph) isCommand()        {}
func (Trigger) isCommand()          {}
func (TriggerWorkflow) isCommand()  {}
func (PinNode) isCommand()          {}
func (ReloadDefinitions) isCommand() {}
func (ResumeCheckpoint) isCommand() {}
func (Cancel) isCommand()           {}
