package flowbus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/telemetry"
)

// Trace models one workflow execution end to end (spec §3 "Trace").
type Trace struct {
	TraceID     uuid.UUID
	CurrentNode uuid.UUID
	StartedAt   time.Time
	Input       any
	Sensitive   bool

	// Cancelled is set by an API Cancel command (spec §4.7 "Cancellation").
	// Once set, the scheduler refuses to advance any further ticket carrying
	// this trace id, and the post stage drops agent_post output for it
	// instead of merging it onto Bus.
	Cancelled bool

	Bus *State
}

// Traces owns the Trace-entity lifecycle: creation on trigger, current-node
// updates as a trace advances, and teardown on terminal completion.
type Traces struct {
	mu      sync.RWMutex
	byEntity map[ecs.Entity]*Trace
	byID     map[uuid.UUID]ecs.Entity
	world    *ecs.World
	logger   telemetry.Logger
}

// NewTraces constructs an empty trace table bound to world.
func NewTraces(world *ecs.World, logger telemetry.Logger) *Traces {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Traces{
		byEntity: make(map[ecs.Entity]*Trace),
		byID:     make(map[uuid.UUID]ecs.Entity),
		world:    world,
		logger:   logger,
	}
}

// Create spawns a trace entity for a newly landed external trigger.
func (t *Traces) Create(startNode uuid.UUID, input any, sensitive bool) (ecs.Entity, *Trace) {
	e := t.world.Spawn()
	tr := &Trace{
		TraceID:     uuid.New(),
		CurrentNode: startNode,
		StartedAt:   time.Now(),
		Input:       input,
		Sensitive:   sensitive,
		Bus:         NewState(t.logger),
	}
	t.mu.Lock()
	t.byEntity[e] = tr
	t.byID[tr.TraceID] = e
	t.mu.Unlock()
	return e, tr
}

// Get retrieves the trace attached to entity e.
func (t *Traces) Get(e ecs.Entity) (*Trace, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tr, ok := t.byEntity[e]
	return tr, ok
}

// Entity looks up the entity for a trace id, for command-driven lookups
// (e.g. the checkpoint node resuming a paused trace by id).
func (t *Traces) Entity(id uuid.UUID) (ecs.Entity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byID[id]
	return e, ok
}

// AdvanceTo updates current_node as a trace moves to a new node, recording
// the prior node in history.
func (t *Traces) AdvanceTo(e ecs.Entity, node uuid.UUID, nodeLabel string) {
	t.mu.Lock()
	tr, ok := t.byEntity[e]
	t.mu.Unlock()
	if !ok {
		return
	}
	tr.Bus.AppendHistory(nodeLabel)
	t.mu.Lock()
	tr.CurrentNode = node
	t.mu.Unlock()
}

// Cancel marks the trace attached to e cancelled. Returns false if e has no
// live trace.
func (t *Traces) Cancel(e ecs.Entity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.byEntity[e]
	if !ok {
		return false
	}
	tr.Cancelled = true
	return true
}

// IsCancelled reports whether traceID's trace has been cancelled. An unknown
// trace id (already torn down, or never created) reports false rather than
// cancelled, since callers gate on this to decide whether to drop work in
// progress for a trace that is still genuinely live.
func (t *Traces) IsCancelled(traceID uuid.UUID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byID[traceID]
	if !ok {
		return false
	}
	tr, ok := t.byEntity[e]
	if !ok {
		return false
	}
	return tr.Cancelled
}

// Destroy tears down a trace entity on terminal completion or cancellation.
func (t *Traces) Destroy(e ecs.Entity) {
	t.mu.Lock()
	tr, ok := t.byEntity[e]
	if ok {
		delete(t.byEntity, e)
		delete(t.byID, tr.TraceID)
	}
	t.mu.Unlock()
	t.world.Destroy(e)
}

// Len returns the number of traces currently live.
func (t *Traces) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byEntity)
}
