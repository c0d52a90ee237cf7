// Package stage implements the prep -> execute -> post pipeline every
// boundary-crossing node (HTTP, LLM, long-running tool) advances a ticket
// through (spec §4.5). ReadyToExecute and ExecutionResult are attached to a
// short-lived staging entity rather than the node entity itself, so a node
// can have many executions in flight concurrently.
package stage

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/tools"
)

// ExecutionContext is captured once at prep time and carried unchanged
// through exec and post.
type ExecutionContext struct {
	NodeID          uuid.UUID
	TraceID         uuid.UUID
	Kind            string
	Method          string
	URL             string
	Headers         map[string]string
	Body            string
	ResultKey       string
	OutputTransform string
	Shadow          bool
	ShadowMasks     map[string]tools.ShadowMock
	Timeout         time.Duration
}

// ReadyToExecute marks a staging entity as prepped and waiting for exec.
type ReadyToExecute struct {
	Context ExecutionContext
}

// ExecutionResult marks a staging entity as executed and waiting for post.
type ExecutionResult struct {
	Status  int
	RawBody string
	Context ExecutionContext
}

// Pipeline owns the staging-entity component stores. Staging entities are
// spawned fresh for each prep and destroyed once post completes.
type Pipeline struct {
	world     *ecs.World
	ready     *ecs.Store[ReadyToExecute]
	results   *ecs.Store[ExecutionResult]
	executing *ecs.Store[struct{}]

	mu        sync.Mutex
	ownerNode map[ecs.Entity]ecs.Entity
	inFlight  map[ecs.Entity]int
}

// NewPipeline constructs an empty pipeline bound to world.
func NewPipeline(world *ecs.World) *Pipeline {
	return &Pipeline{
		world:     world,
		ready:     ecs.NewStore[ReadyToExecute](),
		results:   ecs.NewStore[ExecutionResult](),
		executing: ecs.NewStore[struct{}](),
		ownerNode: make(map[ecs.Entity]ecs.Entity),
		inFlight:  make(map[ecs.Entity]int),
	}
}

// SpawnReady creates a new staging entity carrying a ReadyToExecute
// component, moving a ticket from INBOX to PREPPED (spec §4.5 state
// machine). node is the originating node entity, tracked so HasInFlight can
// gate the scheduler from advancing a second ticket on a staged node.
func (p *Pipeline) SpawnReady(node ecs.Entity, ctx ExecutionContext) ecs.Entity {
	e := p.world.Spawn()
	p.ready.Set(e, ReadyToExecute{Context: ctx})
	p.mu.Lock()
	p.ownerNode[e] = node
	p.inFlight[node]++
	p.mu.Unlock()
	return e
}

// HasInFlight reports whether node currently has any staging entity in
// PREPPED or EXECUTED state, satisfying scheduler.StagingTracker.
func (p *Pipeline) HasInFlight(node ecs.Entity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight[node] > 0
}

// OwnerNode returns the node entity that spawned a staging entity, used by
// the post-worker to call Post with the right outbox.
func (p *Pipeline) OwnerNode(e ecs.Entity) (ecs.Entity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	node, ok := p.ownerNode[e]
	return node, ok
}

// Ready returns the ReadyToExecute component for a staging entity.
func (p *Pipeline) Ready(e ecs.Entity) (ReadyToExecute, bool) {
	return p.ready.Get(e)
}

// EachReady iterates every staging entity currently in PREPPED state,
// including ones already claimed by an in-flight exec goroutine. Callers
// that dispatch exec work must use TryMarkExecuting to claim an entity
// first so a slow exec doesn't get redispatched on a later tick.
func (p *Pipeline) EachReady(fn func(ecs.Entity, ReadyToExecute)) {
	p.ready.Each(fn)
}

// TryMarkExecuting claims a staging entity for exec, returning false if it
// was already claimed by a previous tick's in-flight goroutine. This is the
// guard that lets an exec worker iterate EachReady every tick without
// redispatching work that is still running.
func (p *Pipeline) TryMarkExecuting(e ecs.Entity) bool {
	if _, already := p.executing.Get(e); already {
		return false
	}
	p.executing.Set(e, struct{}{})
	return true
}

// CompleteExec moves a staging entity from PREPPED to EXECUTED: removes
// ReadyToExecute and the executing claim, attaches ExecutionResult.
func (p *Pipeline) CompleteExec(e ecs.Entity, result ExecutionResult) {
	p.ready.Remove(e)
	p.executing.Remove(e)
	p.results.Set(e, result)
}

// Result returns the ExecutionResult component for a staging entity.
func (p *Pipeline) Result(e ecs.Entity) (ExecutionResult, bool) {
	return p.results.Get(e)
}

// EachResult iterates every staging entity currently in EXECUTED state.
func (p *Pipeline) EachResult(fn func(ecs.Entity, ExecutionResult)) {
	p.results.Each(fn)
}

// Finish tears down a staging entity after post completes (POSTED state is
// terminal for the staging entity; the ticket itself lives on in the
// node's outbox).
func (p *Pipeline) Finish(e ecs.Entity) {
	p.results.Remove(e)
	p.ready.Remove(e)
	p.executing.Remove(e)
	p.mu.Lock()
	if node, ok := p.ownerNode[e]; ok {
		p.inFlight[node]--
		if p.inFlight[node] <= 0 {
			delete(p.inFlight, node)
		}
		delete(p.ownerNode, e)
	}
	p.mu.Unlock()
	p.world.Destroy(e)
}

// InFlightCount reports how many staging entities are currently prepped or
// executed for observability and tests.
func (p *Pipeline) InFlightCount() int {
	return p.ready.Len() + p.results.Len()
}
