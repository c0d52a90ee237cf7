// Package scheduler implements the tick-driven scheduler and transport
// workers (spec §4.3, §4.4). The tick loop is single-threaded with respect
// to world mutation: every worker invoked during a tick observes a
// consistent snapshot, and all side-effecting I/O is pushed out to
// auxiliary goroutines that re-enter state via stage.ExecutionResult on a
// later tick (spec §5).
package scheduler

import (
	"context"
	"sync"

	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/ticket"
)

// Dispatcher advances one popped ticket for a node of the given kind. It
// returns true if it made progress (spec §4.3 step 3, "WorkDone"). Concrete
// dispatch to typed node workers (switch, script, aggregator, http agent,
// ...) lives in internal/nodes; the scheduler itself is kind-agnostic.
type Dispatcher interface {
	Dispatch(ctx context.Context, node ecs.Entity, kind string, tk TicketHandle) bool
}

// TicketHandle is the node's inbox queue, handed to the dispatcher so it can
// pop (and, on failure, push back) the ticket it advances.
type TicketHandle = *ticket.Queue

// NodeEntry is one node's static registration: its externally visible kind
// string, used to select a dispatcher path, and whether that kind uses the
// prep/exec/post staging pipeline (in which case the scheduler must also
// check for in-flight staging entities before advancing another ticket).
type NodeEntry struct {
	Kind     string
	Staged   bool
}

// Scheduler runs the per-tick node advancement described in spec §4.3.
type Scheduler struct {
	mu      sync.RWMutex
	nodes   map[ecs.Entity]NodeEntry
	queues  *ticket.Queues
	staging StagingTracker
	dispatch Dispatcher
}

// StagingTracker reports whether a node currently has any in-flight staging
// entity (ReadyToExecute or ExecutionResult), used to gate pipelined kinds
// from advancing a second ticket before the first finishes (spec §4.3).
type StagingTracker interface {
	HasInFlight(node ecs.Entity) bool
}

// NewScheduler constructs a scheduler bound to the given queues, staging
// tracker, and dispatcher.
func NewScheduler(queues *ticket.Queues, staging StagingTracker, dispatch Dispatcher) *Scheduler {
	return &Scheduler{
		nodes:    make(map[ecs.Entity]NodeEntry),
		queues:   queues,
		staging:  staging,
		dispatch: dispatch,
	}
}

// Register records a node's kind so the scheduler knows how to dispatch its
// inbox tickets.
func (s *Scheduler) Register(node ecs.Entity, entry NodeEntry) {
	s.mu.Lock()
	s.nodes[node] = entry
	s.mu.Unlock()
}

// Unregister drops a node, e.g. on LoadGraph replacing the node set.
func (s *Scheduler) Unregister(node ecs.Entity) {
	s.mu.Lock()
	delete(s.nodes, node)
	s.mu.Unlock()
}

// Reset clears every registered node.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.nodes = make(map[ecs.Entity]NodeEntry)
	s.mu.Unlock()
}

// Tick advances at most one ticket per registered node (fairness, spec
// §4.3) and returns whether any node made progress, so the driving loop
// knows whether to tick again immediately or back off.
func (s *Scheduler) Tick(ctx context.Context) bool {
	s.mu.RLock()
	snapshot := make(map[ecs.Entity]NodeEntry, len(s.nodes))
	for e, entry := range s.nodes {
		snapshot[e] = entry
	}
	s.mu.RUnlock()

	workDone := false
	for node, entry := range snapshot {
		if entry.Staged && s.staging.HasInFlight(node) {
			continue
		}
		inbox := s.queues.Inbox(node)
		if inbox == nil || inbox.Empty() {
			continue
		}
		// Pop happens implicitly inside Dispatch via the queue itself so
		// the dispatcher can decide how to decode the ticket; the scheduler
		// only needs to know a ticket is available to justify dispatching.
		if s.dispatch.Dispatch(ctx, node, entry.Kind, inbox) {
			workDone = true
		}
	}
	return workDone
}
