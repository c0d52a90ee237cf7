// Package topology implements the NodeRouter (UUID → entity lookup) and the
// Topology cache (adjacency derived from edge components), per spec §4.2.
package topology

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ferroflux/ferroflux/internal/ecs"
)

// Edge is one wire between an output port of one node and an input port of
// another. Label is used by logic-switch nodes to select a branch; it is
// empty for ordinary (unconditional) edges.
type Edge struct {
	FromNode   uuid.UUID
	FromPort   string
	ToNode     uuid.UUID
	ToPort     string
	Label      string
	insertSeq  uint64
}

// Target is one resolved downstream destination of an output port.
type Target struct {
	Entity ecs.Entity
	Node   uuid.UUID
	Port   string
	Label  string
}

// Router is the O(1) map from externally visible node UUID to ECS entity.
type Router struct {
	mu      sync.RWMutex
	byNode  map[uuid.UUID]ecs.Entity
}

// NewRouter constructs an empty router.
func NewRouter() *Router {
	return &Router{byNode: make(map[uuid.UUID]ecs.Entity)}
}

// Register associates a node UUID with its entity handle.
func (r *Router) Register(node uuid.UUID, e ecs.Entity) {
	r.mu.Lock()
	r.byNode[node] = e
	r.mu.Unlock()
}

// Unregister removes a node, e.g. on LoadGraph replacing the node set.
func (r *Router) Unregister(node uuid.UUID) {
	r.mu.Lock()
	delete(r.byNode, node)
	r.mu.Unlock()
}

// Resolve looks up the entity for a node UUID.
func (r *Router) Resolve(node uuid.UUID) (ecs.Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byNode[node]
	return e, ok
}

// Reset replaces the entire node set, used by LoadGraph.
func (r *Router) Reset() {
	r.mu.Lock()
	r.byNode = make(map[uuid.UUID]ecs.Entity)
	r.mu.Unlock()
}

// Topology is the adjacency cache derived from edge components. It is
// recomputed wholesale whenever edges change (spec §3 Topology invariant);
// there is no incremental update because edge churn is rare (graph load/
// reload) relative to tick frequency.
type Topology struct {
	mu    sync.RWMutex
	edges []Edge
	seq   uint64
	// outputs maps (node, port) to its ordered downstream targets, sorted
	// by edge insertion order for a stable tie-break (spec §4.2).
	outputs map[portKey][]Target
	dirty   bool
	router  *Router
}

type portKey struct {
	node uuid.UUID
	port string
}

// NewTopology constructs an empty topology bound to router for entity
// resolution.
func NewTopology(router *Router) *Topology {
	return &Topology{
		outputs: make(map[portKey][]Target),
		router:  router,
	}
}

// AddEdge registers a new wire and marks the cache dirty (Added<Edge>).
func (t *Topology) AddEdge(e Edge) {
	t.mu.Lock()
	e.insertSeq = t.seq
	t.seq++
	t.edges = append(t.edges, e)
	t.dirty = true
	t.mu.Unlock()
}

// RemoveEdge removes every edge matching the given endpoints and marks the
// cache dirty (Removed<Edge>). Returns the number of edges removed.
func (t *Topology) RemoveEdge(from uuid.UUID, fromPort string, to uuid.UUID, toPort string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.edges[:0]
	removed := 0
	for _, e := range t.edges {
		if e.FromNode == from && e.FromPort == fromPort && e.ToNode == to && e.ToPort == toPort {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	t.edges = kept
	if removed > 0 {
		t.dirty = true
	}
	return removed
}

// Reset clears all edges, used by LoadGraph before re-adding the new set.
func (t *Topology) Reset() {
	t.mu.Lock()
	t.edges = nil
	t.seq = 0
	t.outputs = make(map[portKey][]Target)
	t.dirty = false
	t.mu.Unlock()
}

// Rebuild recomputes the adjacency cache from the current edge set if dirty.
// Called once per tick by the transport worker before routing (spec §4.2).
func (t *Topology) Rebuild() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dirty {
		return
	}
	out := make(map[portKey][]Target)
	sorted := append([]Edge(nil), t.edges...)
	sortEdgesByInsertSeq(sorted)
	for _, e := range sorted {
		entity, ok := t.router.Resolve(e.ToNode)
		if !ok {
			continue
		}
		key := portKey{node: e.FromNode, port: e.FromPort}
		out[key] = append(out[key], Target{Entity: entity, Node: e.ToNode, Port: e.ToPort, Label: e.Label})
	}
	t.outputs = out
	t.dirty = false
}

// Targets returns the ordered downstream destinations for an output port,
// in stable edge-insertion order. Rebuild must have been called since the
// last edge mutation for this to reflect the current graph.
func (t *Topology) Targets(node uuid.UUID, port string) []Target {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts := t.outputs[portKey{node: node, port: port}]
	out := make([]Target, len(ts))
	copy(out, ts)
	return out
}

// TargetsForLabel filters Targets to those whose edge label matches the
// emitted branch string, for logic-switch routing. An edge with an empty
// label matches only an empty branch.
func (t *Topology) TargetsForLabel(node uuid.UUID, port, label string) []Target {
	all := t.Targets(node, port)
	out := all[:0]
	for _, tg := range all {
		if tg.Label == label {
			out = append(out, tg)
		}
	}
	return out
}

// EdgeCount reports the number of edges currently registered, used by tests
// asserting the topology agrees with the edge set after mutation (spec §8
// invariant 3).
func (t *Topology) EdgeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.edges)
}

func sortEdgesByInsertSeq(edges []Edge) {
	// insertion sort: edge churn is small and this runs only when dirty.
	for i := 1; i < len(edges); i++ {
		for j := i; j > 0 && edges[j].insertSeq < edges[j-1].insertSeq; j-- {
			edges[j], edges[j-1] = edges[j-1], edges[j]
		}
	}
}
