package nodes

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/ferroflux/ferroflux/internal/blobstore"
	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/eventbus"
	"github.com/ferroflux/ferroflux/internal/ferrors"
	"github.com/ferroflux/ferroflux/internal/flowbus"
	"github.com/ferroflux/ferroflux/internal/scheduler"
	"github.com/ferroflux/ferroflux/internal/stage"
	"github.com/ferroflux/ferroflux/internal/telemetry"
	"github.com/ferroflux/ferroflux/internal/ticket"
	"github.com/ferroflux/ferroflux/internal/topology"
)

// Dispatcher routes one popped ticket per node per tick to the typed worker
// matching its registered Kind (spec §4.6). It implements
// scheduler.Dispatcher directly and scheduler.StagingTracker by combining
// the HTTP-agent stage pipeline's in-flight tracking with its own llm_agent
// in-flight bookkeeping.
type Dispatcher struct {
	world    *ecs.World
	router   *topology.Router
	topo     *topology.Topology
	queues   *ticket.Queues
	store    *blobstore.Store
	traces   *flowbus.Traces
	bus      *eventbus.Bus
	pipeline *stage.Pipeline
	logger   telemetry.Logger

	lookupSecret func(string) (string, bool)

	mu   sync.RWMutex
	defs map[ecs.Entity]Definition

	llmClient LLMClient

	aggMu sync.Mutex
	agg   map[ecs.Entity]*aggregatorState

	winMu sync.Mutex
	win   map[ecs.Entity]*windowState

	chkMu sync.Mutex
	chk   map[uuid.UUID]*checkpointWait

	inFlightMu sync.Mutex
	inFlight   map[ecs.Entity]int
}

// NewDispatcher constructs a node dispatcher bound to the shared runtime
// resources.
func NewDispatcher(
	world *ecs.World,
	router *topology.Router,
	topo *topology.Topology,
	queues *ticket.Queues,
	store *blobstore.Store,
	traces *flowbus.Traces,
	bus *eventbus.Bus,
	pipeline *stage.Pipeline,
	logger telemetry.Logger,
	lookupSecret func(string) (string, bool),
) *Dispatcher {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if lookupSecret == nil {
		lookupSecret = func(string) (string, bool) { return "", false }
	}
	return &Dispatcher{
		world:        world,
		router:       router,
		topo:         topo,
		queues:       queues,
		store:        store,
		traces:       traces,
		bus:          bus,
		pipeline:     pipeline,
		logger:       logger,
		lookupSecret: lookupSecret,
		defs:         make(map[ecs.Entity]Definition),
		agg:          make(map[ecs.Entity]*aggregatorState),
		win:          make(map[ecs.Entity]*windowState),
		chk:          make(map[uuid.UUID]*checkpointWait),
		inFlight:     make(map[ecs.Entity]int),
	}
}

// SetLLMClient wires the Anthropic-backed model client used by llm_agent
// nodes. Left unset, llm_agent dispatch fails closed with ferrors.Internal.
func (d *Dispatcher) SetLLMClient(c LLMClient) {
	d.llmClient = c
}

// Register attaches a node's static definition, keyed by its ECS entity.
// The node must already be registered with the router, queues, and (for
// staged kinds) the scheduler with Staged: true.
func (d *Dispatcher) Register(node ecs.Entity, def Definition) {
	d.mu.Lock()
	d.defs[node] = def
	d.mu.Unlock()
}

// Unregister drops a node's definition, e.g. on graph reload.
func (d *Dispatcher) Unregister(node ecs.Entity) {
	d.mu.Lock()
	delete(d.defs, node)
	d.mu.Unlock()
}

func (d *Dispatcher) definition(node ecs.Entity) (Definition, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.defs[node]
	return def, ok
}

// Definition exposes a node's registered static configuration, e.g. so the
// API worker can validate a trigger's input against InputSchema before
// admitting it.
func (d *Dispatcher) Definition(node ecs.Entity) (Definition, bool) {
	return d.definition(node)
}

// HasInFlight satisfies scheduler.StagingTracker: a node is busy if it has
// a prep/exec staging entity (http_agent) or an llm_agent call
// outstanding. Checkpoint waits are keyed by trace and do not count.
func (d *Dispatcher) HasInFlight(node ecs.Entity) bool {
	if d.pipeline.HasInFlight(node) {
		return true
	}
	d.inFlightMu.Lock()
	defer d.inFlightMu.Unlock()
	return d.inFlight[node] > 0
}

func (d *Dispatcher) markInFlight(node ecs.Entity) {
	d.inFlightMu.Lock()
	d.inFlight[node]++
	d.inFlightMu.Unlock()
}

func (d *Dispatcher) clearInFlight(node ecs.Entity) {
	d.inFlightMu.Lock()
	d.inFlight[node]--
	if d.inFlight[node] <= 0 {
		delete(d.inFlight, node)
	}
	d.inFlightMu.Unlock()
}

// Dispatch advances one ticket for node, selecting the typed worker by
// kind. It satisfies scheduler.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, node ecs.Entity, kind string, tk scheduler.TicketHandle) bool {
	def, ok := d.definition(node)
	if !ok {
		d.logger.Warn(ctx, "dispatch: node has no registered definition", "kind", kind)
		return false
	}
	if d.dropIfCancelled(ctx, tk) {
		return true
	}
	switch kind {
	case "switch":
		return d.dispatchSwitch(ctx, node, def, tk)
	case "script":
		return d.dispatchScript(ctx, node, def, tk)
	case "aggregator":
		return d.dispatchAggregator(ctx, node, def, tk)
	case "window":
		return d.dispatchWindow(ctx, node, def, tk)
	case "splitter":
		return d.dispatchSplitter(ctx, node, def, tk)
	case "checkpoint":
		return d.dispatchCheckpoint(ctx, node, def, tk)
	case "wasmcompute":
		return d.dispatchWasmCompute(ctx, node, def, tk)
	case "http_agent":
		return d.dispatchHTTPAgent(ctx, node, def, tk)
	case "llm_agent":
		return d.dispatchLLMAgent(ctx, node, def, tk)
	default:
		d.logger.Warn(ctx, "dispatch: unknown node kind", "kind", kind)
		_, _ = tk.Pop()
		return false
	}
}

// dropIfCancelled peeks the head ticket's trace id without popping it; if
// that trace has been cancelled, it pops and discards the ticket instead of
// letting any kind-specific dispatch advance it further (spec §4.7
// "Cancellation": a cancelled trace's tickets never reach the next node).
func (d *Dispatcher) dropIfCancelled(ctx context.Context, tk scheduler.TicketHandle) bool {
	head, ok := tk.Peek()
	if !ok {
		return false
	}
	traceID, err := uuid.Parse(head.Metadata["trace_id"])
	if err != nil || !d.traces.IsCancelled(traceID) {
		return false
	}
	if tic, ok := tk.Pop(); ok {
		_ = d.store.Decref(ctx, tic.ID)
	}
	return true
}

// popPayload pops the head ticket and recovers its content bytes and trace
// id from metadata, decreffing the inbox's own reference once the content
// has been read (the ticket has now left the inbox for good).
func (d *Dispatcher) popPayload(ctx context.Context, tk scheduler.TicketHandle) (blobstore.SecureTicket, []byte, uuid.UUID, bool) {
	tic, ok := tk.Pop()
	if !ok {
		return blobstore.SecureTicket{}, nil, uuid.UUID{}, false
	}
	body, err := d.store.Content(ctx, tic.ID)
	if err != nil {
		d.logger.Warn(ctx, "popPayload: content missing", "error", err)
		_ = d.store.Decref(ctx, tic.ID)
		return blobstore.SecureTicket{}, nil, uuid.UUID{}, false
	}
	traceID, _ := uuid.Parse(tic.Metadata["trace_id"])
	_ = d.store.Decref(ctx, tic.ID)
	return tic, body, traceID, true
}

// traceBus returns the flow bus for a trace id, or nil if the trace is no
// longer live (e.g. cancelled concurrently).
func (d *Dispatcher) traceBus(traceID uuid.UUID) *flowbus.State {
	e, ok := d.traces.Entity(traceID)
	if !ok {
		return nil
	}
	tr, ok := d.traces.Get(e)
	if !ok {
		return nil
	}
	return tr.Bus
}

// mergeResult writes value into the trace's flow bus: Set under resultKey
// if given, else root-merge when value is a JSON object (spec §4.5 step 3,
// reused for inline script/aggregator/window outputs).
func mergeResult(ctx context.Context, bus *flowbus.State, resultKey string, value any) {
	if bus == nil {
		return
	}
	if resultKey != "" {
		bus.Set(resultKey, value)
		return
	}
	if obj, ok := value.(map[string]any); ok {
		bus.Merge(ctx, obj)
	}
}

// emitGeneric stores payload as new content and pushes it onto node's own
// outbox, to be routed by the generic Transport worker over unlabeled edges.
func (d *Dispatcher) emitGeneric(ctx context.Context, node ecs.Entity, traceID uuid.UUID, payload []byte) error {
	out, err := d.store.Store(ctx, payload, map[string]string{"trace_id": traceID.String()})
	if err != nil {
		return err
	}
	ob := d.queues.Outbox(node)
	if ob == nil {
		return ferrors.New(ferrors.NodeMissing, "emitGeneric: node has no outbox")
	}
	ob.Push(out)
	return nil
}

// emitLabeled stores payload and routes it directly to every downstream
// target whose edge label matches, bypassing the generic outbox/Transport
// path (spec §4.2's label-selection rule applies only to logic switches).
// A ticket with no matching target is dropped with a warning, mirroring
// Transport's own drop-with-warning behavior.
func (d *Dispatcher) emitLabeled(ctx context.Context, nodeID uuid.UUID, port, label string, traceID uuid.UUID, payload []byte) error {
	tic, err := d.store.Store(ctx, payload, map[string]string{"trace_id": traceID.String()})
	if err != nil {
		return err
	}
	targets := d.topo.TargetsForLabel(nodeID, port, label)
	if len(targets) == 0 {
		d.logger.Warn(ctx, "emitLabeled: no downstream target for label", "node", nodeID, "label", label)
		return d.store.Decref(ctx, tic.ID)
	}
	for _, target := range targets {
		d.queues.PushInbox(ctx, d.store, target.Entity, tic)
	}
	return d.store.Decref(ctx, tic.ID)
}

func marshalResult(v any) ([]byte, error) {
	return json.Marshal(v)
}
