package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ferroflux/ferroflux/internal/blobstore"
	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/eventbus"
	"github.com/ferroflux/ferroflux/internal/ferrors"
	"github.com/ferroflux/ferroflux/internal/flowbus"
	"github.com/ferroflux/ferroflux/internal/nodes"
	"github.com/ferroflux/ferroflux/internal/scheduler"
	"github.com/ferroflux/ferroflux/internal/telemetry"
	"github.com/ferroflux/ferroflux/internal/ticket"
	"github.com/ferroflux/ferroflux/internal/topology"
)

// Worker drains the bounded external command channel into world mutations,
// one tick's worth at a time (spec §4.8). Each command is applied in full
// before the next is considered, so a LoadGraph can never interleave with a
// Trigger landing on the old node set.
type Worker struct {
	commands chan Command

	world     *ecs.World
	router    *topology.Router
	topo      *topology.Topology
	queues    *ticket.Queues
	store     *blobstore.Store
	scheduler *scheduler.Scheduler
	dispatch  *nodes.Dispatcher
	traces    *flowbus.Traces
	pins      *ticket.PinnedOutputs
	bus       *eventbus.Bus
	timers    *nodes.TimerSource
	logger    telemetry.Logger

	// yamlNodes tracks entities this worker created from a LoadGraph/
	// ReloadDefinitions directory, so a reload replaces only those and
	// leaves any node registered outside the YAML loader untouched (spec
	// §4.8 "preserving built-in factories").
	yamlNodes map[uuid.UUID]ecs.Entity
}

// NewWorker constructs an API command worker bound to the shared runtime
// resources. capacity bounds the command channel (spec §6 "bounded command
// channel").
func NewWorker(
	capacity int,
	world *ecs.World,
	router *topology.Router,
	topo *topology.Topology,
	queues *ticket.Queues,
	store *blobstore.Store,
	sched *scheduler.Scheduler,
	dispatch *nodes.Dispatcher,
	traces *flowbus.Traces,
	pins *ticket.PinnedOutputs,
	bus *eventbus.Bus,
	timers *nodes.TimerSource,
	logger telemetry.Logger,
) *Worker {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Worker{
		commands:  make(chan Command, capacity),
		world:     world,
		router:    router,
		topo:      topo,
		queues:    queues,
		store:     store,
		scheduler: sched,
		dispatch:  dispatch,
		traces:    traces,
		pins:      pins,
		bus:       bus,
		timers:    timers,
		logger:    logger,
		yamlNodes: make(map[uuid.UUID]ecs.Entity),
	}
}

// Submit enqueues a command, returning false if the channel is full (the
// caller should back off and retry rather than block the submitter).
func (w *Worker) Submit(cmd Command) bool {
	select {
	case w.commands <- cmd:
		return true
	default:
		return false
	}
}

// Tick drains every command currently queued, applying each atomically, and
// reports whether any command was processed (spec §4.3 "WorkDone").
func (w *Worker) Tick(ctx context.Context) bool {
	processed := false
	for {
		select {
		case cmd := <-w.commands:
			w.apply(ctx, cmd)
			processed = true
		default:
			return processed
		}
	}
}

func (w *Worker) apply(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case LoadGraph:
		if err := w.loadGraph(ctx, c.Dir, true); err != nil {
			w.logger.Warn(ctx, "api: load graph failed", "error", err)
		}
	case ReloadDefinitions:
		if err := w.loadGraph(ctx, c.Dir, false); err != nil {
			w.logger.Warn(ctx, "api: reload definitions failed", "error", err)
		}
	case Trigger:
		w.trigger(ctx, c.TargetNode, c.Input, c.Sensitive, "")
	case TriggerWorkflow:
		w.trigger(ctx, c.TargetNode, c.Input, c.Sensitive, c.WorkflowName)
	case PinNode:
		w.pinNode(ctx, c.Node)
	case ResumeCheckpoint:
		if !w.dispatch.ResumeCheckpoint(ctx, c.TraceID, c.Override) {
			w.logger.Warn(ctx, "api: resume checkpoint: no pending wait", "trace", c.TraceID)
		}
	case Cancel:
		w.cancelTrace(ctx, c.TraceID)
	default:
		w.logger.Warn(ctx, "api: unknown command type", "type", fmt.Sprintf("%T", cmd))
	}
}

// loadGraph parses dir and applies it to the world. When full is true
// (LoadGraph), every previously YAML-sourced node is torn down first and the
// router/topology are reset wholesale. When full is false
// (ReloadDefinitions), only nodes present in the new directory are touched:
// existing entities keep their identity (and any in-flight staging work)
// and only their Definition/HTTP spec is replaced; nodes removed from disk
// are torn down; new ones are created.
func (w *Worker) loadGraph(ctx context.Context, dir string, full bool) error {
	graph, err := LoadGraphDir(dir)
	if err != nil {
		return ferrors.Wrap(ferrors.GraphInvalid, err, "load graph dir %q", dir)
	}

	defs := make(map[uuid.UUID]nodes.Definition, len(graph.Nodes))
	for id, doc := range graph.Nodes {
		def, err := doc.Definition()
		if err != nil {
			return err
		}
		defs[id] = def
	}

	if full {
		for id, e := range w.yamlNodes {
			w.teardownNode(id, e)
		}
		w.yamlNodes = make(map[uuid.UUID]ecs.Entity)
		w.router.Reset()
		w.topo.Reset()
		w.scheduler.Reset()
	} else {
		for id, e := range w.yamlNodes {
			if _, ok := graph.Nodes[id]; !ok {
				w.teardownNode(id, e)
				delete(w.yamlNodes, id)
			}
		}
	}

	for id, doc := range graph.Nodes {
		e, ok := w.yamlNodes[id]
		if !ok {
			e = w.world.Spawn()
			w.queues.Register(e)
			w.yamlNodes[id] = e
		}
		w.router.Register(id, e)
		w.dispatch.Register(e, defs[id])
		staged := doc.Kind == "http_agent" || doc.Kind == "llm_agent"
		w.scheduler.Register(e, scheduler.NodeEntry{Kind: doc.Kind, Staged: staged})

		if w.timers != nil {
			w.timers.Unregister(e)
			if doc.CronSpec != "" {
				if err := w.timers.Register(e, id, doc.CronSpec, nil); err != nil {
					w.logger.Warn(ctx, "api: register timer failed", "node", id, "error", err)
				}
			}
		}
	}

	for fromID, doc := range graph.Nodes {
		for _, edge := range doc.Edges {
			toID, err := uuid.Parse(edge.ToNode)
			if err != nil {
				w.logger.Warn(ctx, "api: invalid edge target", "node", fromID, "to", edge.ToNode)
				continue
			}
			port := doc.OutputPort
			if port == "" {
				port = "out"
			}
			toPort := edge.ToPort
			if toPort == "" {
				toPort = "in"
			}
			w.topo.AddEdge(topology.Edge{FromNode: fromID, FromPort: port, ToNode: toID, ToPort: toPort, Label: edge.Label})
		}
	}
	w.topo.Rebuild()
	return nil
}

func (w *Worker) teardownNode(id uuid.UUID, e ecs.Entity) {
	w.scheduler.Unregister(e)
	w.dispatch.Unregister(e)
	w.router.Unregister(id)
	if w.timers != nil {
		w.timers.Unregister(e)
	}
	w.world.Destroy(e)
}

func (w *Worker) trigger(ctx context.Context, target uuid.UUID, input any, sensitive bool, workflowName string) {
	e, ok := w.router.Resolve(target)
	if !ok {
		w.logger.Warn(ctx, "api: trigger: unknown node", "node", target)
		return
	}
	traceEntity, trace := w.traces.Create(target, input, sensitive)
	if workflowName != "" {
		trace.Bus.Set("_workflow", workflowName)
	}
	_ = traceEntity

	out, err := json.Marshal(input)
	if err != nil {
		w.logger.Warn(ctx, "api: trigger: marshal input", "error", err)
		return
	}
	if def, ok := w.dispatch.Definition(e); ok && def.InputSchema != nil {
		var decoded any
		if err := json.Unmarshal(out, &decoded); err != nil {
			w.logger.Warn(ctx, "api: trigger: decode input for schema validation", "error", err)
			return
		}
		if err := def.InputSchema.Validate(decoded); err != nil {
			w.logger.Warn(ctx, "api: trigger: input failed schema validation", "node", target, "error", err)
			return
		}
	}
	tic, err := w.store.Store(ctx, out, map[string]string{"trace_id": trace.TraceID.String()})
	if err != nil {
		w.logger.Warn(ctx, "api: trigger: store failed", "error", err)
		return
	}
	w.queues.PushInbox(ctx, w.store, e, tic)
	_ = w.store.Decref(ctx, tic.ID)

	w.bus.Publish(ctx, eventbus.NodeStarted, trace.TraceID, map[string]any{"node": target.String()})
}

// cancelTrace marks a running trace cancelled and publishes the one
// eventbus.Cancelled event for it (spec §4.7). The scheduler and post stage
// pick up Trace.Cancelled on their own next tick: a script already executing
// still finishes, but its result is dropped in agent_post rather than routed
// onward (spec §8 scenario 6).
func (w *Worker) cancelTrace(ctx context.Context, traceID uuid.UUID) {
	e, ok := w.traces.Entity(traceID)
	if !ok {
		w.logger.Warn(ctx, "api: cancel: unknown trace", "trace", traceID)
		return
	}
	if w.traces.IsCancelled(traceID) {
		return
	}
	if !w.traces.Cancel(e) {
		w.logger.Warn(ctx, "api: cancel: trace already torn down", "trace", traceID)
		return
	}
	w.bus.Publish(ctx, eventbus.Cancelled, traceID, nil)
}

func (w *Worker) pinNode(ctx context.Context, node uuid.UUID) {
	e, ok := w.router.Resolve(node)
	if !ok {
		w.logger.Warn(ctx, "api: pin: unknown node", "node", node)
		return
	}
	outbox := w.queues.Outbox(e)
	if outbox == nil {
		return
	}
	tic, ok := outbox.Peek()
	if !ok {
		w.logger.Warn(ctx, "api: pin: node has no output yet", "node", node)
		return
	}
	if err := w.pins.Pin(ctx, w.store, e, tic); err != nil {
		w.logger.Warn(ctx, "api: pin failed", "node", node, "error", err)
	}
}
