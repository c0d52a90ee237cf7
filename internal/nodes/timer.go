package nodes

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/ferroflux/ferroflux/internal/blobstore"
	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/flowbus"
	"github.com/ferroflux/ferroflux/internal/telemetry"
	"github.com/ferroflux/ferroflux/internal/ticket"
)

// TimerSource injects a new trace and inbox ticket on a cron schedule (spec
// §1's "timers" trigger kind, supplemented per SPEC_FULL.md; not itself a
// node in the tick-driven graph, but an external trigger feeding the same
// inbox/outbox plumbing as a webhook).
type TimerSource struct {
	cron   *cron.Cron
	queues *ticket.Queues
	store  *blobstore.Store
	traces *flowbus.Traces
	logger telemetry.Logger

	mu      sync.Mutex
	entries map[ecs.Entity]cron.EntryID
}

// NewTimerSource constructs a cron-driven trigger source. Start must be
// called once the graph is fully registered; Stop tears it down cleanly.
func NewTimerSource(queues *ticket.Queues, store *blobstore.Store, traces *flowbus.Traces, logger telemetry.Logger) *TimerSource {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &TimerSource{
		cron:    cron.New(),
		queues:  queues,
		store:   store,
		traces:  traces,
		logger:  logger,
		entries: make(map[ecs.Entity]cron.EntryID),
	}
}

// Register schedules node to receive a fresh trigger ticket on every firing
// of spec (standard five-field cron syntax). payload is the JSON body
// delivered as the trigger's input on each fire.
func (ts *TimerSource) Register(node ecs.Entity, nodeID uuid.UUID, spec string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	id, err := ts.cron.AddFunc(spec, func() {
		ts.fire(node, nodeID, body)
	})
	if err != nil {
		return err
	}
	ts.mu.Lock()
	ts.entries[node] = id
	ts.mu.Unlock()
	return nil
}

// Unregister removes a node's schedule entry, e.g. on graph reload.
func (ts *TimerSource) Unregister(node ecs.Entity) {
	ts.mu.Lock()
	id, ok := ts.entries[node]
	delete(ts.entries, node)
	ts.mu.Unlock()
	if ok {
		ts.cron.Remove(id)
	}
}

func (ts *TimerSource) fire(node ecs.Entity, nodeID uuid.UUID, body []byte) {
	ctx := context.Background()
	var input any
	_ = json.Unmarshal(body, &input)

	_, trace := ts.traces.Create(nodeID, input, false)
	tic, err := ts.store.Store(ctx, body, map[string]string{"trace_id": trace.TraceID.String()})
	if err != nil {
		ts.logger.Warn(ctx, "timer: store failed", "error", err)
		return
	}
	ts.queues.PushInbox(ctx, ts.store, node, tic)
	_ = ts.store.Decref(ctx, tic.ID)
}

// Start begins firing scheduled triggers in their own goroutine, per
// robfig/cron's own internal scheduling loop.
func (ts *TimerSource) Start() { ts.cron.Start() }

// Stop halts the cron scheduler, waiting for any in-flight fire to finish.
func (ts *TimerSource) Stop() { <-ts.cron.Stop().Done() }
