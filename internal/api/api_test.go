package api

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferroflux/ferroflux/internal/blobstore"
	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/eventbus"
	"github.com/ferroflux/ferroflux/internal/flowbus"
	"github.com/ferroflux/ferroflux/internal/nodes"
	"github.com/ferroflux/ferroflux/internal/scheduler"
	"github.com/ferroflux/ferroflux/internal/stage"
	"github.com/ferroflux/ferroflux/internal/ticket"
	"github.com/ferroflux/ferroflux/internal/topology"
)

const triggerDoc = `
id: 11111111-1111-1111-1111-111111111111
kind: script
script: "input"
edges:
  - to_node: 22222222-2222-2222-2222-222222222222
    label: ""
`

const scriptDoc = `
id: 22222222-2222-2222-2222-222222222222
kind: script
script: "input"
`

func newTestWorker(t *testing.T) (*Worker, *ticket.Queues, *topology.Router) {
	t.Helper()
	w, queues, router, _, _ := newTestWorkerFull(t)
	return w, queues, router
}

func newTestWorkerFull(t *testing.T) (*Worker, *ticket.Queues, *topology.Router, *flowbus.Traces, *eventbus.Bus) {
	t.Helper()
	world := ecs.NewWorld()
	router := topology.NewRouter()
	topo := topology.NewTopology(router)
	queues := ticket.NewQueues()
	store := blobstore.New()
	pipeline := stage.NewPipeline(world)
	traces := flowbus.NewTraces(world, nil)
	bus := eventbus.New(nil)
	dispatch := nodes.NewDispatcher(world, router, topo, queues, store, traces, bus, pipeline, nil, nil)
	sched := scheduler.NewScheduler(queues, dispatch, dispatch)
	pins := ticket.NewPinnedOutputs()

	w := NewWorker(16, world, router, topo, queues, store, sched, dispatch, traces, pins, bus, nil, nil)
	return w, queues, router, traces, bus
}

func writeGraphDir(t *testing.T, docs map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestLoadGraphRegistersNodesAndEdges(t *testing.T) {
	w, _, router := newTestWorker(t)
	dir := writeGraphDir(t, map[string]string{"trigger.yaml": triggerDoc, "script.yaml": scriptDoc})

	require.True(t, w.Submit(LoadGraph{Dir: dir}))
	processed := w.Tick(context.Background())
	assert.True(t, processed)

	_, ok := router.Resolve(uuid.MustParse("11111111-1111-1111-1111-111111111111"))
	assert.True(t, ok)
	_, ok = router.Resolve(uuid.MustParse("22222222-2222-2222-2222-222222222222"))
	assert.True(t, ok)
}

func TestTriggerPushesInitialTicket(t *testing.T) {
	w, queues, router := newTestWorker(t)
	dir := writeGraphDir(t, map[string]string{"trigger.yaml": triggerDoc, "script.yaml": scriptDoc})
	require.True(t, w.Submit(LoadGraph{Dir: dir}))
	w.Tick(context.Background())

	target := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	require.True(t, w.Submit(Trigger{TargetNode: target, Input: map[string]any{"x": 1.0}}))
	processed := w.Tick(context.Background())
	assert.True(t, processed)

	e, ok := router.Resolve(target)
	require.True(t, ok)
	assert.Equal(t, 1, queues.Inbox(e).Len())
}

func TestCancelMarksTraceAndPublishesEvent(t *testing.T) {
	w, _, _, traces, bus := newTestWorkerFull(t)
	dir := writeGraphDir(t, map[string]string{"trigger.yaml": triggerDoc, "script.yaml": scriptDoc})
	require.True(t, w.Submit(LoadGraph{Dir: dir}))
	w.Tick(context.Background())

	sub := bus.Subscribe(4)
	defer sub.Close()

	target := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	require.True(t, w.Submit(Trigger{TargetNode: target, Input: map[string]any{"x": 1.0}}))
	w.Tick(context.Background())

	var traceID uuid.UUID
	select {
	case ev := <-sub.Events():
		require.Equal(t, eventbus.NodeStarted, ev.Kind)
		traceID = ev.TraceID
	case <-time.After(time.Second):
		t.Fatal("expected a node_started event from Trigger")
	}

	require.True(t, w.Submit(Cancel{TraceID: traceID}))
	w.Tick(context.Background())

	assert.True(t, traces.IsCancelled(traceID))
	select {
	case ev := <-sub.Events():
		assert.Equal(t, eventbus.Cancelled, ev.Kind)
		assert.Equal(t, traceID, ev.TraceID)
	case <-time.After(time.Second):
		t.Fatal("expected a cancelled event from Cancel")
	}
}

func TestCancelUnknownTraceIsNoOp(t *testing.T) {
	w, _, _, traces, _ := newTestWorkerFull(t)
	require.True(t, w.Submit(Cancel{TraceID: uuid.New()}))
	processed := w.Tick(context.Background())
	assert.True(t, processed)
	assert.False(t, traces.IsCancelled(uuid.New()))
}

func TestReloadDefinitionsRemovesDroppedNode(t *testing.T) {
	w, _, router := newTestWorker(t)
	dir := writeGraphDir(t, map[string]string{"trigger.yaml": triggerDoc, "script.yaml": scriptDoc})
	require.True(t, w.Submit(LoadGraph{Dir: dir}))
	w.Tick(context.Background())

	require.NoError(t, os.Remove(filepath.Join(dir, "script.yaml")))
	require.True(t, w.Submit(ReloadDefinitions{Dir: dir}))
	w.Tick(context.Background())

	_, ok := router.Resolve(uuid.MustParse("22222222-2222-2222-2222-222222222222"))
	assert.False(t, ok)
	_, ok = router.Resolve(uuid.MustParse("11111111-1111-1111-1111-111111111111"))
	assert.True(t, ok)
}
