package stage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferroflux/ferroflux/internal/blobstore"
	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/flowbus"
	"github.com/ferroflux/ferroflux/internal/ticket"
	"github.com/ferroflux/ferroflux/internal/tools"
)

type fakeDoer struct {
	status int
	body   string
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{StatusCode: f.status, Body: io.NopCloser(bytes.NewBufferString(f.body))}, nil
}

func TestPrepExecPostRoundTrip(t *testing.T) {
	ctx := context.Background()
	world := ecs.NewWorld()
	pipeline := NewPipeline(world)
	store := blobstore.New()
	queues := ticket.NewQueues()
	bus := flowbus.NewState(nil)

	node := ecs.NewEntity()
	queues.Register(node)

	spec := NodeSpec{
		NodeID:    uuid.New(),
		Method:    "POST",
		URL:       "http://example.invalid/{{.input}}",
		ResultKey: "http_result",
		Timeout:   time.Second,
	}
	e, err := Prep(ctx, pipeline, node, spec, []byte(`"endpoint"`), uuid.New(), bus, nil)
	require.NoError(t, err)

	sem := NewSemaphores(map[string]int{"http": 2})
	Exec(ctx, pipeline, sem, "http", &fakeDoer{status: 200, body: `{"ok":true}`}, e)

	result, ok := pipeline.Result(e)
	require.True(t, ok)
	assert.Equal(t, 200, result.Status)

	require.NoError(t, Post(ctx, pipeline, store, queues, node, bus, e))

	got, _ := bus.Get("http_result")
	assert.Equal(t, map[string]any{"ok": true}, got)
	assert.Equal(t, 1, queues.Outbox(node).Len())
	assert.Equal(t, 0, pipeline.InFlightCount())
}

func TestExecTimeoutProducesSyntheticResult(t *testing.T) {
	ctx := context.Background()
	world := ecs.NewWorld()
	pipeline := NewPipeline(world)

	spec := NodeSpec{URL: "http://example.invalid/slow", Timeout: time.Millisecond}
	e, err := Prep(ctx, pipeline, ecs.NewEntity(), spec, nil, uuid.New(), flowbus.NewState(nil), nil)
	require.NoError(t, err)

	blockedSem := NewSemaphores(map[string]int{"http": 1})
	// occupy the sole slot so the real call would block past the deadline
	require.NoError(t, blockedSem.acquire(context.Background(), "http"))

	Exec(ctx, pipeline, blockedSem, "http", &fakeDoer{status: 200}, e)

	result, ok := pipeline.Result(e)
	require.True(t, ok)
	assert.Equal(t, 599, result.Status)
	assert.Equal(t, "timeout", result.RawBody)
}

func TestExecShadowModeSkipsRealIO(t *testing.T) {
	ctx := context.Background()
	world := ecs.NewWorld()
	pipeline := NewPipeline(world)

	spec := NodeSpec{
		URL:         "http://example.invalid/real",
		ShadowMode:  true,
		ShadowMasks: map[string]tools.ShadowMock{"http_client": {ReturnValue: map[string]any{"x": 1.0}}},
	}
	e, err := Prep(ctx, pipeline, ecs.NewEntity(), spec, nil, uuid.New(), flowbus.NewState(nil), nil)
	require.NoError(t, err)

	panicky := &panicDoer{t: t}
	sem := NewSemaphores(nil)
	Exec(ctx, pipeline, sem, "http", panicky, e)

	result, ok := pipeline.Result(e)
	require.True(t, ok)
	assert.Equal(t, 200, result.Status)
	assert.JSONEq(t, `{"x":1}`, result.RawBody)
}

func TestExecWorkerClaimsEachReadyEntityOnce(t *testing.T) {
	ctx := context.Background()
	world := ecs.NewWorld()
	pipeline := NewPipeline(world)
	node := ecs.NewEntity()

	spec := NodeSpec{Kind: "http", URL: "http://example.invalid/slow", Timeout: time.Second}
	e, err := Prep(ctx, pipeline, node, spec, nil, uuid.New(), flowbus.NewState(nil), nil)
	require.NoError(t, err)

	assert.True(t, pipeline.HasInFlight(node))

	blocker := &blockingDoer{entered: make(chan struct{}), release: make(chan struct{})}
	worker := NewExecWorker(pipeline, NewSemaphores(map[string]int{"http": 1}), blocker)

	started := worker.Tick(ctx)
	assert.True(t, started)
	<-blocker.entered

	// a second tick before the goroutine finishes must not redispatch it.
	started = worker.Tick(ctx)
	assert.False(t, started)

	close(blocker.release)
	for {
		if _, executed := pipeline.Result(e); executed {
			break
		}
		time.Sleep(time.Millisecond)
	}

	_, stillReady := pipeline.Ready(e)
	assert.False(t, stillReady)
}

type blockingDoer struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingDoer) Do(req *http.Request) (*http.Response, error) {
	close(b.entered)
	<-b.release
	return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewBufferString("{}"))}, nil
}

type panicDoer struct{ t *testing.T }

func (p *panicDoer) Do(req *http.Request) (*http.Response, error) {
	p.t.Fatal("shadow mode must not perform real I/O")
	return nil, nil
}
