package stage

import (
	"context"

	"github.com/ferroflux/ferroflux/internal/ecs"
)

// ExecWorker drives the exec stage across ticks: every staging entity in
// PREPPED state is claimed exactly once (via Pipeline.TryMarkExecuting) and
// its Exec call runs in its own goroutine, so a slow call doesn't block the
// rest of the tick loop and a later tick doesn't redispatch it.
type ExecWorker struct {
	pipeline *Pipeline
	sem      *Semaphores
	client   HTTPDoer
}

// NewExecWorker constructs an exec worker bound to a pipeline, the kind
// concurrency semaphores, and the HTTP client used for real calls.
func NewExecWorker(pipeline *Pipeline, sem *Semaphores, client HTTPDoer) *ExecWorker {
	return &ExecWorker{pipeline: pipeline, sem: sem, client: client}
}

// Tick launches Exec for every unclaimed PREPPED staging entity and reports
// whether it found any new work to start.
func (w *ExecWorker) Tick(ctx context.Context) bool {
	started := false
	w.pipeline.EachReady(func(e ecs.Entity, ready ReadyToExecute) {
		if !w.pipeline.TryMarkExecuting(e) {
			return
		}
		started = true
		kind := ready.Context.Kind
		go Exec(ctx, w.pipeline, w.sem, kind, w.client, e)
	})
	return started
}
