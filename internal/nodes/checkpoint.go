package nodes

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/eventbus"
	"github.com/ferroflux/ferroflux/internal/ferrors"
	"github.com/ferroflux/ferroflux/internal/scheduler"
)

// checkpointWait holds one paused trace awaiting an external resume (spec
// §4.6 "Checkpoint (HITL)").
type checkpointWait struct {
	mu       sync.Mutex
	node     ecs.Entity
	payload  []byte
	resolved bool
	timer    *time.Timer
}

// dispatchCheckpoint moves the popped ticket into the waiting set keyed by
// trace id. If def.CheckpointTimeout is set, an unresolved wait fails with
// a Timeout event after that duration.
func (d *Dispatcher) dispatchCheckpoint(ctx context.Context, node ecs.Entity, def Definition, tk scheduler.TicketHandle) bool {
	_, body, traceID, ok := d.popPayload(ctx, tk)
	if !ok {
		return false
	}

	wait := &checkpointWait{node: node, payload: body}

	d.chkMu.Lock()
	d.chk[traceID] = wait
	d.chkMu.Unlock()

	if def.CheckpointTimeout > 0 {
		wait.timer = time.AfterFunc(def.CheckpointTimeout, func() {
			d.timeoutCheckpoint(context.Background(), traceID, wait)
		})
	}
	return true
}

func (d *Dispatcher) timeoutCheckpoint(ctx context.Context, traceID uuid.UUID, wait *checkpointWait) {
	wait.mu.Lock()
	if wait.resolved {
		wait.mu.Unlock()
		return
	}
	wait.resolved = true
	wait.mu.Unlock()

	d.chkMu.Lock()
	delete(d.chk, traceID)
	d.chkMu.Unlock()

	d.bus.Publish(ctx, eventbus.Failed, traceID, map[string]any{
		"kind":  string(ferrors.Timeout),
		"error": "checkpoint timed out waiting for resume",
	})
}

// ResumeCheckpoint resumes a paused trace, routing the checkpoint's
// originally captured payload (or override, if non-nil) onward through the
// node's outbox. Returns false if no wait is pending for traceID.
func (d *Dispatcher) ResumeCheckpoint(ctx context.Context, traceID uuid.UUID, override []byte) bool {
	d.chkMu.Lock()
	wait, ok := d.chk[traceID]
	if ok {
		delete(d.chk, traceID)
	}
	d.chkMu.Unlock()
	if !ok {
		return false
	}

	wait.mu.Lock()
	if wait.resolved {
		wait.mu.Unlock()
		return false
	}
	wait.resolved = true
	if wait.timer != nil {
		wait.timer.Stop()
	}
	wait.mu.Unlock()

	payload := wait.payload
	if override != nil {
		payload = override
	}
	if err := d.emitGeneric(ctx, wait.node, traceID, payload); err != nil {
		d.logger.Warn(ctx, "checkpoint: resume emit failed", "error", err)
		return false
	}
	return true
}
