// Package janitor runs the periodic BlobStore garbage-collection pass (spec
// §2 "Janitor", §4.1 "run_garbage_collection"). It is one of the two workers
// permitted to suspend (spec §5): it sleeps between GC passes instead of
// ticking with the rest of the world.
package janitor

import (
	"context"
	"time"

	"github.com/ferroflux/ferroflux/internal/blobstore"
	"github.com/ferroflux/ferroflux/internal/telemetry"
)

// Janitor periodically runs BlobStore.RunGarbageCollection on a fixed
// interval, grounded on the teacher's own ticker-driven background sync loop
// (runtime/registry/manager.go's doSync loop).
type Janitor struct {
	store    *blobstore.Store
	interval time.Duration
	logger   telemetry.Logger
	metrics  telemetry.Metrics
}

// New constructs a Janitor that runs a GC pass every interval.
func New(store *blobstore.Store, interval time.Duration, logger telemetry.Logger, metrics telemetry.Metrics) *Janitor {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Janitor{store: store, interval: interval, logger: logger, metrics: metrics}
}

// Run blocks, running GC passes on the configured interval until ctx is
// cancelled. Intended to be started in its own goroutine by the driving
// loop; it sleeps between passes rather than ticking.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	removed := j.store.RunGarbageCollection(ctx)
	if removed > 0 {
		j.logger.Info(ctx, "janitor: gc pass", "removed", removed)
	}
	j.metrics.RecordGauge("ferroflux_blobstore_entries", float64(j.store.EntryCount()))
}
