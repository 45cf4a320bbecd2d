package tracer

import (
	"context"
	"fmt"
	"time"

	"github.com/achilleasa/meshtrace/log"
	"github.com/achilleasa/meshtrace/types"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Workers check for cancellation after tracing this many rays.
const cancellationCheckInterval = 1024

// The outcome of tracing one ray of a batch.
type RayResult struct {
	Hit   Hit
	Found bool
}

type batchWorker struct {
	id    string
	ctx   *Context
	speed float32
	stats WorkerStats
}

func (w *batchWorker) SpeedEstimate() float32 {
	return w.speed
}

func (w *batchWorker) Stats() *WorkerStats {
	return &w.stats
}

// Trace a contiguous block of rays with the worker's own context.
func (w *batchWorker) trace(ctx context.Context, index Index, rays []types.Ray, maxDistance float32, out []RayResult) error {
	start := time.Now()
	for lo := 0; lo < len(rays); lo += cancellationCheckInterval {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "%s: batch cancelled", w.id)
		}
		hi := min(lo+cancellationCheckInterval, len(rays))
		for i := lo; i < hi; i++ {
			out[i].Hit, out[i].Found = index.TraceRay(rays[i], maxDistance, NoIgnore, w.ctx)
		}
	}
	w.stats = WorkerStats{
		BlockRays: uint32(len(rays)),
		BlockTime: time.Since(start),
	}
	return nil
}

// A BatchTracer traces arrays of rays using a pool of workers, each with its
// own traversal context. A BatchTracer must not be used concurrently.
type BatchTracer struct {
	logger    log.Logger
	index     Index
	scheduler BlockScheduler
	pool      []*batchWorker
	workers   []Worker
}

// Create a batch tracer with the given number of workers.
func NewBatchTracer(index Index, workers int, scheduler BlockScheduler) *BatchTracer {
	if workers < 1 {
		workers = 1
	}
	bt := &BatchTracer{
		logger:    log.New("batch tracer"),
		index:     index,
		scheduler: scheduler,
		pool:      make([]*batchWorker, workers),
		workers:   make([]Worker, workers),
	}
	for i := range bt.pool {
		bt.pool[i] = &batchWorker{
			id:    fmt.Sprintf("worker-%d", i),
			ctx:   NewContext(),
			speed: 1,
		}
		bt.workers[i] = bt.pool[i]
	}
	return bt
}

// Trace every ray for its nearest hit closer than maxDistance and store the
// results in out, which must hold at least len(rays) entries.
func (bt *BatchTracer) Trace(ctx context.Context, rays []types.Ray, maxDistance float32, out []RayResult) error {
	if len(out) < len(rays) {
		return errors.Errorf("result buffer holds %d entries; need %d", len(out), len(rays))
	}

	assignment := bt.scheduler.Schedule(bt.workers, uint32(len(rays)))
	bt.logger.Debugf("block assignment for %d rays: %v", len(rays), assignment)

	g, gctx := errgroup.WithContext(ctx)
	offset := 0
	for i, w := range bt.pool {
		w := w
		lo, hi := offset, offset+int(assignment[i])
		offset = hi
		g.Go(func() error {
			return w.trace(gctx, bt.index, rays[lo:hi], maxDistance, out[lo:hi])
		})
	}
	return g.Wait()
}

// Get the statistics of each worker's last block.
func (bt *BatchTracer) Stats() []WorkerStats {
	stats := make([]WorkerStats, len(bt.pool))
	for i, w := range bt.pool {
		stats[i] = w.stats
	}
	return stats
}

// Trace a batch of rays with a one-off pool of workers.
func TraceBatch(ctx context.Context, index Index, rays []types.Ray, maxDistance float32, workers int) ([]RayResult, error) {
	out := make([]RayResult, len(rays))
	if err := NewBatchTracer(index, workers, NaiveScheduler()).Trace(ctx, rays, maxDistance, out); err != nil {
		return nil, err
	}
	return out, nil
}
