package tracer

import (
	"math"
	"time"
)

// Statistics for the last block of rays traced by a worker.
type WorkerStats struct {
	// Number of rays in the block.
	BlockRays uint32

	// Time spent tracing the block.
	BlockTime time.Duration
}

// A Worker traces blocks of rays on behalf of a BatchTracer.
type Worker interface {
	// Get the worker's relative speed compared to a baseline worker.
	SpeedEstimate() float32

	// Retrieve last block statistics.
	Stats() *WorkerStats
}

// The BlockScheduler interface is implemented by all block scheduling algorithms.
type BlockScheduler interface {
	// Split a batch of rays into contiguous blocks and assign one block to
	// each worker.
	//
	// This function returns the block size assignment for each worker in
	// the input list. The assignments add up to batchSize.
	Schedule(workers []Worker, batchSize uint32) []uint32
}

type naiveScheduler struct {
	blockAssignment []uint32
}

// Create a scheduler that splits batches in proportion to each worker's
// speed estimate.
func NaiveScheduler() BlockScheduler {
	return &naiveScheduler{}
}

func (sch *naiveScheduler) Schedule(workers []Worker, batchSize uint32) []uint32 {
	if len(sch.blockAssignment) != len(workers) {
		sch.blockAssignment = make([]uint32, len(workers))
	}
	return assignBySpeed(sch.blockAssignment, workers, batchSize)
}

// The perfect scheduler assumes that the cost of tracing a ray is roughly
// the same between two subsequent batches.
type perfectScheduler struct {
	blockAssignment []uint32
}

// Create a scheduler that uses the throughput each worker achieved on the
// previous batch to size its next block.
func PerfectScheduler() BlockScheduler {
	return &perfectScheduler{}
}

// When previous batch information is available the scheduler uses the
// following formula for estimating the workload for worker w and batch i+1:
// w_i+1 = (rays_w,i / time_w,i) / Σ(rays_i / time_i)
func (sch *perfectScheduler) Schedule(workers []Worker, batchSize uint32) []uint32 {
	// If this is the first time we try to schedule or the number of workers
	// has changed we need to reset the block assignments
	if len(sch.blockAssignment) != len(workers) {
		sch.blockAssignment = make([]uint32, len(workers))
		return assignBySpeed(sch.blockAssignment, workers, batchSize)
	}

	var total float64
	for _, w := range workers {
		total += throughput(w.Stats())
	}
	if total == 0 {
		return assignBySpeed(sch.blockAssignment, workers, batchSize)
	}

	scaler := float64(batchSize) / total
	for idx, w := range workers {
		sch.blockAssignment[idx] = uint32(math.Max(1.0, math.Floor(throughput(w.Stats())*scaler)))
	}
	return balance(sch.blockAssignment, batchSize)
}

// Rays per nanosecond for a worker's last block.
func throughput(stats *WorkerStats) float64 {
	blockTime := stats.BlockTime
	if blockTime <= 0 {
		blockTime = 1
	}
	return float64(stats.BlockRays) / float64(blockTime)
}

func assignBySpeed(assignment []uint32, workers []Worker, batchSize uint32) []uint32 {
	var total float64
	for _, w := range workers {
		total += float64(w.SpeedEstimate())
	}
	if total <= 0 {
		total = float64(len(workers))
	}

	scaler := float64(batchSize) / total
	for idx, w := range workers {
		assignment[idx] = uint32(math.Max(1.0, math.Floor(float64(w.SpeedEstimate())*scaler)))
	}
	return balance(assignment, batchSize)
}

// Adjust assignments so they add up to batchSize. Missing rays go to the
// first worker; excess rays are taken from the largest blocks.
func balance(assignment []uint32, batchSize uint32) []uint32 {
	if len(assignment) == 0 {
		return assignment
	}

	var scheduled uint32
	for _, rays := range assignment {
		scheduled += rays
	}
	for scheduled > batchSize {
		largest := 0
		for idx, rays := range assignment {
			if rays > assignment[largest] {
				largest = idx
			}
		}
		assignment[largest]--
		scheduled--
	}
	assignment[0] += batchSize - scheduled
	return assignment
}
