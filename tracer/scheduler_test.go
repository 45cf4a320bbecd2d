package tracer

import (
	"testing"
	"time"
)

func TestNaiveScheduler(t *testing.T) {
	type spec struct {
		speed1   float32
		speed2   float32
		rays     uint32
		expRays1 uint32
		expRays2 uint32
	}
	specs := []spec{
		{1, 2, 10, 4, 6},
		{2, 1, 10, 7, 3},
		{1, 1000, 10, 1, 9},
		// Fewer rays than workers
		{1, 1, 1, 0, 1},
		{1, 1, 0, 0, 0},
	}

	for index, s := range specs {
		w1 := makeMockWorker(s.speed1)
		w2 := makeMockWorker(s.speed2)
		workers := []Worker{w1, w2}

		sch := NaiveScheduler()
		blockAssignment := sch.Schedule(workers, s.rays)

		if blockAssignment[0] != s.expRays1 {
			t.Fatalf("[spec %d] expected worker 0 to be assigned %d rays; got %d", index, s.expRays1, blockAssignment[0])
		}

		if blockAssignment[1] != s.expRays2 {
			t.Fatalf("[spec %d] expected worker 1 to be assigned %d rays; got %d", index, s.expRays2, blockAssignment[1])
		}
	}
}

func TestPerfectScheduler(t *testing.T) {
	type spec struct {
		rays     uint32
		time1    time.Duration
		time2    time.Duration
		expRays1 uint32
		expRays2 uint32
	}
	specs := []spec{
		// First call always behaves like the naive scheduler
		{10, time.Duration(1), time.Duration(5), 5, 5},
		// Second call should use the block times to assign rays
		{10, time.Duration(1), time.Duration(5), 9, 1},
		// This time worker 2 performed much better
		{10, time.Duration(5), time.Duration(1), 7, 3},
	}

	// Workers have same speed
	w1 := makeMockWorker(1)
	w2 := makeMockWorker(1)
	workers := []Worker{w1, w2}

	sch := PerfectScheduler()
	for index, s := range specs {
		w1.stats.BlockTime = s.time1
		w2.stats.BlockTime = s.time2

		blockAssignment := sch.Schedule(workers, s.rays)

		if blockAssignment[0] != s.expRays1 {
			t.Fatalf("[spec %d] expected worker 0 to be assigned %d rays; got %d", index, s.expRays1, blockAssignment[0])
		}

		if blockAssignment[1] != s.expRays2 {
			t.Fatalf("[spec %d] expected worker 1 to be assigned %d rays; got %d", index, s.expRays2, blockAssignment[1])
		}

		w1.stats.BlockRays = blockAssignment[0]
		w2.stats.BlockRays = blockAssignment[1]
	}
}

type mockWorker struct {
	speed float32
	stats *WorkerStats
}

func makeMockWorker(speed float32) *mockWorker {
	return &mockWorker{
		speed: speed,
		stats: &WorkerStats{},
	}
}

func (mw *mockWorker) SpeedEstimate() float32 {
	return mw.speed
}

func (mw *mockWorker) Stats() *WorkerStats {
	return mw.stats
}
