package cmd

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/achilleasa/meshtrace/asset/geometry"
	"github.com/achilleasa/meshtrace/tracer"
	"github.com/achilleasa/meshtrace/types"
	"github.com/chewxy/math32"
	"github.com/montanaflynn/stats"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Trace batches of random rays against a mesh and report throughput.
func Bench(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() != 1 {
		return errors.New("missing mesh file argument")
	}
	rayCount := ctx.Int("rays")
	passes := ctx.Int("passes")
	if rayCount <= 0 || passes <= 0 {
		return errors.New("rays and passes must be positive")
	}

	mesh, index, err := loadIndex(ctx, ctx.Args().First())
	if err != nil {
		return err
	}

	rays := randomRays(mesh, rayCount, ctx.Int64("seed"))
	results := make([]tracer.RayResult, len(rays))
	bt := tracer.NewBatchTracer(index, ctx.Int("workers"), tracer.PerfectScheduler())

	logger.Noticef("tracing %d passes of %d rays against %d triangles", passes, rayCount, index.TriangleCount())
	passTimes := make(stats.Float64Data, 0, passes)
	for pass := 0; pass < passes; pass++ {
		start := time.Now()
		if err = bt.Trace(context.Background(), rays, math32.Inf(1), results); err != nil {
			return err
		}
		elapsed := time.Since(start)
		passTimes = append(passTimes, float64(elapsed.Nanoseconds())/1e6)
		logger.Infof("pass %d: %s", pass, elapsed)
	}

	hits := 0
	for _, res := range results {
		if res.Found {
			hits++
		}
	}

	report, err := benchReport(passTimes, rayCount)
	if err != nil {
		return err
	}
	logger.Noticef("hit ratio: %.1f %%", 100*float64(hits)/float64(rayCount))
	logger.Noticef("pass statistics\n%s", report)
	logger.Noticef("worker statistics for the last pass\n%s", workerTable(bt.Stats()))
	return nil
}

// Generate rays from random points around the mesh aimed at random points on
// its triangles.
func randomRays(src geometry.Source, count int, seed int64) []types.Ray {
	rng := rand.New(rand.NewSource(seed))
	box := geometry.Bounds(src)
	pad := box.Extent().Mul(0.5)
	box.Min, box.Max = box.Min.Sub(pad), box.Max.Add(pad)

	rays := make([]types.Ray, count)
	for i := range rays {
		var origin types.Vec3
		for axis := 0; axis < 3; axis++ {
			origin[axis] = box.Min[axis] + rng.Float32()*(box.Max[axis]-box.Min[axis])
		}

		tri := rng.Intn(src.TriangleCount())
		a, b := rng.Float32(), rng.Float32()
		if a+b > 1 {
			a, b = 1-a, 1-b
		}
		v0 := src.TriangleVertex(tri, 0)
		target := v0.Add(src.TriangleVertex(tri, 1).Sub(v0).Mul(a)).Add(src.TriangleVertex(tri, 2).Sub(v0).Mul(b))

		dir := target.Sub(origin)
		if dir.IsZero() {
			dir = types.Vec3{0, 0, 1}
		}
		rays[i] = types.NewRay(origin, dir.Normalize())
	}
	return rays
}

func benchReport(passTimes stats.Float64Data, rayCount int) (string, error) {
	mean, err := passTimes.Mean()
	if err != nil {
		return "", err
	}
	stddev, err := passTimes.StandardDeviation()
	if err != nil {
		return "", err
	}
	fastest, err := passTimes.Min()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetHeader([]string{"Metric", "Pass time (ms)", "Mrays/sec"})
	row := func(name string, ms float64) []string {
		return []string{name, fmt.Sprintf("%.2f", ms), fmt.Sprintf("%.2f", float64(rayCount)/(ms*1e3))}
	}
	table.Append(row("fastest", fastest))
	table.Append(row("mean", mean))
	for _, percent := range []float64{50, 90, 99} {
		value, err := passTimes.Percentile(percent)
		if err != nil {
			return "", err
		}
		table.Append(row(fmt.Sprintf("p%.0f", percent), value))
	}
	table.SetFooter([]string{"stddev", fmt.Sprintf("%.2f", stddev), ""})
	table.Render()
	return buf.String(), nil
}

func workerTable(workerStats []tracer.WorkerStats) string {
	var total uint32
	for _, stat := range workerStats {
		total += stat.BlockRays
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Worker", "Block rays", "% of batch", "Block time"})
	for index, stat := range workerStats {
		percent := 0.0
		if total > 0 {
			percent = 100 * float64(stat.BlockRays) / float64(total)
		}
		table.Append([]string{
			fmt.Sprintf("worker-%d", index),
			fmt.Sprintf("%d", stat.BlockRays),
			fmt.Sprintf("%02.1f %%", percent),
			stat.BlockTime.String(),
		})
	}
	table.SetFooter([]string{"", fmt.Sprintf("%d", total), "", ""})
	table.Render()
	return buf.String()
}
