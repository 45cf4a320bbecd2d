// Package compiler partitions triangle sets into BVH and kd-tree node arrays
// using the surface area heuristic (SAH).
package compiler

import (
	"fmt"

	"github.com/achilleasa/meshtrace/asset/layout"
	"github.com/achilleasa/meshtrace/log"
	"github.com/achilleasa/meshtrace/types"
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// The deepest node a builder may emit. Traversal stacks are sized from it.
const MaxTreeDepth = 63

var (
	// ErrEmptyInput is returned when asked to partition zero triangles.
	ErrEmptyInput = errors.New("compiler: no triangles to partition")

	// ErrTooManyNodes is returned when the tree outgrows the packed node layout.
	ErrTooManyNodes = errors.New("compiler: tree exceeds node layout capacity")

	// ErrInvalidOptions is returned for out-of-range builder options.
	ErrInvalidOptions = errors.New("compiler: invalid options")
)

// A function returning the bounding box of a triangle.
type BoundsFunc func(triangle int) types.BBox

// Builder options.
type Options struct {
	// Ranges with this many triangles or fewer always become leaves.
	LeafThreshold int

	// Nodes at this depth always become leaves. Must not exceed MaxTreeDepth.
	MaxDepth int

	// SAH constants: the cost of visiting a node and of testing a triangle.
	TraversalCost    float32
	IntersectionCost float32

	// Kd-tree only: force a split that isolates empty space whenever the
	// empty fraction of a cell along an axis exceeds this value.
	EmptySpaceCutoff float32

	// Ranges with at least this many triangles evaluate the three split
	// axes concurrently.
	ParallelThreshold int

	// Optional diagnostic sink for build progress messages.
	Progress func(msg string)
}

// Get the default options for building a BVH.
func DefaultBvhOptions() Options {
	return Options{
		LeafThreshold:     4,
		MaxDepth:          MaxTreeDepth,
		TraversalCost:     1,
		IntersectionCost:  4,
		EmptySpaceCutoff:  0.4,
		ParallelThreshold: 4096,
	}
}

// Get the default options for building a kd-tree.
func DefaultKdOptions() Options {
	opts := DefaultBvhOptions()
	opts.LeafThreshold = 2
	return opts
}

func (o Options) validate() error {
	switch {
	case o.LeafThreshold < 1:
		return errors.Wrapf(ErrInvalidOptions, "leaf threshold must be >= 1; got %d", o.LeafThreshold)
	case o.MaxDepth < 1 || o.MaxDepth > MaxTreeDepth:
		return errors.Wrapf(ErrInvalidOptions, "max depth must be in [1, %d]; got %d", MaxTreeDepth, o.MaxDepth)
	case o.TraversalCost <= 0 || o.IntersectionCost <= 0:
		return errors.Wrapf(ErrInvalidOptions, "SAH costs must be positive; got %f and %f", o.TraversalCost, o.IntersectionCost)
	case o.EmptySpaceCutoff < 0 || o.EmptySpaceCutoff >= 1:
		return errors.Wrapf(ErrInvalidOptions, "empty space cutoff must be in [0, 1); got %f", o.EmptySpaceCutoff)
	}
	return nil
}

// Per-triangle data computed once before partitioning.
type record struct {
	box      types.BBox
	centroid types.Vec3
}

// The best split found along one axis.
type splitCandidate struct {
	axis  types.Axis
	value float32
	cost  float32
	found bool

	// BVH: number of centroid-sorted triangles that go left.
	leftCount int

	// Kd-tree: send triangles lying on the split plane to the negative side.
	planarLeft bool
}

// State and helpers shared by the BVH and kd-tree builders.
type builder struct {
	logger log.Logger
	opts   Options

	records  []record
	geometry []uint32
	stats    Stats

	// Next progress report threshold, in leaf triangle references.
	nextReport int
}

func newBuilder(name string, count int, bounds BoundsFunc, opts Options) (*builder, error) {
	if count <= 0 {
		return nil, ErrEmptyInput
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if uint64(count) > uint64(layout.MaxLinkIndex()) {
		return nil, errors.Wrapf(ErrTooManyNodes, "%d triangles", count)
	}

	b := &builder{
		logger:   log.New(name),
		opts:     opts,
		records:  make([]record, count),
		geometry: make([]uint32, 0, count),
		stats: Stats{
			Triangles: count,
		},
	}

	for tri := range b.records {
		box := bounds(tri)
		b.records[tri] = record{box: box, centroid: box.Centroid()}
	}

	b.nextReport = count / 10
	b.progress("partitioning %d triangles", count)
	return b, nil
}

// Emit a message to the progress sink, if one is configured.
func (b *builder) progress(format string, args ...interface{}) {
	if b.opts.Progress != nil {
		b.opts.Progress(fmt.Sprintf(format, args...))
	}
}

// Report progress every time another tenth of the input has been placed in leaves.
func (b *builder) trackProgress() {
	if b.stats.LeafReferences < b.nextReport || b.stats.Triangles < 10 {
		return
	}
	done := b.stats.LeafReferences
	if done > b.stats.Triangles {
		done = b.stats.Triangles
	}
	b.progress("placed %d/%d triangles in leaves", done, b.stats.Triangles)
	for b.nextReport <= b.stats.LeafReferences {
		b.nextReport += b.stats.Triangles / 10
	}
}

// Check the unconditional termination criteria for a range of n triangles
// bounded by box at the given depth.
func (b *builder) mustTerminate(n int, box types.BBox, depth int) (LeafReason, bool) {
	switch {
	case n <= b.opts.LeafThreshold:
		return LeafThreshold, true
	case depth >= b.opts.MaxDepth:
		return LeafMaxDepth, true
	case box.SurfaceArea() <= 0:
		return LeafZeroArea, true
	}
	return 0, false
}

// The SAH cost of turning n triangles into a leaf.
func (b *builder) leafCost(n int) float32 {
	return float32(n) * b.opts.IntersectionCost
}

// The SAH cost of a split:
// Ct + (Nl * SAl + Nr * SAr) / SAparent * Ci
func (b *builder) splitCost(leftCount int, leftArea float32, rightCount int, rightArea float32, parentArea float32) float32 {
	return b.opts.TraversalCost +
		(float32(leftCount)*leftArea+float32(rightCount)*rightArea)/parentArea*b.opts.IntersectionCost
}

// Record a leaf in the build statistics.
func (b *builder) recordLeaf(refs, padding, depth int, reason LeafReason) {
	b.stats.Leaves++
	b.stats.LeafReferences += refs
	b.stats.PaddingReferences += padding
	b.stats.LeavesByReason[reason]++
	b.stats.DepthSum += depth
	if depth > b.stats.MaxDepth {
		b.stats.MaxDepth = depth
	}
	b.trackProgress()
}

// Evaluate the best split along each axis and return the cheapest one. Large
// ranges evaluate the axes concurrently; eval must only touch per-axis state.
// Ties are resolved in axis order so results do not depend on scheduling.
func (b *builder) bestSplit(n int, eval func(axis types.Axis) splitCandidate) splitCandidate {
	var results [3]splitCandidate
	if n >= b.opts.ParallelThreshold {
		var g errgroup.Group
		for axis := types.XAxis; axis <= types.ZAxis; axis++ {
			axis := axis
			g.Go(func() error {
				results[axis] = eval(axis)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for axis := types.XAxis; axis <= types.ZAxis; axis++ {
			results[axis] = eval(axis)
		}
	}

	best := splitCandidate{cost: math32.Inf(1)}
	for _, candidate := range results {
		if candidate.found && candidate.cost < best.cost {
			best = candidate
		}
	}
	return best
}
