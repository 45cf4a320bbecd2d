package compiler

import (
	"slices"
	"sort"
	"time"

	"github.com/achilleasa/meshtrace/asset/layout"
	"github.com/achilleasa/meshtrace/types"
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// A compiled kd-tree.
type KdTree struct {
	// Bounds of all triangles; the root cell.
	Bounds types.BBox

	// Node 0 is the shared empty leaf and node 1 is the root. The negative
	// child of an interior node is always the node that follows it.
	Nodes []layout.KdNode

	// Triangle indices referenced by leaves. Triangles straddling a split
	// plane appear in leaves on both sides.
	Geometry []uint32

	Stats Stats
}

// Per-axis scratch buffers for split evaluation.
type kdAxisScratch struct {
	mins, maxs, planar []float32
}

type kdBuilder struct {
	*builder

	nodes   []layout.KdNode
	scratch [3]kdAxisScratch
}

// Build a kd-tree over count triangles whose boxes are returned by bounds.
//
// Split candidates along each axis are the distinct triangle box bounds,
// clipped to the current cell, that lie strictly inside the cell. Triangles
// lying in a candidate plane are tried on either side and the cheaper
// assignment is kept. Before evaluating the SAH, the builder isolates large
// empty regions at the cell borders.
func BuildKd(count int, bounds BoundsFunc, opts Options) (*KdTree, error) {
	start := time.Now()
	base, err := newBuilder("kd builder", count, bounds, opts)
	if err != nil {
		return nil, err
	}

	b := &kdBuilder{
		builder: base,
		nodes:   make([]layout.KdNode, 1, count),
	}
	b.nodes[layout.KdSentinelIndex] = layout.KdLeaf(0, 0)

	refs := make([]uint32, count)
	rootBox := types.EmptyBBox()
	for index := range refs {
		refs[index] = uint32(index)
		rootBox.EnlargeToHoldBBox(b.records[index].box)
	}

	if err = b.partition(refs, rootBox, 0); err != nil {
		return nil, err
	}

	b.stats.BuildTime = time.Since(start)
	b.logger.Debugf(
		"kd-tree build time: %d ms, max depth: %d, nodes: %d, leaves: %d (%d empty), references: %d",
		b.stats.BuildTime.Nanoseconds()/1e6,
		b.stats.MaxDepth, b.stats.Nodes, b.stats.Leaves, b.stats.EmptyLeaves, b.stats.LeafReferences,
	)
	b.progress("kd-tree ready: %d nodes, %d leaves", b.stats.Nodes, b.stats.Leaves)

	return &KdTree{
		Bounds:   rootBox,
		Nodes:    b.nodes,
		Geometry: b.geometry,
		Stats:    b.stats,
	}, nil
}

// Partition the triangles overlapping cell. The subtree is appended to the
// node array starting at the current end.
func (b *kdBuilder) partition(refs []uint32, cell types.BBox, depth int) error {
	n := len(refs)
	if reason, ok := b.mustTerminate(n, cell, depth); ok {
		return b.createLeaf(refs, depth, reason)
	}

	if axis, plane, emptyBelow, ok := b.emptySpaceCut(refs, cell); ok {
		b.stats.EmptySpaceCuts++
		below, above := cell.Split(axis, plane)
		if emptyBelow {
			return b.emitInterior(axis, plane, depth,
				func() error { return b.createLeaf(nil, depth+1, LeafThreshold) },
				func() error { return b.partition(refs, above, depth+1) },
			)
		}
		return b.emitInterior(axis, plane, depth,
			func() error { return b.partition(refs, below, depth+1) },
			nil,
		)
	}

	parentArea := cell.SurfaceArea()
	split := b.bestSplit(n, func(axis types.Axis) splitCandidate {
		return b.evalAxis(axis, refs, cell, parentArea)
	})
	if !split.found {
		return b.createLeaf(refs, depth, LeafInseparable)
	}
	if split.cost >= b.leafCost(n) {
		return b.createLeaf(refs, depth, LeafNoImprovement)
	}

	left, right := b.distribute(refs, cell, split)
	if len(left) == 0 || len(right) == 0 || (len(left) == n && len(right) == n) {
		return b.createLeaf(refs, depth, LeafInseparable)
	}

	below, above := cell.Split(split.axis, split.value)
	return b.emitInterior(split.axis, split.value, depth,
		func() error { return b.partition(left, below, depth+1) },
		func() error { return b.partition(right, above, depth+1) },
	)
}

// Append an interior node followed by its negative subtree and then its
// positive subtree. A nil positive builder links the positive side to the
// shared empty leaf.
func (b *kdBuilder) emitInterior(axis types.Axis, plane float32, depth int, negative, positive func() error) error {
	nodeIndex := len(b.nodes)
	b.nodes = append(b.nodes, layout.KdNode{})
	b.stats.Nodes++

	if err := negative(); err != nil {
		return err
	}

	positiveIndex := layout.KdSentinelIndex
	if positive != nil {
		if uint64(len(b.nodes)) > uint64(layout.MaxKdChildIndex()) {
			return errors.Wrapf(ErrTooManyNodes, "kd node %d", len(b.nodes))
		}
		positiveIndex = uint32(len(b.nodes))
		if err := positive(); err != nil {
			return err
		}
	} else {
		b.stats.EmptyLeaves++
		b.recordLeaf(0, 0, depth+1, LeafThreshold)
	}

	b.nodes[nodeIndex] = layout.KdInterior(axis, plane, positiveIndex)
	return nil
}

// Get the box of a triangle clipped to a cell.
func (b *kdBuilder) clippedBBox(tri uint32, cell types.BBox) types.BBox {
	return b.records[tri].box.Intersection(cell)
}

// Check whether the triangles leave a large empty slab at either end of the
// cell along some axis. If so, return the plane that cuts it off and which
// side of the plane is empty.
func (b *kdBuilder) emptySpaceCut(refs []uint32, cell types.BBox) (axis types.Axis, plane float32, emptyBelow, ok bool) {
	if b.opts.EmptySpaceCutoff <= 0 {
		return 0, 0, false, false
	}

	tight := types.EmptyBBox()
	for _, tri := range refs {
		tight.EnlargeToHoldBBox(b.clippedBBox(tri, cell))
	}
	if tight.IsEmpty() {
		return 0, 0, false, false
	}

	for axis = types.XAxis; axis <= types.ZAxis; axis++ {
		length := cell.AxisLength(axis)
		if length <= 0 {
			continue
		}
		lo, hi := tight.Min[axis], tight.Max[axis]
		if (lo-cell.Min[axis])/length > b.opts.EmptySpaceCutoff && lo < cell.Max[axis] {
			return axis, lo, true, true
		}
		if (cell.Max[axis]-hi)/length > b.opts.EmptySpaceCutoff && hi > cell.Min[axis] {
			return axis, hi, false, true
		}
	}
	return 0, 0, false, false
}

// Evaluate all candidate planes along axis. Only touches the per-axis
// scratch buffers so axes can be evaluated concurrently.
func (b *kdBuilder) evalAxis(axis types.Axis, refs []uint32, cell types.BBox, parentArea float32) splitCandidate {
	best := splitCandidate{axis: axis, cost: math32.Inf(1)}
	cellMin, cellMax := cell.Min[axis], cell.Max[axis]
	if cellMax <= cellMin {
		return best
	}

	s := &b.scratch[axis]
	s.mins, s.maxs, s.planar = s.mins[:0], s.maxs[:0], s.planar[:0]
	for _, tri := range refs {
		box := b.clippedBBox(tri, cell)
		lo, hi := box.Min[axis], box.Max[axis]
		s.mins = append(s.mins, lo)
		s.maxs = append(s.maxs, hi)
		if lo == hi {
			s.planar = append(s.planar, lo)
		}
	}
	slices.Sort(s.mins)
	slices.Sort(s.maxs)
	slices.Sort(s.planar)

	n := len(refs)
	evalPlane := func(plane float32) {
		if plane <= cellMin || plane >= cellMax {
			return
		}
		below := countBelow(s.mins, plane)
		above := n - countAtOrBelow(s.maxs, plane)
		onPlane := countAtOrBelow(s.planar, plane) - countBelow(s.planar, plane)

		belowCell, aboveCell := cell.Split(axis, plane)
		belowArea, aboveArea := belowCell.SurfaceArea(), aboveCell.SurfaceArea()

		if cost := b.splitCost(below+onPlane, belowArea, above, aboveArea, parentArea); cost < best.cost {
			best = splitCandidate{axis: axis, value: plane, cost: cost, found: true, planarLeft: true}
		}
		if onPlane == 0 {
			return
		}
		if cost := b.splitCost(below, belowArea, above+onPlane, aboveArea, parentArea); cost < best.cost {
			best = splitCandidate{axis: axis, value: plane, cost: cost, found: true, planarLeft: false}
		}
	}

	for _, bounds := range [2][]float32{s.mins, s.maxs} {
		for index, plane := range bounds {
			if index > 0 && bounds[index-1] == plane {
				continue
			}
			evalPlane(plane)
		}
	}
	return best
}

// Assign triangles to the two sides of a split plane. Triangles spanning
// the plane go to both sides.
func (b *kdBuilder) distribute(refs []uint32, cell types.BBox, split splitCandidate) (left, right []uint32) {
	left = make([]uint32, 0, len(refs))
	right = make([]uint32, 0, len(refs))
	for _, tri := range refs {
		box := b.clippedBBox(tri, cell)
		lo, hi := box.Min[split.axis], box.Max[split.axis]
		onPlane := lo == split.value && hi == split.value
		if lo < split.value || (onPlane && split.planarLeft) {
			left = append(left, tri)
		}
		if hi > split.value || (onPlane && !split.planarLeft) {
			right = append(right, tri)
		}
	}
	return left, right
}

// Append a leaf referencing refs.
func (b *kdBuilder) createLeaf(refs []uint32, depth int, reason LeafReason) error {
	first := len(b.geometry)
	if uint64(first+len(refs)) > uint64(layout.MaxLinkIndex()) {
		return errors.Wrapf(ErrTooManyNodes, "kd geometry entry %d", first+len(refs))
	}
	b.geometry = append(b.geometry, refs...)
	b.nodes = append(b.nodes, layout.KdLeaf(uint32(first), uint32(len(refs))))
	if len(refs) == 0 {
		b.stats.EmptyLeaves++
	}
	b.recordLeaf(len(refs), 0, depth, reason)
	return nil
}

// Count sorted values strictly below v.
func countBelow(sorted []float32, v float32) int {
	return sort.Search(len(sorted), func(i int) bool { return sorted[i] >= v })
}

// Count sorted values at or below v.
func countAtOrBelow(sorted []float32, v float32) int {
	return sort.Search(len(sorted), func(i int) bool { return sorted[i] > v })
}
