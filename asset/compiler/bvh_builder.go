package compiler

import (
	"cmp"
	"slices"
	"time"

	"github.com/achilleasa/meshtrace/asset/layout"
	"github.com/achilleasa/meshtrace/types"
	"github.com/pkg/errors"
)

// A compiled BVH.
type BvhTree struct {
	// The root link. When the whole input fits in one leaf, the root is a
	// leaf link and Nodes is empty.
	Root layout.Link

	// Bounds of all triangles.
	Bounds types.BBox

	// Interior nodes in depth-first order.
	Nodes []layout.BvhNode

	// Triangle indices referenced by leaves. Every leaf starts at a multiple
	// of 4 and spans a multiple of 4 entries; short leaves repeat their last
	// triangle.
	Geometry []uint32

	Stats Stats
}

type bvhBuilder struct {
	*builder

	nodes []layout.BvhNode

	// Triangle indices being partitioned. Each partition call owns a
	// contiguous range.
	refs []uint32

	// Per-axis centroid-sorted copies of refs and suffix areas.
	sorted [3][]uint32
	areas  [3][]float32
}

// Build a BVH over count triangles whose boxes are returned by bounds.
//
// The builder recursively sorts each range by triangle centroid along the
// three axes and picks the SAH-cheapest split between two distinct
// centroids. Ranges become leaves when they are small, too deep, flat, or
// when no split beats the leaf cost.
func BuildBvh(count int, bounds BoundsFunc, opts Options) (*BvhTree, error) {
	start := time.Now()
	base, err := newBuilder("bvh builder", count, bounds, opts)
	if err != nil {
		return nil, err
	}

	b := &bvhBuilder{
		builder: base,
		nodes:   make([]layout.BvhNode, 0, count/2),
		refs:    make([]uint32, count),
	}
	for axis := range b.sorted {
		b.sorted[axis] = make([]uint32, count)
		b.areas[axis] = make([]float32, count)
	}
	for index := range b.refs {
		b.refs[index] = uint32(index)
	}

	rootBox := b.rangeBBox(b.refs)
	root, err := b.partition(0, count, rootBox, 0)
	if err != nil {
		return nil, err
	}

	b.stats.BuildTime = time.Since(start)
	b.logger.Debugf(
		"BVH build time: %d ms, max depth: %d, nodes: %d, leaves: %d, padding: %d",
		b.stats.BuildTime.Nanoseconds()/1e6,
		b.stats.MaxDepth, b.stats.Nodes, b.stats.Leaves, b.stats.PaddingReferences,
	)
	b.progress("BVH ready: %d nodes, %d leaves", b.stats.Nodes, b.stats.Leaves)

	return &BvhTree{
		Root:     root,
		Bounds:   rootBox,
		Nodes:    b.nodes,
		Geometry: b.geometry,
		Stats:    b.stats,
	}, nil
}

// Partition refs[lo:hi] and return a link to the resulting subtree.
func (b *bvhBuilder) partition(lo, hi int, box types.BBox, depth int) (layout.Link, error) {
	n := hi - lo
	if reason, ok := b.mustTerminate(n, box, depth); ok {
		return b.createLeaf(lo, hi, depth, reason)
	}

	split := b.bestSplit(n, func(axis types.Axis) splitCandidate {
		return b.evalAxis(axis, lo, hi, box.SurfaceArea())
	})
	if !split.found {
		return b.createLeaf(lo, hi, depth, LeafInseparable)
	}
	if split.cost >= b.leafCost(n) {
		return b.createLeaf(lo, hi, depth, LeafNoImprovement)
	}

	// Adopt the winning axis ordering; both halves are contiguous ranges.
	copy(b.refs[lo:hi], b.sorted[split.axis][lo:hi])
	mid := lo + split.leftCount

	nodeIndex := len(b.nodes)
	if uint64(nodeIndex) > uint64(layout.MaxLinkIndex()) {
		return layout.Link{}, errors.Wrapf(ErrTooManyNodes, "bvh node %d", nodeIndex)
	}
	b.nodes = append(b.nodes, layout.BvhNode{})
	b.stats.Nodes++

	leftBox := b.rangeBBox(b.refs[lo:mid])
	rightBox := b.rangeBBox(b.refs[mid:hi])

	left, err := b.partition(lo, mid, leftBox, depth+1)
	if err != nil {
		return layout.Link{}, err
	}
	right, err := b.partition(mid, hi, rightBox, depth+1)
	if err != nil {
		return layout.Link{}, err
	}

	b.nodes[nodeIndex] = layout.NewBvhNode(
		layout.BvhChild{Box: leftBox, Link: left},
		layout.BvhChild{Box: rightBox, Link: right},
	)
	return layout.InteriorLink(uint32(nodeIndex)), nil
}

// Sort refs[lo:hi] by centroid along axis and sweep for the cheapest split.
// Only touches the per-axis scratch buffers so axes can be evaluated
// concurrently.
func (b *bvhBuilder) evalAxis(axis types.Axis, lo, hi int, parentArea float32) splitCandidate {
	sorted := b.sorted[axis][lo:hi]
	areas := b.areas[axis][lo:hi]
	copy(sorted, b.refs[lo:hi])

	records := b.records
	slices.SortFunc(sorted, func(a, c uint32) int {
		if d := cmp.Compare(records[a].centroid[axis], records[c].centroid[axis]); d != 0 {
			return d
		}
		return cmp.Compare(a, c)
	})

	// areas[i] holds the area of the box enclosing sorted[i:]
	n := len(sorted)
	acc := types.EmptyBBox()
	for i := n - 1; i > 0; i-- {
		acc.EnlargeToHoldBBox(records[sorted[i]].box)
		areas[i] = acc.SurfaceArea()
	}

	best := splitCandidate{axis: axis}
	acc = types.EmptyBBox()
	for i := 1; i < n; i++ {
		acc.EnlargeToHoldBBox(records[sorted[i-1]].box)

		// Triangles sharing a centroid always land on the same side
		prev, next := records[sorted[i-1]].centroid[axis], records[sorted[i]].centroid[axis]
		if prev == next {
			continue
		}

		cost := b.splitCost(i, acc.SurfaceArea(), n-i, areas[i], parentArea)
		if !best.found || cost < best.cost {
			best.found = true
			best.cost = cost
			best.leftCount = i
			best.value = next
		}
	}
	return best
}

// Emit the triangles in refs[lo:hi] as a leaf padded to a multiple of 4.
func (b *bvhBuilder) createLeaf(lo, hi, depth int, reason LeafReason) (layout.Link, error) {
	first := len(b.geometry)
	n := hi - lo
	padded := (n + 3) &^ 3
	if uint64(first+padded) > uint64(layout.MaxLinkIndex()) {
		return layout.Link{}, errors.Wrapf(ErrTooManyNodes, "bvh geometry entry %d", first+padded)
	}

	b.geometry = append(b.geometry, b.refs[lo:hi]...)
	last := b.refs[hi-1]
	for i := n; i < padded; i++ {
		b.geometry = append(b.geometry, last)
	}

	b.recordLeaf(n, padded-n, depth, reason)
	return layout.LeafLink(uint32(first), uint32(padded)), nil
}

// Get the box enclosing a set of triangles.
func (b *bvhBuilder) rangeBBox(refs []uint32) types.BBox {
	box := types.EmptyBBox()
	for _, tri := range refs {
		box.EnlargeToHoldBBox(b.records[tri].box)
	}
	return box
}
