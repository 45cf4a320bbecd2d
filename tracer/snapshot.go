package tracer

import (
	"slices"

	"github.com/achilleasa/meshtrace/asset/compiler"
	"github.com/achilleasa/meshtrace/asset/geometry"
	"github.com/achilleasa/meshtrace/asset/layout"
	"github.com/achilleasa/meshtrace/tracer/intersect"
	"github.com/achilleasa/meshtrace/types"
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// ErrInvalidSnapshot is returned when a snapshot does not describe a
// well-formed index.
var ErrInvalidSnapshot = errors.New("invalid index snapshot")

// The immutable state of a built index.
type Snapshot struct {
	Kind Kind

	// Number of triangles in the source mesh.
	Triangles int

	Bounds types.BBox

	// BVH state.
	BvhRoot  layout.Link
	BvhNodes []layout.BvhNode

	// Kd-tree state.
	KdNodes []layout.KdNode

	Geometry []uint32

	Stats compiler.Stats
}

// Get a copy of the snapshot that shares no memory with s.
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	out.BvhNodes = slices.Clone(s.BvhNodes)
	out.KdNodes = slices.Clone(s.KdNodes)
	out.Geometry = slices.Clone(s.Geometry)
	return &out
}

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidSnapshot, format, args...)
}

// Check the structural invariants the traversal code relies on.
func (s *Snapshot) Validate() error {
	if s.Triangles <= 0 {
		return invalid("triangle count %d", s.Triangles)
	}
	if s.Bounds.IsEmpty() {
		return invalid("empty bounds")
	}
	for entry, tri := range s.Geometry {
		if int64(tri) >= int64(s.Triangles) {
			return invalid("geometry entry %d references triangle %d of %d", entry, tri, s.Triangles)
		}
	}

	switch s.Kind {
	case KindBVH:
		if len(s.KdNodes) != 0 {
			return invalid("bvh snapshot carries kd nodes")
		}
		if len(s.Geometry)%intersect.Lanes != 0 {
			return invalid("bvh geometry length %d is not a multiple of %d", len(s.Geometry), intersect.Lanes)
		}
		if !s.BvhRoot.IsLeaf() && s.BvhRoot.Node() != 0 {
			return invalid("bvh root references node %d", s.BvhRoot.Node())
		}
		referenced := make([]bool, s.Triangles)
		if err := s.validateBvhLink(s.BvhRoot, -1, 0, referenced); err != nil {
			return err
		}
		for tri, ok := range referenced {
			if !ok {
				return invalid("bvh does not reference triangle %d", tri)
			}
		}
		return nil
	case KindKd:
		if len(s.BvhNodes) != 0 {
			return invalid("kd snapshot carries bvh nodes")
		}
		if len(s.KdNodes) <= int(layout.KdRootIndex) {
			return invalid("kd snapshot has %d nodes", len(s.KdNodes))
		}
		sentinel := s.KdNodes[layout.KdSentinelIndex]
		if _, count := sentinel.Geometry(); !sentinel.IsLeaf() || count != 0 {
			return invalid("kd node %d is not the empty sentinel", layout.KdSentinelIndex)
		}
		return s.validateKdNode(layout.KdRootIndex, 0)
	}
	return invalid("unknown index kind %d", s.Kind)
}

// Every triangle appears as a real leaf entry exactly once; padding entries
// repeat the last real entry of their leaf.
func (s *Snapshot) validateBvhLink(link layout.Link, parent int, depth int, referenced []bool) error {
	if depth > compiler.MaxTreeDepth {
		return invalid("bvh depth exceeds %d", compiler.MaxTreeDepth)
	}

	if link.IsLeaf() {
		first, count := link.Geometry()
		switch {
		case count == 0 || first%intersect.Lanes != 0 || count%intersect.Lanes != 0:
			return invalid("bvh leaf range (%d, %d) is not %d-aligned", first, count, intersect.Lanes)
		case uint64(first)+uint64(count) > uint64(len(s.Geometry)):
			return invalid("bvh leaf range (%d, %d) exceeds geometry length %d", first, count, len(s.Geometry))
		}

		entries := s.Geometry[first : first+count]
		last := entries[len(entries)-1]
		padding := 0
		for i := len(entries) - 2; i >= 0 && entries[i] == last; i-- {
			padding++
		}
		if padding >= intersect.Lanes {
			return invalid("bvh leaf at %d has %d padding entries", first, padding)
		}
		for entry, tri := range entries[:len(entries)-padding] {
			if referenced[tri] {
				return invalid("bvh geometry entry %d references triangle %d more than once", int(first)+entry, tri)
			}
			referenced[tri] = true
		}
		return nil
	}

	index := int(link.Node())
	if index >= len(s.BvhNodes) || index <= parent {
		return invalid("bvh node %d references child %d of %d", parent, index, len(s.BvhNodes))
	}
	for _, child := range s.BvhNodes[index].Children {
		if err := s.validateBvhLink(child.Link, index, depth+1, referenced); err != nil {
			return err
		}
	}
	return nil
}

func (s *Snapshot) validateKdNode(index uint32, depth int) error {
	if depth > compiler.MaxTreeDepth {
		return invalid("kd depth exceeds %d", compiler.MaxTreeDepth)
	}

	n := s.KdNodes[index]
	if n.IsLeaf() {
		first, count := n.Geometry()
		if uint64(first)+uint64(count) > uint64(len(s.Geometry)) {
			return invalid("kd leaf %d range (%d, %d) exceeds geometry length %d", index, first, count, len(s.Geometry))
		}
		return nil
	}

	if math32.IsNaN(n.Split()) || math32.IsInf(n.Split(), 0) {
		return invalid("kd node %d has non-finite split %f", index, n.Split())
	}
	negative := int(index) + 1
	if negative >= len(s.KdNodes) {
		return invalid("kd node %d has no negative child", index)
	}
	if err := s.validateKdNode(uint32(negative), depth+1); err != nil {
		return err
	}

	positive := n.PositiveChild()
	if positive == layout.KdSentinelIndex {
		return nil
	}
	if int(positive) <= negative || int(positive) >= len(s.KdNodes) {
		return invalid("kd node %d references positive child %d of %d", index, positive, len(s.KdNodes))
	}
	return s.validateKdNode(positive, depth+1)
}

// Recreate an index from a snapshot and the mesh it was built from. The
// snapshot is validated first; src must match the mesh the snapshot was
// built for.
func Restore(snap *Snapshot, src geometry.Source, opts Options) (Index, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if src.TriangleCount() != snap.Triangles {
		return nil, invalid("snapshot covers %d triangles; source has %d", snap.Triangles, src.TriangleCount())
	}
	return newIndex(snap.Clone(), src, opts.Epsilon), nil
}
