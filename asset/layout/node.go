// Package layout defines the node representations shared by the index
// builders and the traversal engine, and their compact binary records.
//
// In memory, nodes are small tagged values with read-only accessors. The
// packed records produced by the Encode/Decode helpers in encoding.go are
// only used at the persistence boundary.
package layout

import "github.com/achilleasa/meshtrace/types"

// A Link references either an interior BVH node or a contiguous range of the
// leaf geometry array.
type Link struct {
	leaf  bool
	index uint32
	count uint32
}

// Create a link to an interior node.
func InteriorLink(node uint32) Link {
	return Link{index: node}
}

// Create a link to a leaf covering count entries of the geometry array,
// starting at first.
func LeafLink(first, count uint32) Link {
	return Link{leaf: true, index: first, count: count}
}

// Returns true if the link points to leaf geometry.
func (l Link) IsLeaf() bool {
	return l.leaf
}

// Get the interior node index. Only meaningful for interior links.
func (l Link) Node() uint32 {
	return l.index
}

// Get the leaf geometry range. Only meaningful for leaf links.
func (l Link) Geometry() (first, count uint32) {
	return l.index, l.count
}

// A BVH child: its bounding box and what lies beneath it.
type BvhChild struct {
	Box  types.BBox
	Link Link
}

// A BVH interior node stores the boxes of both children inline so a single
// record fetch is enough to decide which children a ray visits.
type BvhNode struct {
	Children [2]BvhChild
}

// Create a BVH node from its two children.
func NewBvhNode(left, right BvhChild) BvhNode {
	return BvhNode{Children: [2]BvhChild{left, right}}
}

// The kd-tree node array reserves index 0 for an empty leaf. Interior nodes
// whose positive child is empty point to it.
const (
	KdSentinelIndex uint32 = 0
	KdRootIndex     uint32 = 1
)

// A kd-tree node. Interior nodes split space along an axis; their negative
// child is always the next node in the array and the positive child is
// referenced explicitly. Leaves reference a range of the geometry array.
type KdNode struct {
	leaf  bool
	axis  types.Axis
	split float32

	// Positive child index or first geometry index.
	index uint32

	// Leaf geometry count.
	count uint32
}

// Create an interior kd-tree node.
func KdInterior(axis types.Axis, split float32, positiveChild uint32) KdNode {
	return KdNode{axis: axis, split: split, index: positiveChild}
}

// Create a kd-tree leaf.
func KdLeaf(first, count uint32) KdNode {
	return KdNode{leaf: true, index: first, count: count}
}

// Returns true if this is a leaf.
func (n KdNode) IsLeaf() bool {
	return n.leaf
}

// Get the split axis of an interior node.
func (n KdNode) Axis() types.Axis {
	return n.axis
}

// Get the split plane position of an interior node.
func (n KdNode) Split() float32 {
	return n.split
}

// Get the positive child index of an interior node.
func (n KdNode) PositiveChild() uint32 {
	return n.index
}

// Get the leaf geometry range.
func (n KdNode) Geometry() (first, count uint32) {
	return n.index, n.count
}
