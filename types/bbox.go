package types

import "github.com/chewxy/math32"

type Axis uint8

const (
	XAxis Axis = iota
	YAxis
	ZAxis
)

// Conservative scale factor for the slab exit distance. It absorbs the
// rounding error of the three multiplications involved in the slab test
// (1 + 2*gamma(3) for 32-bit floats) so that rays grazing a box face are not
// rejected when the enclosed triangle test would accept them.
const slabExitScale float32 = 1 + 2*(3*0x1p-24)/(1-3*0x1p-24)

// An axis-aligned bounding box. Boxes returned by EmptyBBox have Min > Max
// and are never hit by rays.
type BBox struct {
	Min Vec3
	Max Vec3
}

// Create an empty box that can be enlarged to hold points and other boxes.
func EmptyBBox() BBox {
	return BBox{
		Min: Vec3{math32.MaxFloat32, math32.MaxFloat32, math32.MaxFloat32},
		Max: Vec3{-math32.MaxFloat32, -math32.MaxFloat32, -math32.MaxFloat32},
	}
}

// Create a zero-volume box holding a single point.
func BBoxFromPoint(p Vec3) BBox {
	return BBox{Min: p, Max: p}
}

// Returns true if this is the empty sentinel box.
func (b BBox) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

// Grow the box so it contains p.
func (b *BBox) EnlargeToHoldPoint(p Vec3) {
	b.Min = MinVec3(b.Min, p)
	b.Max = MaxVec3(b.Max, p)
}

// Grow the box so it contains other.
func (b *BBox) EnlargeToHoldBBox(other BBox) {
	b.Min = MinVec3(b.Min, other.Min)
	b.Max = MaxVec3(b.Max, other.Max)
}

// Return the union of two boxes.
func (b BBox) Union(other BBox) BBox {
	b.EnlargeToHoldBBox(other)
	return b
}

// Return the overlap of two boxes. The result is empty if they do not overlap.
func (b BBox) Intersection(other BBox) BBox {
	return BBox{
		Min: MaxVec3(b.Min, other.Min),
		Max: MinVec3(b.Max, other.Max),
	}
}

// Returns true if other lies entirely inside b. Empty boxes are contained in
// every box.
func (b BBox) Contains(other BBox) bool {
	if other.IsEmpty() {
		return true
	}
	for axis := 0; axis < 3; axis++ {
		if other.Min[axis] < b.Min[axis] || other.Max[axis] > b.Max[axis] {
			return false
		}
	}
	return true
}

// Get the box extent along an axis.
func (b BBox) AxisLength(axis Axis) float32 {
	return b.Max[axis] - b.Min[axis]
}

// Get the box extents along all axes.
func (b BBox) Extent() Vec3 {
	return b.Max.Sub(b.Min)
}

// Get the box center.
func (b BBox) Centroid() Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Get the box surface area. The empty box has zero area.
func (b BBox) SurfaceArea() float32 {
	if b.IsEmpty() {
		return 0
	}
	side := b.Extent()
	return 2 * (side[0]*side[1] + side[1]*side[2] + side[0]*side[2])
}

// Get the index of the axis with the largest extent.
func (b BBox) LongestAxis() Axis {
	side := b.Extent()
	switch {
	case side[0] >= side[1] && side[0] >= side[2]:
		return XAxis
	case side[1] >= side[2]:
		return YAxis
	}
	return ZAxis
}

// Split the box with an axis-aligned plane and return the two halves.
func (b BBox) Split(axis Axis, value float32) (below, above BBox) {
	below, above = b, b
	below.Max[axis] = value
	above.Min[axis] = value
	return below, above
}

// Intersect a ray with the box using the slab method. invDir holds the
// component-wise reciprocal of the ray direction. On a miss the returned
// interval is empty (tEnter > tExit). Zero direction components produce
// NaN slab distances which are ignored by the comparisons below.
func (b BBox) IntersectRay(origin, invDir Vec3) (tEnter, tExit float32) {
	tEnter = -math32.MaxFloat32
	tExit = math32.MaxFloat32
	for axis := 0; axis < 3; axis++ {
		t0 := (b.Min[axis] - origin[axis]) * invDir[axis]
		t1 := (b.Max[axis] - origin[axis]) * invDir[axis]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		t1 *= slabExitScale
		if t0 > tEnter {
			tEnter = t0
		}
		if t1 < tExit {
			tExit = t1
		}
	}
	return tEnter, tExit
}
