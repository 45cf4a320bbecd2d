// Package intersect implements Möller-Trumbore ray/triangle intersection for
// single triangles and for 4-triangle blocks stored in lane-major order.
//
// Both routines evaluate exactly the same sequence of float32 operations and
// every product is explicitly rounded so the compiler cannot fuse it into a
// multiply-add. A triangle therefore produces bit-identical results whether
// it is tested on its own or as one lane of a block.
package intersect

import "github.com/achilleasa/meshtrace/types"

// A triangle stored as one vertex and the two edges leaving it.
type Triangle struct {
	V0 types.Vec3
	E1 types.Vec3
	E2 types.Vec3
}

// Precompute a triangle from its three corners.
func NewTriangle(v0, v1, v2 types.Vec3) Triangle {
	return Triangle{
		V0: v0,
		E1: v1.Sub(v0),
		E2: v2.Sub(v0),
	}
}

// Intersect a ray with the triangle. A hit requires tMin <= t < tMax and
// barycentric coordinates inside the triangle. Degenerate triangles and
// zero-length directions yield non-finite intermediates which fail the hit
// predicate.
func (tri *Triangle) Intersect(origin, dir types.Vec3, tMin, tMax float32) (t, u, v float32, hit bool) {
	// pvec = dir x e2
	px := cross(dir[1], tri.E2[2], dir[2], tri.E2[1])
	py := cross(dir[2], tri.E2[0], dir[0], tri.E2[2])
	pz := cross(dir[0], tri.E2[1], dir[1], tri.E2[0])

	det := dot(tri.E1[0], tri.E1[1], tri.E1[2], px, py, pz)
	invDet := 1 / det

	tx := origin[0] - tri.V0[0]
	ty := origin[1] - tri.V0[1]
	tz := origin[2] - tri.V0[2]
	u = float32(dot(tx, ty, tz, px, py, pz) * invDet)

	// qvec = tvec x e1
	qx := cross(ty, tri.E1[2], tz, tri.E1[1])
	qy := cross(tz, tri.E1[0], tx, tri.E1[2])
	qz := cross(tx, tri.E1[1], ty, tri.E1[0])

	v = float32(dot(dir[0], dir[1], dir[2], qx, qy, qz) * invDet)
	t = float32(dot(tri.E2[0], tri.E2[1], tri.E2[2], qx, qy, qz) * invDet)

	return t, u, v, accept(t, u, v, tMin, tMax)
}

// The hit predicate. Every comparison involving NaN is false so non-finite
// results are rejected.
func accept(t, u, v, tMin, tMax float32) bool {
	return t >= tMin && t < tMax &&
		u >= 0 && u <= 1 &&
		v >= 0 && u+v <= 1
}

// a1*b2 - a2*b1 with both products rounded.
func cross(a1, b2, a2, b1 float32) float32 {
	return float32(a1*b2) - float32(a2*b1)
}

func dot(ax, ay, az, bx, by, bz float32) float32 {
	return float32(float32(ax*bx)+float32(ay*by)) + float32(az*bz)
}
