package intersect

import "github.com/achilleasa/meshtrace/types"

// Number of triangles tested together by a Block.
const Lanes = 4

// Per-lane intersection results.
type LaneHits struct {
	// Bit i is set when lane i reports a hit.
	Mask uint8

	T [Lanes]float32
	U [Lanes]float32
	V [Lanes]float32
}

// Four triangles stored component-wise so that each arithmetic step runs
// over all lanes at once.
type Block struct {
	v0 [3][Lanes]float32
	e1 [3][Lanes]float32
	e2 [3][Lanes]float32
}

// Pack up to 4 triangles into a block. Missing lanes repeat the last triangle.
// A block created without triangles has zero-area lanes that never report a hit.
func NewBlock(tris ...Triangle) Block {
	var b Block
	if len(tris) == 0 {
		return b
	}
	for lane := 0; lane < Lanes; lane++ {
		src := len(tris) - 1
		if lane < len(tris) {
			src = lane
		}
		b.Set(lane, &tris[src])
	}
	return b
}

// Store a triangle in the given lane.
func (b *Block) Set(lane int, tri *Triangle) {
	for axis := 0; axis < 3; axis++ {
		b.v0[axis][lane] = tri.V0[axis]
		b.e1[axis][lane] = tri.E1[axis]
		b.e2[axis][lane] = tri.E2[axis]
	}
}

// Get the triangle stored in a lane.
func (b *Block) Lane(lane int) Triangle {
	var tri Triangle
	for axis := 0; axis < 3; axis++ {
		tri.V0[axis] = b.v0[axis][lane]
		tri.E1[axis] = b.e1[axis][lane]
		tri.E2[axis] = b.e2[axis][lane]
	}
	return tri
}

// Intersect a ray with all four lanes and store per-lane results in out.
// The hit predicate is identical to Triangle.Intersect.
func (b *Block) Intersect(origin, dir types.Vec3, tMin, tMax float32, out *LaneHits) uint8 {
	var px, py, pz, invDet [Lanes]float32
	var tx, ty, tz, qx, qy, qz [Lanes]float32

	for i := 0; i < Lanes; i++ {
		px[i] = cross(dir[1], b.e2[2][i], dir[2], b.e2[1][i])
		py[i] = cross(dir[2], b.e2[0][i], dir[0], b.e2[2][i])
		pz[i] = cross(dir[0], b.e2[1][i], dir[1], b.e2[0][i])
	}
	for i := 0; i < Lanes; i++ {
		invDet[i] = 1 / dot(b.e1[0][i], b.e1[1][i], b.e1[2][i], px[i], py[i], pz[i])
	}
	for i := 0; i < Lanes; i++ {
		tx[i] = origin[0] - b.v0[0][i]
		ty[i] = origin[1] - b.v0[1][i]
		tz[i] = origin[2] - b.v0[2][i]
	}
	for i := 0; i < Lanes; i++ {
		out.U[i] = float32(dot(tx[i], ty[i], tz[i], px[i], py[i], pz[i]) * invDet[i])
	}
	for i := 0; i < Lanes; i++ {
		qx[i] = cross(ty[i], b.e1[2][i], tz[i], b.e1[1][i])
		qy[i] = cross(tz[i], b.e1[0][i], tx[i], b.e1[2][i])
		qz[i] = cross(tx[i], b.e1[1][i], ty[i], b.e1[0][i])
	}
	for i := 0; i < Lanes; i++ {
		out.V[i] = float32(dot(dir[0], dir[1], dir[2], qx[i], qy[i], qz[i]) * invDet[i])
		out.T[i] = float32(dot(b.e2[0][i], b.e2[1][i], b.e2[2][i], qx[i], qy[i], qz[i]) * invDet[i])
	}

	var mask uint8
	for i := 0; i < Lanes; i++ {
		if accept(out.T[i], out.U[i], out.V[i], tMin, tMax) {
			mask |= 1 << i
		}
	}
	out.Mask = mask
	return mask
}
