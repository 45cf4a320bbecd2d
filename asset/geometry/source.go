package geometry

import (
	"encoding/binary"
	"math"

	"github.com/achilleasa/meshtrace/types"
	"github.com/cespare/xxhash/v2"
)

// The Source interface is implemented by immutable triangle soups that can be
// indexed for ray queries. Indices only borrow a source while building and
// while rebuilding their precomputed triangle data.
type Source interface {
	// Get the number of triangles.
	TriangleCount() int

	// Get the position of a triangle corner (0, 1 or 2).
	TriangleVertex(triangle, corner int) types.Vec3
}

// Get the bounding box of a single source triangle.
func TriangleBBox(src Source, triangle int) types.BBox {
	box := types.BBoxFromPoint(src.TriangleVertex(triangle, 0))
	box.EnlargeToHoldPoint(src.TriangleVertex(triangle, 1))
	box.EnlargeToHoldPoint(src.TriangleVertex(triangle, 2))
	return box
}

// Get the bounding box of all source triangles.
func Bounds(src Source) types.BBox {
	box := types.EmptyBBox()
	for tri := 0; tri < src.TriangleCount(); tri++ {
		box.EnlargeToHoldBBox(TriangleBBox(src, tri))
	}
	return box
}

// Calculate an order-sensitive content hash over the triangle count and the
// IEEE bit pattern of every triangle corner position.
func Checksum(src Source) uint64 {
	digest := xxhash.New()

	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(src.TriangleCount()))
	digest.Write(buf[:8])

	for tri := 0; tri < src.TriangleCount(); tri++ {
		for corner := 0; corner < 3; corner++ {
			v := src.TriangleVertex(tri, corner)
			binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(v[0]))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(v[1]))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(v[2]))
			digest.Write(buf[:])
		}
	}

	return digest.Sum64()
}
