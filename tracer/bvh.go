package tracer

import (
	"github.com/achilleasa/meshtrace/asset/compiler"
	"github.com/achilleasa/meshtrace/asset/geometry"
	"github.com/achilleasa/meshtrace/asset/layout"
	"github.com/achilleasa/meshtrace/tracer/intersect"
	"github.com/achilleasa/meshtrace/types"
	"github.com/chewxy/math32"
)

type bvhIndex struct {
	snap    *Snapshot
	root    layout.Link
	bounds  types.BBox
	nodes   []layout.BvhNode
	epsilon float32

	// Leaf geometry; blocks[i] holds the triangles of geometry[4i:4i+4].
	geometry []uint32
	blocks   []intersect.Block
}

func newBvhIndex(snap *Snapshot, src geometry.Source, epsilon float32) *bvhIndex {
	idx := &bvhIndex{
		snap:     snap,
		root:     snap.BvhRoot,
		bounds:   snap.Bounds,
		nodes:    snap.BvhNodes,
		epsilon:  epsilon,
		geometry: snap.Geometry,
		blocks:   make([]intersect.Block, len(snap.Geometry)/intersect.Lanes),
	}

	for blk := range idx.blocks {
		for lane := 0; lane < intersect.Lanes; lane++ {
			tri := precompute(src, idx.geometry[blk*intersect.Lanes+lane])
			idx.blocks[blk].Set(lane, &tri)
		}
	}
	return idx
}

func precompute(src geometry.Source, tri uint32) intersect.Triangle {
	return intersect.NewTriangle(
		src.TriangleVertex(int(tri), 0),
		src.TriangleVertex(int(tri), 1),
		src.TriangleVertex(int(tri), 2),
	)
}

func (idx *bvhIndex) BBox() types.BBox {
	return idx.bounds
}

func (idx *bvhIndex) Kind() Kind {
	return KindBVH
}

func (idx *bvhIndex) TriangleCount() int {
	return idx.snap.Triangles
}

func (idx *bvhIndex) Stats() compiler.Stats {
	return idx.snap.Stats
}

func (idx *bvhIndex) Snapshot() *Snapshot {
	return idx.snap.Clone()
}

// The traversal modes share a single loop.
type traversalMode uint8

const (
	modeNearest traversalMode = iota
	modeAny
	modeAll
)

func (idx *bvhIndex) TraceRay(ray types.Ray, maxDistance float32, ignore int, ctx *Context) (Hit, bool) {
	return idx.traverse(newQuery(ray, idx.epsilon), maxDistance, ignore, modeNearest, ctx)
}

func (idx *bvhIndex) DoesSegmentHit(ray types.Ray, length float32, ignore int, ctx *Context) bool {
	_, found := idx.traverse(newQuery(ray, idx.epsilon), length, ignore, modeAny, ctx)
	return found
}

func (idx *bvhIndex) GetAllHits(ray types.Ray, ctx *Context) []Hit {
	ctx.beginAllHits(idx.snap.Triangles)
	idx.traverse(newQuery(ray, idx.epsilon), math32.Inf(1), NoIgnore, modeAll, ctx)
	return ctx.hits
}

// Returns true if the ray interval [tEnter, tExit] overlaps [tMin, tMax].
func reachable(tEnter, tExit, tMin, tMax float32) bool {
	return tEnter <= tExit && tExit >= tMin && tEnter <= tMax
}

func (idx *bvhIndex) traverse(q query, maxDistance float32, ignore int, mode traversalMode, ctx *Context) (Hit, bool) {
	best := Hit{Distance: maxDistance}
	found := false

	tEnter, tExit := idx.bounds.IntersectRay(q.origin, q.invDir)
	if !reachable(tEnter, tExit, q.tMin, maxDistance) {
		return best, false
	}

	st := &ctx.bvhStack
	st.reset()
	st.push(bvhFrame{link: idx.root, tEnter: tEnter})

nextFrame:
	for !st.empty() {
		frame := st.pop()
		if frame.tEnter > best.Distance {
			continue
		}

		link := frame.link
		for !link.IsLeaf() {
			node := &idx.nodes[link.Node()]
			left, right := &node.Children[0], &node.Children[1]
			lEnter, lExit := left.Box.IntersectRay(q.origin, q.invDir)
			rEnter, rExit := right.Box.IntersectRay(q.origin, q.invDir)
			hitLeft := reachable(lEnter, lExit, q.tMin, best.Distance)
			hitRight := reachable(rEnter, rExit, q.tMin, best.Distance)

			switch {
			case hitLeft && hitRight:
				if rEnter < lEnter {
					st.push(bvhFrame{link: left.Link, tEnter: lEnter})
					link = right.Link
				} else {
					st.push(bvhFrame{link: right.Link, tEnter: rEnter})
					link = left.Link
				}
			case hitLeft:
				link = left.Link
			case hitRight:
				link = right.Link
			default:
				continue nextFrame
			}
		}

		first, count := link.Geometry()
		lo, hi := int(first)/intersect.Lanes, int(first+count)/intersect.Lanes
		for blk := lo; blk < hi; blk++ {
			mask := idx.blocks[blk].Intersect(q.origin, q.dir, q.tMin, best.Distance, &ctx.lanes)
			if mask == 0 {
				continue
			}

			for lane := 0; lane < intersect.Lanes; lane++ {
				if mask&(1<<lane) == 0 {
					continue
				}
				tri := idx.geometry[blk*intersect.Lanes+lane]
				if int(tri) == ignore {
					continue
				}

				switch mode {
				case modeAny:
					return Hit{Distance: ctx.lanes.T[lane], Triangle: tri, U: ctx.lanes.U[lane], V: ctx.lanes.V[lane]}, true
				case modeAll:
					if ctx.visit(tri) {
						ctx.hits = append(ctx.hits, Hit{Distance: ctx.lanes.T[lane], Triangle: tri, U: ctx.lanes.U[lane], V: ctx.lanes.V[lane]})
					}
				default:
					if ctx.lanes.T[lane] < best.Distance {
						best = Hit{Distance: ctx.lanes.T[lane], Triangle: tri, U: ctx.lanes.U[lane], V: ctx.lanes.V[lane]}
						found = true
					}
				}
			}
		}
	}

	return best, found
}
