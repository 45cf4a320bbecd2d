package tracer

import (
	"github.com/achilleasa/meshtrace/asset/compiler"
	"github.com/achilleasa/meshtrace/asset/geometry"
	"github.com/achilleasa/meshtrace/asset/layout"
	"github.com/achilleasa/meshtrace/tracer/intersect"
	"github.com/achilleasa/meshtrace/types"
	"github.com/chewxy/math32"
)

type kdIndex struct {
	snap    *Snapshot
	bounds  types.BBox
	nodes   []layout.KdNode
	epsilon float32

	// Leaf geometry and the precomputed triangle for each entry.
	geometry  []uint32
	triangles []intersect.Triangle
}

func newKdIndex(snap *Snapshot, src geometry.Source, epsilon float32) *kdIndex {
	idx := &kdIndex{
		snap:      snap,
		bounds:    snap.Bounds,
		nodes:     snap.KdNodes,
		epsilon:   epsilon,
		geometry:  snap.Geometry,
		triangles: make([]intersect.Triangle, len(snap.Geometry)),
	}
	for entry, tri := range idx.geometry {
		idx.triangles[entry] = precompute(src, tri)
	}
	return idx
}

func (idx *kdIndex) BBox() types.BBox {
	return idx.bounds
}

func (idx *kdIndex) Kind() Kind {
	return KindKd
}

func (idx *kdIndex) TriangleCount() int {
	return idx.snap.Triangles
}

func (idx *kdIndex) Stats() compiler.Stats {
	return idx.snap.Stats
}

func (idx *kdIndex) Snapshot() *Snapshot {
	return idx.snap.Clone()
}

func (idx *kdIndex) TraceRay(ray types.Ray, maxDistance float32, ignore int, ctx *Context) (Hit, bool) {
	return idx.traverse(newQuery(ray, idx.epsilon), maxDistance, ignore, modeNearest, ctx)
}

func (idx *kdIndex) DoesSegmentHit(ray types.Ray, length float32, ignore int, ctx *Context) bool {
	_, found := idx.traverse(newQuery(ray, idx.epsilon), length, ignore, modeAny, ctx)
	return found
}

func (idx *kdIndex) GetAllHits(ray types.Ray, ctx *Context) []Hit {
	ctx.beginAllHits(idx.snap.Triangles)
	idx.traverse(newQuery(ray, idx.epsilon), math32.Inf(1), NoIgnore, modeAll, ctx)
	return ctx.hits
}

func (idx *kdIndex) traverse(q query, maxDistance float32, ignore int, mode traversalMode, ctx *Context) (Hit, bool) {
	best := Hit{Distance: maxDistance}
	found := false

	tEnter, tExit := idx.bounds.IntersectRay(q.origin, q.invDir)
	if !reachable(tEnter, tExit, q.tMin, maxDistance) {
		return best, false
	}

	st := &ctx.kdStack
	st.reset()
	st.push(kdFrame{
		node: layout.KdRootIndex,
		tMin: math32.Max(tEnter, 0),
		tMax: math32.Min(tExit, maxDistance),
	})

	for !st.empty() {
		frame := st.pop()
		if frame.tMin > best.Distance {
			continue
		}

		node, tMin, tMax := frame.node, frame.tMin, frame.tMax
		for n := &idx.nodes[node]; !n.IsLeaf(); n = &idx.nodes[node] {
			axis := n.Axis()
			split := n.Split()
			origin := q.origin[axis]
			tSplit := (split - origin) * q.invDir[axis]

			near, far := node+1, n.PositiveChild()
			if origin > split || (origin == split && q.dir[axis] > 0) {
				near, far = far, near
			}

			switch {
			case tSplit != tSplit:
				// The ray lies in the split plane; both sides see the same interval.
				st.push(kdFrame{node: far, tMin: tMin, tMax: tMax})
				node = near
			case tSplit > tMax || tSplit <= 0:
				node = near
			case tSplit < tMin:
				node = far
			default:
				st.push(kdFrame{node: far, tMin: tSplit, tMax: tMax})
				node = near
				tMax = tSplit
			}
		}

		first, count := idx.nodes[node].Geometry()
		for entry := first; entry < first+count; entry++ {
			tri := idx.geometry[entry]
			if int(tri) == ignore {
				continue
			}
			if mode == modeAll && !ctx.visit(tri) {
				continue
			}

			t, u, v, hit := idx.triangles[entry].Intersect(q.origin, q.dir, q.tMin, best.Distance)
			if !hit {
				continue
			}

			switch mode {
			case modeAny:
				return Hit{Distance: t, Triangle: tri, U: u, V: v}, true
			case modeAll:
				ctx.hits = append(ctx.hits, Hit{Distance: t, Triangle: tri, U: u, V: v})
			default:
				best = Hit{Distance: t, Triangle: tri, U: u, V: v}
				found = true
			}
		}

		// Nothing behind this cell can be closer
		if found && best.Distance <= tMax {
			break
		}
	}

	return best, found
}
