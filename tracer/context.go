package tracer

import (
	"github.com/achilleasa/meshtrace/asset/compiler"
	"github.com/achilleasa/meshtrace/asset/layout"
	"github.com/achilleasa/meshtrace/tracer/intersect"
	"github.com/achilleasa/meshtrace/types"
)

// Trees never exceed compiler.MaxTreeDepth levels and traversal pushes at
// most one frame per level.
const stackCapacity = compiler.MaxTreeDepth + 1

// A fixed-capacity LIFO of traversal frames.
type stack[T any] struct {
	frames [stackCapacity]T
	size   int
}

func (s *stack[T]) reset() {
	s.size = 0
}

func (s *stack[T]) empty() bool {
	return s.size == 0
}

func (s *stack[T]) push(f T) {
	if debugEnabled && s.size == stackCapacity {
		panic("tracer: traversal stack overflow")
	}
	s.frames[s.size] = f
	s.size++
}

func (s *stack[T]) pop() T {
	s.size--
	return s.frames[s.size]
}

type bvhFrame struct {
	link   layout.Link
	tEnter float32
}

type kdFrame struct {
	node       uint32
	tMin, tMax float32
}

// A Context holds the scratch state of one traversal. Allocate one per
// worker and reuse it across queries.
type Context struct {
	bvhStack stack[bvhFrame]
	kdStack  stack[kdFrame]
	lanes    intersect.LaneHits

	// Per-triangle stamps marking triangles already visited by the current
	// all-hits query.
	mailbox []uint32
	stamp   uint32

	hits []Hit
}

// Create a traversal context.
func NewContext() *Context {
	return &Context{}
}

// Start a new all-hits query over an index with the given number of
// triangles.
func (ctx *Context) beginAllHits(triangles int) {
	ctx.hits = ctx.hits[:0]
	if len(ctx.mailbox) < triangles {
		ctx.mailbox = make([]uint32, triangles)
		ctx.stamp = 0
	}
	ctx.stamp++
	if ctx.stamp == 0 {
		clear(ctx.mailbox)
		ctx.stamp = 1
	}
}

// Mark a triangle as visited by the current all-hits query. Returns false
// if it had already been visited.
func (ctx *Context) visit(tri uint32) bool {
	if ctx.mailbox[tri] == ctx.stamp {
		return false
	}
	ctx.mailbox[tri] = ctx.stamp
	return true
}

// Per-query ray state shared by all traversal modes.
type query struct {
	origin types.Vec3
	dir    types.Vec3
	invDir types.Vec3
	tMin   float32
}

func newQuery(ray types.Ray, epsilon float32) query {
	return query{
		origin: ray.Origin,
		dir:    ray.Dir,
		invDir: ray.Dir.Inv(),
		tMin:   ray.MinDistance(epsilon),
	}
}
