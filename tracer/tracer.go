// Package tracer answers ray queries against a static triangle mesh using
// either a BVH or a kd-tree.
//
// An Index is built once and is then safe for concurrent queries. Every
// concurrent caller supplies its own Context holding the traversal stack and
// scratch buffers; a Context may be reused sequentially but never shared
// between goroutines.
package tracer

import (
	"fmt"
	"strings"

	"github.com/achilleasa/meshtrace/asset/compiler"
	"github.com/achilleasa/meshtrace/asset/geometry"
	"github.com/achilleasa/meshtrace/log"
	"github.com/achilleasa/meshtrace/types"
	"github.com/pkg/errors"
)

// Passing NoIgnore as the ignored triangle disables self-intersection
// filtering.
const NoIgnore = -1

// ErrBuildFailed is reported for every failure to construct an index. Use
// errors.Is to test for it; the underlying cause remains reachable.
var ErrBuildFailed = errors.New("index build failed")

type buildError struct {
	cause error
}

func (e *buildError) Error() string {
	return ErrBuildFailed.Error() + ": " + e.cause.Error()
}

func (e *buildError) Is(target error) bool {
	return target == ErrBuildFailed
}

func (e *buildError) Unwrap() error {
	return e.cause
}

func buildFailed(err error) error {
	return &buildError{cause: err}
}

// The type of spatial index.
type Kind uint8

const (
	KindBVH Kind = iota
	KindKd
)

func (k Kind) String() string {
	switch k {
	case KindBVH:
		return "bvh"
	case KindKd:
		return "kd"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Parse a kind name as produced by Kind.String.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(name) {
	case "bvh":
		return KindBVH, nil
	case "kd", "kdtree", "kd-tree":
		return KindKd, nil
	}
	return 0, errors.Errorf("unknown index kind %q", name)
}

// Index build options.
type Options struct {
	Kind Kind

	// Options passed to the SAH builder.
	Builder compiler.Options

	// Base self-intersection epsilon. The minimum hit distance for a ray is
	// Epsilon * max(1, largest absolute origin component).
	Epsilon float32
}

// Get the default options for an index kind.
func DefaultOptions(kind Kind) Options {
	opts := Options{
		Kind:    kind,
		Epsilon: 1e-5,
	}
	if kind == KindKd {
		opts.Builder = compiler.DefaultKdOptions()
	} else {
		opts.Builder = compiler.DefaultBvhOptions()
	}
	return opts
}

// A ray/triangle intersection.
type Hit struct {
	// Distance along the ray in units of the ray direction length.
	Distance float32

	Triangle uint32

	// Barycentric coordinates of the hit point.
	U, V float32
}

// An Index answers ray queries against the mesh it was built from.
type Index interface {
	// Find the nearest hit closer than maxDistance, skipping the ignored
	// triangle (or NoIgnore).
	TraceRay(ray types.Ray, maxDistance float32, ignore int, ctx *Context) (Hit, bool)

	// Returns true if any triangle other than the ignored one is hit closer
	// than length.
	DoesSegmentHit(ray types.Ray, length float32, ignore int, ctx *Context) bool

	// Collect every triangle hit by the ray, in no particular order. Each
	// triangle is reported once. The returned slice is owned by ctx and is
	// only valid until the next query that uses it.
	GetAllHits(ray types.Ray, ctx *Context) []Hit

	// Get the world-space bounds of the indexed mesh.
	BBox() types.BBox

	Kind() Kind
	TriangleCount() int
	Stats() compiler.Stats

	// Export the index state so it can be persisted. The returned snapshot
	// is a copy; changing it does not affect the index.
	Snapshot() *Snapshot
}

// Build an index over the triangles of src.
func Build(src geometry.Source, opts Options) (Index, error) {
	logger := log.New("tracer")
	count := src.TriangleCount()
	logger.Noticef("building %s index for %d triangles", opts.Kind, count)

	bounds := func(tri int) types.BBox {
		return geometry.TriangleBBox(src, tri)
	}

	var snap *Snapshot
	switch opts.Kind {
	case KindBVH:
		tree, err := compiler.BuildBvh(count, bounds, opts.Builder)
		if err != nil {
			return nil, buildFailed(err)
		}
		snap = &Snapshot{
			Kind:      KindBVH,
			Triangles: count,
			Bounds:    tree.Bounds,
			BvhRoot:   tree.Root,
			BvhNodes:  tree.Nodes,
			Geometry:  tree.Geometry,
			Stats:     tree.Stats,
		}
	case KindKd:
		tree, err := compiler.BuildKd(count, bounds, opts.Builder)
		if err != nil {
			return nil, buildFailed(err)
		}
		snap = &Snapshot{
			Kind:      KindKd,
			Triangles: count,
			Bounds:    tree.Bounds,
			KdNodes:   tree.Nodes,
			Geometry:  tree.Geometry,
			Stats:     tree.Stats,
		}
	default:
		return nil, buildFailed(errors.Errorf("unsupported index kind %s", opts.Kind))
	}

	if debugEnabled {
		if err := snap.Validate(); err != nil {
			panic(errors.Wrap(err, "builder produced an invalid index"))
		}
	}

	idx := newIndex(snap, src, opts.Epsilon)
	logger.Infof("%s index ready in %s", opts.Kind, snap.Stats.BuildTime)
	return idx, nil
}

func newIndex(snap *Snapshot, src geometry.Source, epsilon float32) Index {
	if snap.Kind == KindKd {
		return newKdIndex(snap, src, epsilon)
	}
	return newBvhIndex(snap, src, epsilon)
}
