package tracer

import (
	"context"
	"fmt"
	"testing"

	"github.com/achilleasa/meshtrace/asset/compiler"
	"github.com/achilleasa/meshtrace/asset/geometry"
	"github.com/achilleasa/meshtrace/asset/layout"
	"github.com/achilleasa/meshtrace/types"
	"github.com/chewxy/math32"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
)

var snapshotCmpOpts = cmp.Options{
	cmp.AllowUnexported(layout.Link{}, layout.KdNode{}),
	cmpopts.IgnoreFields(compiler.Stats{}, "BuildTime"),
}

func TestBruteForceEquivalence(t *testing.T) {
	rayCount := 10000
	if testing.Short() {
		rayCount = 1000
	}

	meshes := []struct {
		name string
		src  *geometry.Mesh
	}{
		{"small soup", randomMesh(1, 16, 4)},
		{"large soup", randomMesh(2, 10000, 40)},
		{"box shell", boxShellMesh(types.Vec3{-3, -1, -2}, types.Vec3{3, 2, 2}, 12)},
	}

	for _, mesh := range meshes {
		tris := precomputeAll(mesh.src)
		rays := randomRays(int64(len(mesh.name)), mesh.src, rayCount)

		for _, kind := range allKinds {
			t.Run(fmt.Sprintf("%s/%s", mesh.name, kind), func(t *testing.T) {
				idx := mustBuild(t, mesh.src, kind)
				ctx := NewContext()

				hits := 0
				for i, ray := range rays {
					exp, expFound := bruteForceNearest(tris, ray, math32.Inf(1), NoIgnore)
					got, gotFound := idx.TraceRay(ray, math32.Inf(1), NoIgnore, ctx)
					checkSameHit(t, fmt.Sprintf("ray %d", i), exp, expFound, got, gotFound)
					if gotFound {
						hits++
					}
				}
				if hits < rayCount/4 {
					t.Fatalf("expected at least %d hits; got %d", rayCount/4, hits)
				}
			})
		}
	}
}

func TestAllHitsMatchBruteForce(t *testing.T) {
	meshes := []*geometry.Mesh{
		randomMesh(3, 2000, 10),
		boxShellMesh(types.Vec3{0, 0, 0}, types.Vec3{4, 4, 4}, 8),
	}

	for mi, mesh := range meshes {
		tris := precomputeAll(mesh)
		rays := randomRays(int64(mi), mesh, 500)
		for _, kind := range allKinds {
			idx := mustBuild(t, mesh, kind)
			ctx := NewContext()
			for ri, ray := range rays {
				got := sortHits(idx.GetAllHits(ray, ctx))
				exp := sortHits(bruteForceAll(tris, ray))
				if diff := cmp.Diff(exp, got, cmpopts.EquateEmpty()); diff != "" {
					t.Fatalf("[mesh %d, %s, ray %d] all-hits mismatch (-want +got):\n%s", mi, kind, ri, diff)
				}
			}
		}
	}
}

func TestAllHitsDeduplicatesStraddlingTriangles(t *testing.T) {
	// A few huge triangles crossing a dense cluster get referenced by many
	// kd-tree leaves.
	mesh := randomMesh(4, 500, 10)
	mesh.AddTriangle(types.Vec3{-50, 5, -50}, types.Vec3{50, 5, -50}, types.Vec3{0, 5, 50})
	mesh.AddTriangle(types.Vec3{5, -50, -50}, types.Vec3{5, 50, -50}, types.Vec3{5, 0, 50})
	big := []uint32{500, 501}

	for _, kind := range allKinds {
		idx := mustBuild(t, mesh, kind)
		ctx := NewContext()
		ray := types.NewRay(types.Vec3{-20, -20, 1}, types.Vec3{1, 1, 0}.Normalize())

		for iter := 0; iter < 3; iter++ {
			hits := idx.GetAllHits(ray, ctx)
			seen := map[uint32]int{}
			for _, hit := range hits {
				seen[hit.Triangle]++
			}
			for tri, count := range seen {
				if count != 1 {
					t.Fatalf("[%s] triangle %d reported %d times", kind, tri, count)
				}
			}
			for _, tri := range big {
				if seen[tri] != 1 {
					t.Fatalf("[%s] expected straddling triangle %d to be reported once; got %d", kind, tri, seen[tri])
				}
			}
		}
	}
}

func TestAnyHitConsistency(t *testing.T) {
	mesh := randomMesh(5, 3000, 20)
	rays := randomRays(5, mesh, 3000)

	for _, kind := range allKinds {
		idx := mustBuild(t, mesh, kind)
		ctx := NewContext()
		for i, ray := range rays {
			length := float32(i%40) * 0.75
			hit, found := idx.TraceRay(ray, length, NoIgnore, ctx)
			anyHit := idx.DoesSegmentHit(ray, length, NoIgnore, ctx)
			if anyHit != (found && hit.Distance < length) {
				t.Fatalf("[%s, ray %d] segment of length %f: any-hit=%t but nearest=(%t, %f)", kind, i, length, anyHit, found, hit.Distance)
			}
		}
	}
}

func TestSelfIntersectionAvoidance(t *testing.T) {
	mesh := randomMesh(6, 1000, 10)

	for _, kind := range allKinds {
		idx := mustBuild(t, mesh, kind)
		ctx := NewContext()
		for tri := 0; tri < mesh.TriangleCount(); tri += 7 {
			v0 := mesh.TriangleVertex(tri, 0)
			e1 := mesh.TriangleVertex(tri, 1).Sub(v0)
			e2 := mesh.TriangleVertex(tri, 2).Sub(v0)
			normal := e1.Cross(e2)
			if normal.IsZero() {
				continue
			}
			surface := v0.Add(e1.Mul(0.3)).Add(e2.Mul(0.3))

			for _, dir := range []types.Vec3{normal.Normalize(), normal.Mul(-1).Normalize()} {
				ray := types.NewRay(surface, dir)
				if hit, found := idx.TraceRay(ray, math32.Inf(1), tri, ctx); found && hit.Triangle == uint32(tri) {
					t.Fatalf("[%s] ray leaving triangle %d reported a hit on itself at %f", kind, tri, hit.Distance)
				}
				for _, hit := range idx.GetAllHits(ray, ctx) {
					if hit.Triangle == uint32(tri) && hit.Distance < 1e-3 {
						t.Fatalf("[%s] all-hits reported triangle %d at its own surface (%f)", kind, tri, hit.Distance)
					}
				}
			}
		}
	}
}

func TestIgnoreSkipsOnlyThatTriangle(t *testing.T) {
	mesh := &geometry.Mesh{}
	mesh.AddTriangle(types.Vec3{0, 0, 0}, types.Vec3{1, 0, 0}, types.Vec3{0, 1, 0})
	mesh.AddTriangle(types.Vec3{0, 0, -1}, types.Vec3{1, 0, -1}, types.Vec3{0, 1, -1})
	ray := types.NewRay(types.Vec3{0.2, 0.2, 1}, types.Vec3{0, 0, -1})

	for _, kind := range allKinds {
		idx := mustBuild(t, mesh, kind)
		ctx := NewContext()

		hit, found := idx.TraceRay(ray, math32.Inf(1), 0, ctx)
		if !found || hit.Triangle != 1 || hit.Distance != 2 {
			t.Fatalf("[%s] expected to hit triangle 1 at distance 2; got (%t, %+v)", kind, found, hit)
		}
		if idx.DoesSegmentHit(ray, 1.5, 0, ctx) {
			t.Fatalf("[%s] expected segment ignoring triangle 0 to miss", kind)
		}
		if !idx.DoesSegmentHit(ray, 1.5, NoIgnore, ctx) {
			t.Fatalf("[%s] expected segment to hit triangle 0", kind)
		}
	}
}

func TestAxisAlignedTriangleScenario(t *testing.T) {
	mesh := &geometry.Mesh{Name: "scenario"}
	for _, x0 := range []float32{0, 1, 10} {
		mesh.AddTriangle(types.Vec3{x0, 0, 0}, types.Vec3{x0 + 1, 0, 0}, types.Vec3{x0 + 0.5, 1, 0})
	}
	ray := types.NewRay(types.Vec3{0.5, 0.5, 5}, types.Vec3{0, 0, -1})

	for _, kind := range allKinds {
		idx := mustBuild(t, mesh, kind)
		ctx := NewContext()

		hit, found := idx.TraceRay(ray, 6, NoIgnore, ctx)
		if !found || hit.Triangle != 0 {
			t.Fatalf("[%s] expected to hit triangle 0; got (%t, %+v)", kind, found, hit)
		}
		if math32.Abs(hit.Distance-5) > 1e-5 {
			t.Fatalf("[%s] expected hit distance 5; got %f", kind, hit.Distance)
		}

		if !idx.DoesSegmentHit(ray, 6, NoIgnore, ctx) {
			t.Fatalf("[%s] expected segment of length 6 to hit", kind)
		}
		if idx.DoesSegmentHit(ray, 4.9, NoIgnore, ctx) {
			t.Fatalf("[%s] expected segment of length 4.9 to miss", kind)
		}

		hits := idx.GetAllHits(ray, ctx)
		if len(hits) != 1 || hits[0].Triangle != 0 {
			t.Fatalf("[%s] expected all-hits to report only triangle 0; got %+v", kind, hits)
		}

		expBox := types.BBox{Min: types.Vec3{0, 0, 0}, Max: types.Vec3{11, 1, 0}}
		if idx.BBox() != expBox {
			t.Fatalf("[%s] expected bounds %v; got %v", kind, expBox, idx.BBox())
		}
	}
}

func TestBuildFailures(t *testing.T) {
	for _, kind := range allKinds {
		_, err := Build(&geometry.Mesh{}, DefaultOptions(kind))
		if !errors.Is(err, ErrBuildFailed) {
			t.Fatalf("[%s] expected ErrBuildFailed; got %v", kind, err)
		}
		if !errors.Is(err, compiler.ErrEmptyInput) {
			t.Fatalf("[%s] expected cause to be ErrEmptyInput; got %v", kind, err)
		}
	}

	opts := DefaultOptions(KindBVH)
	opts.Builder.LeafThreshold = 0
	if _, err := Build(randomMesh(1, 10, 1), opts); !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("expected ErrBuildFailed for invalid options; got %v", err)
	}
}

func TestDeterminism(t *testing.T) {
	mesh := randomMesh(8, 4000, 30)
	rays := randomRays(8, mesh, 2000)

	for _, kind := range allKinds {
		idx1 := mustBuild(t, mesh, kind)
		idx2 := mustBuild(t, mesh, kind)
		if diff := cmp.Diff(idx1.Snapshot(), idx2.Snapshot(), snapshotCmpOpts); diff != "" {
			t.Fatalf("[%s] snapshots differ:\n%s", kind, diff)
		}

		ctx1, ctx2 := NewContext(), NewContext()
		for i, ray := range rays {
			h1, f1 := idx1.TraceRay(ray, math32.Inf(1), NoIgnore, ctx1)
			h2, f2 := idx2.TraceRay(ray, math32.Inf(1), NoIgnore, ctx2)
			if f1 != f2 || h1 != h2 {
				t.Fatalf("[%s, ray %d] expected identical results; got (%t, %+v) and (%t, %+v)", kind, i, f1, h1, f2, h2)
			}
		}
	}
}

func TestSnapshotRestore(t *testing.T) {
	mesh := randomMesh(9, 1500, 15)
	rays := randomRays(9, mesh, 1000)

	for _, kind := range allKinds {
		idx := mustBuild(t, mesh, kind)
		restored, err := Restore(idx.Snapshot(), mesh, DefaultOptions(kind))
		if err != nil {
			t.Fatal(err)
		}
		if restored.Kind() != kind || restored.TriangleCount() != mesh.TriangleCount() {
			t.Fatalf("[%s] restored index has kind %s and %d triangles", kind, restored.Kind(), restored.TriangleCount())
		}

		ctx := NewContext()
		for i, ray := range rays {
			h1, f1 := idx.TraceRay(ray, math32.Inf(1), NoIgnore, ctx)
			h2, f2 := restored.TraceRay(ray, math32.Inf(1), NoIgnore, ctx)
			if f1 != f2 || h1 != h2 {
				t.Fatalf("[%s, ray %d] expected restored index to match; got (%t, %+v) and (%t, %+v)", kind, i, f1, h1, f2, h2)
			}
		}

		if _, err := Restore(idx.Snapshot(), randomMesh(9, 10, 15), DefaultOptions(kind)); errors.Cause(err) != ErrInvalidSnapshot {
			t.Fatalf("[%s] expected ErrInvalidSnapshot for mismatched source; got %v", kind, err)
		}
	}
}

func TestSnapshotDoesNotAliasIndex(t *testing.T) {
	mesh := randomMesh(13, 500, 10)
	rays := randomRays(13, mesh, 500)

	for _, kind := range allKinds {
		idx := mustBuild(t, mesh, kind)
		ctx := NewContext()
		before := make([]RayResult, len(rays))
		for i, ray := range rays {
			before[i].Hit, before[i].Found = idx.TraceRay(ray, math32.Inf(1), NoIgnore, ctx)
		}

		snap := idx.Snapshot()
		for i := range snap.Geometry {
			snap.Geometry[i] = 0
		}
		for i := range snap.BvhNodes {
			snap.BvhNodes[i] = layout.BvhNode{}
		}
		for i := range snap.KdNodes {
			snap.KdNodes[i] = layout.KdLeaf(0, 0)
		}

		if diff := cmp.Diff(mustBuild(t, mesh, kind).Snapshot(), idx.Snapshot(), snapshotCmpOpts); diff != "" {
			t.Fatalf("[%s] changing an exported snapshot modified the index:\n%s", kind, diff)
		}
		for i, ray := range rays {
			hit, found := idx.TraceRay(ray, math32.Inf(1), NoIgnore, ctx)
			if found != before[i].Found || hit != before[i].Hit {
				t.Fatalf("[%s, ray %d] expected (%t, %+v); got (%t, %+v)", kind, i, before[i].Found, before[i].Hit, found, hit)
			}
		}
	}
}

func TestSnapshotValidation(t *testing.T) {
	mesh := randomMesh(10, 200, 10)
	bvh := mustBuild(t, mesh, KindBVH).Snapshot()
	kd := mustBuild(t, mesh, KindKd).Snapshot()

	// Five triangles in a single leaf followed by three padding entries.
	padOpts := DefaultOptions(KindBVH)
	padOpts.Builder.LeafThreshold = 8
	padIdx, err := Build(randomMesh(12, 5, 10), padOpts)
	if err != nil {
		t.Fatal(err)
	}
	padded := padIdx.Snapshot()
	if !padded.BvhRoot.IsLeaf() || len(padded.Geometry) != 8 {
		t.Fatalf("expected a single padded leaf with 8 entries; got root %+v and %d entries", padded.BvhRoot, len(padded.Geometry))
	}
	withGeometry := func(mutate func(g []uint32)) func() *Snapshot {
		return func() *Snapshot {
			s := *padded
			s.Geometry = append([]uint32(nil), padded.Geometry...)
			mutate(s.Geometry)
			return &s
		}
	}

	corruptions := []struct {
		name   string
		mutate func() *Snapshot
	}{
		{"geometry out of range", func() *Snapshot {
			s := *bvh
			s.Geometry = append([]uint32(nil), bvh.Geometry...)
			s.Geometry[0] = uint32(s.Triangles)
			return &s
		}},
		{"misaligned bvh leaf", func() *Snapshot {
			s := *bvh
			s.BvhRoot = layout.LeafLink(1, 4)
			s.BvhNodes = nil
			return &s
		}},
		{"bvh child out of range", func() *Snapshot {
			s := *bvh
			s.BvhNodes = append([]layout.BvhNode(nil), bvh.BvhNodes...)
			s.BvhNodes[0].Children[1].Link = layout.InteriorLink(uint32(len(s.BvhNodes)))
			return &s
		}},
		{"kd sentinel not empty", func() *Snapshot {
			s := *kd
			s.KdNodes = append([]layout.KdNode(nil), kd.KdNodes...)
			s.KdNodes[0] = layout.KdLeaf(0, 1)
			return &s
		}},
		{"kd child out of range", func() *Snapshot {
			s := *kd
			s.KdNodes = append([]layout.KdNode(nil), kd.KdNodes...)
			n := s.KdNodes[layout.KdRootIndex]
			s.KdNodes[layout.KdRootIndex] = layout.KdInterior(n.Axis(), n.Split(), uint32(len(s.KdNodes)))
			return &s
		}},
		{"padding repeats the first entry", withGeometry(func(g []uint32) { g[7] = g[0] })},
		{"padding mixes entries", withGeometry(func(g []uint32) { g[5] = g[0] })},
		{"padding replaces a real entry", withGeometry(func(g []uint32) { g[4] = g[3] })},
		{"kind mismatch", func() *Snapshot {
			s := *kd
			s.Kind = KindBVH
			return &s
		}},
	}

	for _, c := range corruptions {
		if err := c.mutate().Validate(); errors.Cause(err) != ErrInvalidSnapshot {
			t.Fatalf("[%s] expected ErrInvalidSnapshot; got %v", c.name, err)
		}
	}

	if err := bvh.Validate(); err != nil {
		t.Fatalf("expected built bvh snapshot to be valid; got %v", err)
	}
	if err := kd.Validate(); err != nil {
		t.Fatalf("expected built kd snapshot to be valid; got %v", err)
	}
	if err := padded.Validate(); err != nil {
		t.Fatalf("expected padded bvh snapshot to be valid; got %v", err)
	}
}

func TestConcurrentQueries(t *testing.T) {
	mesh := randomMesh(11, 3000, 20)
	rays := randomRays(11, mesh, 4000)

	for _, kind := range allKinds {
		idx := mustBuild(t, mesh, kind)

		results, err := TraceBatch(context.Background(), idx, rays, math32.Inf(1), 4)
		if err != nil {
			t.Fatal(err)
		}

		ctx := NewContext()
		for i, ray := range rays {
			hit, found := idx.TraceRay(ray, math32.Inf(1), NoIgnore, ctx)
			if results[i].Found != found || results[i].Hit != hit {
				t.Fatalf("[%s, ray %d] expected batch result (%t, %+v); got (%t, %+v)", kind, i, found, hit, results[i].Found, results[i].Hit)
			}
		}
	}
}

func TestBatchTracerFeedback(t *testing.T) {
	mesh := randomMesh(12, 500, 10)
	idx := mustBuild(t, mesh, KindBVH)
	rays := randomRays(12, mesh, 3000)

	bt := NewBatchTracer(idx, 3, PerfectScheduler())
	out := make([]RayResult, len(rays))
	for pass := 0; pass < 3; pass++ {
		if err := bt.Trace(context.Background(), rays, math32.Inf(1), out); err != nil {
			t.Fatal(err)
		}

		var traced uint32
		for _, stats := range bt.Stats() {
			traced += stats.BlockRays
		}
		if traced != uint32(len(rays)) {
			t.Fatalf("[pass %d] expected workers to trace %d rays; got %d", pass, len(rays), traced)
		}
	}

	if err := bt.Trace(context.Background(), rays, math32.Inf(1), out[:10]); err == nil {
		t.Fatal("expected error for short result buffer")
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bt.Trace(cancelled, rays, math32.Inf(1), out); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled; got %v", err)
	}
}

func TestContextReuseAcrossIndices(t *testing.T) {
	small := randomMesh(13, 20, 2)
	large := randomMesh(14, 800, 2)
	ctx := NewContext()

	for _, mesh := range []*geometry.Mesh{small, large, small} {
		tris := precomputeAll(mesh)
		for _, kind := range allKinds {
			idx := mustBuild(t, mesh, kind)
			for i, ray := range randomRays(15, mesh, 100) {
				got := sortHits(idx.GetAllHits(ray, ctx))
				exp := sortHits(bruteForceAll(tris, ray))
				if diff := cmp.Diff(exp, got, cmpopts.EquateEmpty()); diff != "" {
					t.Fatalf("[%s, ray %d] all-hits mismatch (-want +got):\n%s", kind, i, diff)
				}
			}
		}
	}
}

func TestParseKind(t *testing.T) {
	for _, kind := range allKinds {
		parsed, err := ParseKind(kind.String())
		if err != nil || parsed != kind {
			t.Fatalf("expected %s to parse; got (%v, %v)", kind, parsed, err)
		}
	}
	if _, err := ParseKind("octree"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
