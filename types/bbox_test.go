package types

import (
	"testing"

	"github.com/chewxy/math32"
)

func TestEnlarge(t *testing.T) {
	b := EmptyBBox()
	if !b.IsEmpty() {
		t.Fatal("expected EmptyBBox to be empty")
	}
	if area := b.SurfaceArea(); area != 0 {
		t.Fatalf("expected empty box area to be 0; got %f", area)
	}

	b.EnlargeToHoldPoint(Vec3{1, 2, 3})
	if b.IsEmpty() {
		t.Fatal("expected box holding a point not to be empty")
	}
	if b.Min != b.Max {
		t.Fatalf("expected zero-volume box; got %v", b)
	}

	b.EnlargeToHoldBBox(BBox{Min: Vec3{-1, 0, 0}, Max: Vec3{0, 4, 1}})
	exp := BBox{Min: Vec3{-1, 0, 0}, Max: Vec3{1, 4, 3}}
	if b != exp {
		t.Fatalf("expected %v; got %v", exp, b)
	}

	if !b.Contains(BBoxFromPoint(Vec3{0, 1, 2})) {
		t.Fatal("expected box to contain inner point")
	}
	if b.Contains(BBoxFromPoint(Vec3{0, 5, 2})) {
		t.Fatal("expected box not to contain outer point")
	}
}

func TestSurfaceAreaAndAxes(t *testing.T) {
	b := BBox{Min: Vec3{0, 0, 0}, Max: Vec3{1, 2, 3}}
	if area := b.SurfaceArea(); area != 22 {
		t.Fatalf("expected area 22; got %f", area)
	}
	if l := b.AxisLength(YAxis); l != 2 {
		t.Fatalf("expected Y length 2; got %f", l)
	}
	if axis := b.LongestAxis(); axis != ZAxis {
		t.Fatalf("expected longest axis to be Z; got %d", axis)
	}
	if c := b.Centroid(); c != (Vec3{0.5, 1, 1.5}) {
		t.Fatalf("expected centroid (0.5, 1, 1.5); got %v", c)
	}

	below, above := b.Split(XAxis, 0.25)
	if below.Max[0] != 0.25 || above.Min[0] != 0.25 {
		t.Fatalf("unexpected split boxes %v %v", below, above)
	}

	flat := BBox{Min: Vec3{0, 0, 0}, Max: Vec3{1, 1, 0}}
	if area := flat.SurfaceArea(); area != 2 {
		t.Fatalf("expected flat box area 2; got %f", area)
	}
	degenerate := BBox{Min: Vec3{0, 0, 0}, Max: Vec3{1, 0, 0}}
	if area := degenerate.SurfaceArea(); area != 0 {
		t.Fatalf("expected degenerate box area 0; got %f", area)
	}
}

func TestIntersectRay(t *testing.T) {
	b := BBox{Min: Vec3{-1, -1, -1}, Max: Vec3{1, 1, 1}}

	type spec struct {
		origin Vec3
		dir    Vec3
		hit    bool
		tEnter float32
	}
	specs := []spec{
		{Vec3{0, 0, 5}, Vec3{0, 0, -1}, true, 4},
		{Vec3{0, 0, 5}, Vec3{0, 0, 1}, true, -6},
		{Vec3{3, 0, 5}, Vec3{0, 0, -1}, false, 0},
		{Vec3{0, 0, 0}, Vec3{1, 0, 0}, true, -1},
		// Origin on a slab boundary with a zero direction component
		{Vec3{1, 0, 5}, Vec3{0, 0, -1}, true, 4},
		// Parallel ray outside the slab
		{Vec3{1.5, 0, 5}, Vec3{0, 0, -1}, false, 0},
	}

	for index, s := range specs {
		tEnter, tExit := b.IntersectRay(s.origin, s.dir.Inv())
		hit := tEnter <= tExit
		if hit != s.hit {
			t.Fatalf("[spec %d] expected hit to be %t; got %t (%f, %f)", index, s.hit, hit, tEnter, tExit)
		}
		if hit && math32.Abs(tEnter-s.tEnter) > 1e-6 {
			t.Fatalf("[spec %d] expected tEnter %f; got %f", index, s.tEnter, tEnter)
		}
	}
}

func TestRayMinDistance(t *testing.T) {
	r := NewRay(Vec3{0, 0, 0.5}, Vec3{0, 0, 1})
	if d := r.MinDistance(1e-5); d != 1e-5 {
		t.Fatalf("expected unscaled epsilon; got %g", d)
	}
	r = NewRay(Vec3{0, -1000, 0}, Vec3{0, 0, 1})
	if d := r.MinDistance(1e-5); math32.Abs(d-1e-2) > 1e-8 {
		t.Fatalf("expected epsilon scaled by 1000; got %g", d)
	}
	if p := r.At(2); p != (Vec3{0, -1000, 2}) {
		t.Fatalf("unexpected point %v", p)
	}
}
