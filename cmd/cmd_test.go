package cmd

import (
	"strings"
	"testing"

	"github.com/achilleasa/meshtrace/asset/geometry"
	"github.com/achilleasa/meshtrace/tracer"
	"github.com/achilleasa/meshtrace/types"
	"github.com/montanaflynn/stats"
)

func TestParseVec3(t *testing.T) {
	type spec struct {
		in     string
		exp    types.Vec3
		expErr bool
	}
	specs := []spec{
		{"1,2,3", types.Vec3{1, 2, 3}, false},
		{" -0.5, 0 ,1e2", types.Vec3{-0.5, 0, 100}, false},
		{"1,2", types.Vec3{}, true},
		{"1,2,x", types.Vec3{}, true},
		{"", types.Vec3{}, true},
	}

	for index, s := range specs {
		v, err := parseVec3(s.in)
		if s.expErr {
			if err == nil {
				t.Fatalf("[spec %d] expected an error parsing %q", index, s.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("[spec %d] unexpected error: %v", index, err)
		}
		if v != s.exp {
			t.Fatalf("[spec %d] expected %v; got %v", index, s.exp, v)
		}
	}
}

func TestCachePath(t *testing.T) {
	if got := cachePath("meshes/bunny.obj", tracer.KindKd); got != "meshes/bunny.kd.mtix" {
		t.Fatalf("expected meshes/bunny.kd.mtix; got %s", got)
	}
	if got := cachePath("bunny", tracer.KindBVH); got != "bunny.bvh.mtix" {
		t.Fatalf("expected bunny.bvh.mtix; got %s", got)
	}
}

func TestRandomRaysAreNormalized(t *testing.T) {
	mesh := &geometry.Mesh{}
	mesh.AddTriangle(types.Vec3{0, 0, 0}, types.Vec3{1, 0, 0}, types.Vec3{0, 1, 0})
	mesh.AddTriangle(types.Vec3{0, 0, 2}, types.Vec3{1, 0, 2}, types.Vec3{0, 1, 2})

	rays := randomRays(mesh, 100, 42)
	for index, ray := range rays {
		if l := ray.Dir.Len(); l < 0.999 || l > 1.001 {
			t.Fatalf("[ray %d] expected unit direction; got length %f", index, l)
		}
	}

	again := randomRays(mesh, 100, 42)
	for index := range rays {
		if rays[index] != again[index] {
			t.Fatalf("[ray %d] expected the same seed to produce the same rays", index)
		}
	}
}

func TestBenchReport(t *testing.T) {
	report, err := benchReport(stats.Float64Data{10, 20, 30, 40}, 1000000)
	if err != nil {
		t.Fatal(err)
	}
	for _, exp := range []string{"fastest", "mean", "p50", "p90", "p99", "100.00", "40.00"} {
		if !strings.Contains(report, exp) {
			t.Fatalf("expected report to contain %q; got:\n%s", exp, report)
		}
	}
}
