package types

// A ray with an origin and a (not necessarily normalized) direction. Hit
// distances are expressed in units of the direction length.
type Ray struct {
	Origin Vec3
	Dir    Vec3
}

// Create a new ray.
func NewRay(origin, dir Vec3) Ray {
	return Ray{Origin: origin, Dir: dir}
}

// Get the point at distance t along the ray.
func (r Ray) At(t float32) Vec3 {
	return r.Origin.Add(r.Dir.Mul(t))
}

// Get the minimum hit distance for this ray given a base epsilon. The
// epsilon is scaled by the magnitude of the origin so that rays launched far
// from the world origin still clear the surface they start on.
func (r Ray) MinDistance(epsilon float32) float32 {
	scale := r.Origin.MaxAbsComponent()
	if scale < 1 {
		scale = 1
	}
	return epsilon * scale
}
