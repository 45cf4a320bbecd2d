package geometry

import (
	"github.com/achilleasa/meshtrace/types"
	"github.com/pkg/errors"
)

// An indexed triangle mesh. It implements Source.
type Mesh struct {
	Name string

	// Shared vertex positions.
	Vertices []types.Vec3

	// Vertex indices for each triangle.
	Triangles [][3]uint32
}

// Create a new mesh and verify that all triangle indices reference a vertex.
func NewMesh(name string, vertices []types.Vec3, triangles [][3]uint32) (*Mesh, error) {
	for triIndex, tri := range triangles {
		for corner, vIndex := range tri {
			if int(vIndex) >= len(vertices) {
				return nil, errors.Errorf("mesh %q: triangle %d corner %d references vertex %d; mesh has %d vertices", name, triIndex, corner, vIndex, len(vertices))
			}
		}
	}

	return &Mesh{
		Name:      name,
		Vertices:  vertices,
		Triangles: triangles,
	}, nil
}

// Get the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Triangles)
}

// Get the position of a triangle corner.
func (m *Mesh) TriangleVertex(triangle, corner int) types.Vec3 {
	return m.Vertices[m.Triangles[triangle][corner]]
}

// Append a triangle using explicit corner positions.
func (m *Mesh) AddTriangle(v0, v1, v2 types.Vec3) {
	base := uint32(len(m.Vertices))
	m.Vertices = append(m.Vertices, v0, v1, v2)
	m.Triangles = append(m.Triangles, [3]uint32{base, base + 1, base + 2})
}
