package geometry

import (
	"bufio"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/achilleasa/meshtrace/asset"
	"github.com/achilleasa/meshtrace/log"
	"github.com/achilleasa/meshtrace/types"
	"github.com/pkg/errors"
)

type wavefrontReader struct {
	logger log.Logger

	mesh *Mesh

	// Number of records that were skipped because they carry data
	// (normals, materials, groups) that has no meaning for a triangle soup.
	skipped map[string]int
}

// Read a triangle mesh from a local or remote wavefront obj file.
func ReadWavefrontFile(pathToFile string) (*Mesh, error) {
	res, err := asset.NewResource(pathToFile)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	return ReadWavefront(res)
}

// Read a triangle mesh from a wavefront obj resource. Only vertex positions
// and faces are used; quad faces are split into two triangles.
func ReadWavefront(res *asset.Resource) (*Mesh, error) {
	r := &wavefrontReader{
		logger: log.New("wavefront reader"),
		mesh: &Mesh{
			Name:      strings.TrimSuffix(path.Base(res.Path()), ".obj"),
			Vertices:  make([]types.Vec3, 0),
			Triangles: make([][3]uint32, 0),
		},
		skipped: make(map[string]int, 0),
	}

	r.logger.Noticef(`parsing mesh from "%s"`, res.Path())
	start := time.Now()

	if err := r.parse(res); err != nil {
		return nil, err
	}

	for record, count := range r.skipped {
		r.logger.Debugf(`ignored %d "%s" records`, count, record)
	}
	r.logger.Noticef(
		"parsed %d vertices and %d triangles in %d ms",
		len(r.mesh.Vertices), len(r.mesh.Triangles), time.Since(start).Nanoseconds()/1e6,
	)
	return r.mesh, nil
}

// Generate an error message that includes the file and line that triggered it.
func (r *wavefrontReader) emitError(file string, line int, msgFormat string, args ...interface{}) error {
	return errors.Errorf("[%s: %d] error: %s", file, line, fmt.Sprintf(msgFormat, args...))
}

func (r *wavefrontReader) parse(res *asset.Resource) error {
	var lineNum int = 0

	scanner := bufio.NewScanner(res)
	for scanner.Scan() {
		lineNum++
		lineTokens := strings.Fields(scanner.Text())
		if len(lineTokens) == 0 || strings.HasPrefix(lineTokens[0], "#") {
			continue
		}

		switch lineTokens[0] {
		case "v":
			v, err := parseVec3(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			r.mesh.Vertices = append(r.mesh.Vertices, v)
		case "f":
			triList, err := r.parseFace(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			r.mesh.Triangles = append(r.mesh.Triangles, triList...)
		default:
			r.skipped[lineTokens[0]]++
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "wavefront reader: could not read %s", res.Path())
	}
	return nil
}

// Parse a triangle or quad face. Each face argument has the form v, v/vt,
// v//vn or v/vt/vn; only the vertex index is used.
func (r *wavefrontReader) parseFace(lineTokens []string) ([][3]uint32, error) {
	if len(lineTokens) < 4 || len(lineTokens) > 5 {
		return nil, fmt.Errorf(`unsupported syntax for "f"; expected 3 arguments for triangular face or 4 arguments for a quad face; got %d. Select the triangulation option in your exporter`, len(lineTokens)-1)
	}

	var corners [4]uint32
	for arg := 1; arg < len(lineTokens); arg++ {
		vTokens := strings.Split(lineTokens[arg], "/")
		if vTokens[0] == "" {
			return nil, fmt.Errorf("face argument %d does not include a vertex index", arg)
		}

		vIndex, err := selectFaceCoordIndex(vTokens[0], len(r.mesh.Vertices))
		if err != nil {
			return nil, fmt.Errorf("could not parse vertex coord for face argument %d: %s", arg, err.Error())
		}
		corners[arg-1] = uint32(vIndex)
	}

	if len(lineTokens) == 4 {
		return [][3]uint32{{corners[0], corners[1], corners[2]}}, nil
	}

	// Split quad into two triangles
	return [][3]uint32{
		{corners[0], corners[1], corners[2]},
		{corners[0], corners[2], corners[3]},
	}, nil
}

// Given an index for a face coord calculate the proper offset into the coord
// list. Wavefront format can also use negative indices to reference elements
// from the end of the coord list.
func selectFaceCoordIndex(indexToken string, coordListLen int) (int, error) {
	index, err := strconv.ParseInt(indexToken, 10, 32)
	if err != nil {
		return -1, err
	}

	var offset int
	if index < 0 {
		offset = coordListLen + int(index)
	} else {
		offset = int(index - 1)
	}
	if offset < 0 || offset >= coordListLen {
		return -1, fmt.Errorf("index out of bounds")
	}
	return offset, nil
}

// Parse a Vec3 row.
func parseVec3(lineTokens []string) (types.Vec3, error) {
	if len(lineTokens) < 4 {
		return types.Vec3{}, fmt.Errorf(`unsupported syntax for "%s"; expected 3 arguments; got %d`, lineTokens[0], len(lineTokens)-1)
	}

	v := types.Vec3{}
	for tokIdx := 1; tokIdx <= 3; tokIdx++ {
		coord, err := strconv.ParseFloat(lineTokens[tokIdx], 32)
		if err != nil {
			return v, err
		}
		v[tokIdx-1] = float32(coord)
	}
	return v, nil
}
