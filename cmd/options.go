package cmd

import (
	"strconv"
	"strings"

	"github.com/achilleasa/meshtrace/asset/cache"
	"github.com/achilleasa/meshtrace/asset/geometry"
	"github.com/achilleasa/meshtrace/log"
	"github.com/achilleasa/meshtrace/tracer"
	"github.com/achilleasa/meshtrace/types"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Get the flags that control how an index is built.
func BuildFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "kind, k",
			Value: "bvh",
			Usage: "index type (bvh or kd)",
		},
		cli.IntFlag{
			Name:  "leaf",
			Usage: "max triangles per leaf; 0 selects the default for the index type",
		},
		cli.IntFlag{
			Name:  "max-depth",
			Usage: "max tree depth; 0 selects the default",
		},
		cli.Float64Flag{
			Name:  "empty-cutoff",
			Value: -1,
			Usage: "kd-tree empty space fraction that forces a cut; negative selects the default",
		},
	}
}

// Get the flags shared by every command that loads an index.
func IndexFlags() []cli.Flag {
	return append(BuildFlags(), cli.BoolFlag{
		Name:  "no-cache",
		Usage: "always build the index instead of using a cached copy",
	})
}

// Assemble index options from the command flags.
func indexOptions(ctx *cli.Context) (tracer.Options, error) {
	kind, err := tracer.ParseKind(ctx.String("kind"))
	if err != nil {
		return tracer.Options{}, err
	}

	opts := tracer.DefaultOptions(kind)
	if leaf := ctx.Int("leaf"); leaf > 0 {
		opts.Builder.LeafThreshold = leaf
	}
	if depth := ctx.Int("max-depth"); depth > 0 {
		opts.Builder.MaxDepth = depth
	}
	if cutoff := ctx.Float64("empty-cutoff"); cutoff >= 0 {
		opts.Builder.EmptySpaceCutoff = float32(cutoff)
	}
	opts.Builder.Progress = log.ProgressSink(logger)
	return opts, nil
}

// Get the cache file used for a mesh and index type.
func cachePath(meshFile string, kind tracer.Kind) string {
	return strings.TrimSuffix(meshFile, ".obj") + "." + kind.String() + cache.Extension
}

// Load a mesh and get an index for it, using the cache unless disabled.
func loadIndex(ctx *cli.Context, meshFile string) (*geometry.Mesh, tracer.Index, error) {
	opts, err := indexOptions(ctx)
	if err != nil {
		return nil, nil, err
	}

	mesh, err := geometry.ReadWavefrontFile(meshFile)
	if err != nil {
		return nil, nil, err
	}

	if ctx.Bool("no-cache") {
		idx, err := tracer.Build(mesh, opts)
		return mesh, idx, err
	}

	idx, _, err := cache.LoadOrBuild(cachePath(meshFile, opts.Kind), mesh, opts)
	return mesh, idx, err
}

// Parse a vector in "x,y,z" form.
func parseVec3(value string) (types.Vec3, error) {
	var v types.Vec3
	tokens := strings.Split(value, ",")
	if len(tokens) != 3 {
		return v, errors.Errorf("expected vector in x,y,z form; got %q", value)
	}
	for axis, token := range tokens {
		f, err := strconv.ParseFloat(strings.TrimSpace(token), 32)
		if err != nil {
			return v, errors.Wrapf(err, "vector component %d", axis)
		}
		v[axis] = float32(f)
	}
	return v, nil
}
