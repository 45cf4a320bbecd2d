package cmd

import (
	"strings"

	"github.com/achilleasa/meshtrace/asset/cache"
	"github.com/achilleasa/meshtrace/asset/geometry"
	"github.com/achilleasa/meshtrace/tracer"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Build indices for a list of wavefront obj files and write them to the
// index cache.
func CompileIndex(ctx *cli.Context) error {
	setupLogging(ctx)

	opts, err := indexOptions(ctx)
	if err != nil {
		return err
	}
	if ctx.NArg() == 0 {
		return errors.New("missing mesh file argument")
	}
	out := ctx.String("out")
	if out != "" && ctx.NArg() != 1 {
		return errors.New("--out can only be used with a single mesh file")
	}

	for idx := 0; idx < ctx.NArg(); idx++ {
		meshFile := ctx.Args().Get(idx)
		if !strings.HasSuffix(meshFile, ".obj") {
			logger.Warningf("skipping unsupported file %s", meshFile)
			continue
		}

		logger.Noticef("parsing and indexing mesh: %s", meshFile)
		mesh, err := geometry.ReadWavefrontFile(meshFile)
		if err != nil {
			return err
		}

		index, err := tracer.Build(mesh, opts)
		if err != nil {
			return err
		}
		logger.Noticef("index information:\n%s", index.Stats().Table())

		cacheFile := out
		if cacheFile == "" {
			cacheFile = cachePath(meshFile, opts.Kind)
		}
		if err = cache.WriteFile(cacheFile, index, mesh); err != nil {
			return err
		}
		logger.Noticef("wrote %s", cacheFile)
	}

	return nil
}
