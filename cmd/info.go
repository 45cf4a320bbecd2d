package cmd

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Display index statistics for a mesh.
func ShowIndexInfo(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() != 1 {
		return errors.New("missing mesh file argument")
	}

	mesh, index, err := loadIndex(ctx, ctx.Args().First())
	if err != nil {
		return err
	}

	box := index.BBox()
	logger.Noticef("mesh %q: %d triangles, bounds %v - %v", mesh.Name, index.TriangleCount(), box.Min, box.Max)
	logger.Noticef("%s index information:\n%s", index.Kind(), index.Stats().Table())
	return nil
}
