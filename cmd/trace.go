package cmd

import (
	"bytes"
	"fmt"

	"github.com/achilleasa/meshtrace/tracer"
	"github.com/achilleasa/meshtrace/types"
	"github.com/chewxy/math32"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Trace a single ray and report its nearest hit, any-hit and all hits.
func TraceRay(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() != 1 {
		return errors.New("missing mesh file argument")
	}
	origin, err := parseVec3(ctx.String("origin"))
	if err != nil {
		return errors.Wrap(err, "origin")
	}
	dir, err := parseVec3(ctx.String("dir"))
	if err != nil {
		return errors.Wrap(err, "dir")
	}
	if dir.IsZero() {
		return errors.New("ray direction must be non-zero")
	}
	maxDistance := float32(ctx.Float64("max"))
	if maxDistance <= 0 {
		maxDistance = math32.Inf(1)
	}

	_, index, err := loadIndex(ctx, ctx.Args().First())
	if err != nil {
		return err
	}

	ray := types.NewRay(origin, dir.Normalize())
	tctx := tracer.NewContext()

	if hit, found := index.TraceRay(ray, maxDistance, tracer.NoIgnore, tctx); found {
		logger.Noticef("nearest hit: triangle %d at distance %f (u=%f, v=%f), point %v", hit.Triangle, hit.Distance, hit.U, hit.V, ray.At(hit.Distance))
	} else {
		logger.Notice("nearest hit: none")
	}
	logger.Noticef("segment of length %f blocked: %t", maxDistance, index.DoesSegmentHit(ray, maxDistance, tracer.NoIgnore, tctx))

	hits := index.GetAllHits(ray, tctx)
	if len(hits) == 0 {
		logger.Notice("all hits: none")
		return nil
	}
	logger.Noticef("all hits:\n%s", hitTable(hits))
	return nil
}

func hitTable(hits []tracer.Hit) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Triangle", "Distance", "U", "V"})
	for _, hit := range hits {
		table.Append([]string{
			fmt.Sprintf("%d", hit.Triangle),
			fmt.Sprintf("%f", hit.Distance),
			fmt.Sprintf("%f", hit.U),
			fmt.Sprintf("%f", hit.V),
		})
	}
	table.SetFooter([]string{"", "", "TOTAL", fmt.Sprintf("%d", len(hits))})
	table.Render()
	return buf.String()
}
