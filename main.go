package main

import (
	"fmt"
	"os"

	"github.com/achilleasa/meshtrace/cmd"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "meshtrace"
	app.Usage = "build spatial indices over triangle meshes and trace rays against them"
	app.Version = "0.0.1"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "compile",
			Usage: "build ray tracing indices for wavefront obj meshes",
			Description: `
Parse triangle meshes from wavefront obj files, build a BVH or kd-tree index for
each of them and write the index to a cache file next to the mesh.

The cache is picked up by the other commands as long as the mesh is unchanged.`,
			ArgsUsage: "mesh_file1.obj mesh_file2.obj ...",
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:  "out, o",
					Usage: "cache filename (single mesh only)",
				},
			}, cmd.BuildFlags()...),
			Action: cmd.CompileIndex,
		},
		{
			Name:      "info",
			Usage:     "display index statistics",
			ArgsUsage: "mesh_file.obj",
			Flags:     cmd.IndexFlags(),
			Action:    cmd.ShowIndexInfo,
		},
		{
			Name:      "trace",
			Usage:     "trace a single ray",
			ArgsUsage: "mesh_file.obj",
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:  "origin",
					Value: "0,0,0",
					Usage: "ray origin as x,y,z",
				},
				cli.StringFlag{
					Name:  "dir",
					Value: "0,0,1",
					Usage: "ray direction as x,y,z",
				},
				cli.Float64Flag{
					Name:  "max",
					Usage: "max hit distance; 0 for unbounded",
				},
			}, cmd.IndexFlags()...),
			Action: cmd.TraceRay,
		},
		{
			Name:      "bench",
			Usage:     "trace batches of random rays and report throughput",
			ArgsUsage: "mesh_file.obj",
			Flags: append([]cli.Flag{
				cli.IntFlag{
					Name:  "rays",
					Value: 1 << 20,
					Usage: "rays per pass",
				},
				cli.IntFlag{
					Name:  "passes",
					Value: 8,
					Usage: "number of passes",
				},
				cli.IntFlag{
					Name:  "workers, w",
					Value: 4,
					Usage: "number of worker goroutines",
				},
				cli.Int64Flag{
					Name:  "seed",
					Value: 1,
					Usage: "random ray generator seed",
				},
			}, cmd.IndexFlags()...),
			Action: cmd.Bench,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
