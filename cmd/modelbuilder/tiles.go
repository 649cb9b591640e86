package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/hipims/modelbuilder/internal/batch"
	"github.com/hipims/modelbuilder/internal/config"
	"github.com/hipims/modelbuilder/internal/domain"
	"github.com/hipims/modelbuilder/internal/tile"
)

// runTiles acquires the survey tiles named on the command line or covering
// an extent. With -list it only reports what the workspace holds.
func runTiles(args []string) int {
	fs := flag.NewFlagSet("tiles", flag.ExitOnError)
	common := addCommonFlags(fs)

	lowerLeft := fs.String("lower-left", "", "Lower-left corner as easting,northing")
	upperRight := fs.String("upper-right", "", "Upper-right corner as easting,northing")
	list := fs.Bool("list", false, "Report each tile's state without acquiring it")
	showProgress := fs.Bool("progress", false, "Show progress output")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: modelbuilder tiles [options] [TILE...]

Download, extract and mosaic the survey tiles given as grid references
(e.g. SU12) or covering -lower-left and -upper-right.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	ids := make([]string, 0, fs.NArg())
	for _, id := range fs.Args() {
		ids = append(ids, strings.ToUpper(id))
	}
	if *lowerLeft != "" || *upperRight != "" {
		extent, err := parseExtent(*lowerLeft, *upperRight)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
		covering, err := domain.TileIDs(extent)
		if err != nil {
			return fail(err)
		}
		ids = append(ids, covering...)
	}
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "Error: give tile references or -lower-left and -upper-right")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := common.load(config.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{acquire: true, progress: *showProgress && !*list, label: "tiles"})
	if err != nil {
		return fail(err)
	}
	defer a.close()

	for _, id := range ids {
		a.tiles.Get(id)
	}
	tiles := a.tiles.Tiles()

	if *list {
		results := batch.Run(ctx, tiles, 0, func(ctx context.Context, t *tile.Tile) (tile.Flags, error) {
			return t.Assess(ctx)
		})
		for _, o := range results {
			t := tiles[o.Index]
			if o.Err != nil {
				fmt.Printf("%-6s error: %v\n", t.ID, o.Err)
				continue
			}
			fmt.Printf("%-6s %s\n", t.ID, t.Phase())
		}
		prepared := 0
		for _, f := range results.Succeeded() {
			if f.Prepared {
				prepared++
			}
		}
		fmt.Fprintf(os.Stderr, "[mb] %d of %d tiles prepared in %s\n", prepared, len(tiles), a.ws.Location())
		if err := results.Err(); err != nil {
			return exitCode(batch.FirstError(err))
		}
		return ExitSuccess
	}

	for _, t := range tiles {
		t.Require(ctx)
	}
	results := batch.Each(ctx, tiles, 0, func(ctx context.Context, t *tile.Tile) error {
		return t.Wait(ctx)
	})
	for _, o := range results {
		t := tiles[o.Index]
		if o.Err != nil {
			fmt.Printf("%-6s failed: %v\n", t.ID, o.Err)
			continue
		}
		fmt.Printf("%-6s prepared\n", t.ID)
	}

	if err := results.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "[mb] %d of %d tiles failed\n", len(err.(*batch.Error).Failed), len(tiles))
		return exitCode(batch.FirstError(err))
	}
	fmt.Fprintf(os.Stderr, "[mb] %d tiles prepared in %s\n", len(tiles), a.ws.Location())
	return ExitSuccess
}
