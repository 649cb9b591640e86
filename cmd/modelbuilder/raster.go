package main

import (
	"flag"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/hipims/modelbuilder/internal/config"
)

// runMosaic builds a VRT descriptor over workspace rasters.
func runMosaic(args []string) int {
	fs := flag.NewFlagSet("mosaic", flag.ExitOnError)
	common := addCommonFlags(fs)

	target := fs.String("target", "", "Workspace key of the VRT to write (required)")
	pattern := fs.String("glob", "", "Mosaic every workspace key under -dir matching this pattern")
	dir := fs.String("dir", "", "Directory searched by -glob")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: modelbuilder mosaic -target KEY [options] [SOURCE...]

Write a VRT mosaic placing every readable source on one canvas at the
finest source resolution. Sources are workspace keys.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *target == "" || (fs.NArg() == 0 && *pattern == "") {
		fmt.Fprintln(os.Stderr, "Error: -target and at least one source or -glob are required")
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

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return fail(err)
	}
	defer a.close()

	sources := fs.Args()
	if *pattern != "" {
		matched, err := a.ws.Glob(ctx, *dir, *pattern)
		if err != nil {
			return fail(err)
		}
		sources = append(sources, matched...)
	}

	res, err := a.tools.BuildMosaic(ctx, *target, sources)
	if err != nil {
		return fail(err)
	}

	fmt.Printf("Mosaic: %s\n", res.Key)
	fmt.Printf("Size: %dx%d at %gm\n", res.SizeX, res.SizeY, res.Resolution())
	fmt.Printf("Sources: %d\n", len(res.Placements))
	for _, s := range res.Skipped {
		fmt.Printf("  skipped %s\n", s)
	}
	return ExitSuccess
}

// runClip copies the part of a workspace raster inside an extent.
func runClip(args []string) int {
	fs := flag.NewFlagSet("clip", flag.ExitOnError)
	common := addCommonFlags(fs)

	source := fs.String("source", "", "Workspace key of the source raster (required)")
	target := fs.String("target", "", "Workspace key to write (required)")
	format := fs.String("format", "", "Output format: EHdr or AAIGrid")
	lowerLeft := fs.String("lower-left", "", "Lower-left corner as easting,northing (required)")
	upperRight := fs.String("upper-right", "", "Upper-right corner as easting,northing (required)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: modelbuilder clip [options]

Copy the cells of a raster covering an extent to a new raster on the
source's pixel grid.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *source == "" || *target == "" {
		fmt.Fprintln(os.Stderr, "Error: -source and -target are required")
		fs.Usage()
		return ExitInvalidArgs
	}
	extent, err := parseExtent(*lowerLeft, *upperRight)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	cfg, err := common.load(config.Config{Format: *format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return fail(err)
	}
	defer a.close()

	res, err := a.tools.Clip(ctx, *source, *target, cfg.RasterFormat(), extent)
	if err != nil {
		return fail(err)
	}
	fmt.Fprintf(os.Stderr, "[mb] Clipped %s to %s (%dx%d)\n", *source, res.Key, res.SizeX, res.SizeY)
	return ExitSuccess
}

// runDivide splits a workspace raster into overlapping row bands.
func runDivide(args []string) int {
	fs := flag.NewFlagSet("divide", flag.ExitOnError)
	common := addCommonFlags(fs)

	source := fs.String("source", "", "Workspace key of the source raster (required)")
	prefix := fs.String("prefix", "", "Key prefix of the parts (default: source without extension)")
	format := fs.String("format", "", "Output format: EHdr or AAIGrid")
	parts := fs.Int("parts", 2, "Number of parts")
	overlap := fs.Int("overlap", 1, "Rows shared by neighbouring parts")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: modelbuilder divide [options]

Split a raster into full-width row bands, south to north, written as
<prefix>_<i> in the output format.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *source == "" {
		fmt.Fprintln(os.Stderr, "Error: -source is required")
		fs.Usage()
		return ExitInvalidArgs
	}
	if *parts < 1 || *overlap < 0 {
		fmt.Fprintln(os.Stderr, "Error: -parts must be positive and -overlap not negative")
		return ExitInvalidArgs
	}

	cfg, err := common.load(config.Config{Format: *format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	outFormat := cfg.RasterFormat()

	if *prefix == "" {
		*prefix = trimExt(*source)
	}
	targets := make([]string, *parts)
	for i := range targets {
		targets[i] = fmt.Sprintf("%s_%d%s", *prefix, i, outFormat.Extension())
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return fail(err)
	}
	defer a.close()

	out, err := a.tools.Divide(ctx, *source, targets, outFormat, *overlap)
	for _, p := range out {
		if p.Err != nil {
			fmt.Printf("%s failed: %v\n", p.Key, p.Err)
			continue
		}
		fmt.Printf("%s %v %dx%d\n", p.Key, p.Extent, p.Result.SizeX, p.Result.SizeY)
	}
	if err != nil {
		return fail(err)
	}
	return ExitSuccess
}

func trimExt(key string) string {
	return strings.TrimSuffix(key, path.Ext(key))
}
