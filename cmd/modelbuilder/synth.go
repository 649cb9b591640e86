package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/hipims/modelbuilder/internal/config"
	"github.com/hipims/modelbuilder/internal/domain"
	"github.com/hipims/modelbuilder/internal/testcases"
	"github.com/hipims/modelbuilder/pkg/geo"
)

// runSynth writes the rasters of a laboratory test case to the workspace
// without building a model around them.
func runSynth(args []string) int {
	fs := flag.NewFlagSet("synth", flag.ExitOnError)
	common := addCommonFlags(fs)

	testCase := fs.String("case", "", "Test case name (required)")
	typ := fs.String("type", "laboratory", "Domain type: laboratory or imaginary")
	resolution := fs.Float64("resolution", 0, "Grid resolution in metres, unless the case fixes one")
	format := fs.String("format", "", "Raster format: EHdr or AAIGrid")
	lowerLeft := fs.String("lower-left", "", "Lower-left corner as x,y, unless the case fixes one")
	upperRight := fs.String("upper-right", "", "Upper-right corner as x,y")
	list := fs.Bool("list", false, "List the available test cases and exit")
	var constants constantsFlag
	fs.Var(&constants, "const", "Test case constant as key=value (repeatable)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: modelbuilder synth [options]

Write the topography and initial conditions of a laboratory test case to
the workspace as TEST_DOMAIN_* rasters.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *list {
		for _, n := range testcases.Names() {
			fmt.Println(n)
		}
		return ExitSuccess
	}

	if *testCase == "" {
		fmt.Fprintln(os.Stderr, "Error: -case is required")
		fs.Usage()
		return ExitInvalidArgs
	}
	domainType, err := domain.ParseType(*typ)
	if err != nil || domainType == domain.World {
		fmt.Fprintf(os.Stderr, "Error: synth needs a laboratory or imaginary domain, got %q\n", *typ)
		return ExitInvalidArgs
	}

	var extent geo.Extent
	if *lowerLeft != "" || *upperRight != "" {
		if extent, err = parseExtent(*lowerLeft, *upperRight); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
	}
	consts, err := constants.parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	cfg, err := common.load(config.Config{Resolution: *resolution, Format: *format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{label: *testCase})
	if err != nil {
		return fail(err)
	}
	defer a.close()

	d, err := domain.NewLab(domainType, domain.Request{
		Name:       *testCase,
		Extent:     extent,
		Resolution: cfg.Resolution,
		Format:     cfg.RasterFormat(),
		Constants:  consts,
	}, a.domainServices())
	if err != nil {
		return fail(err)
	}

	if e := d.Extent(); e.Width() <= 0 || e.Height() <= 0 {
		fmt.Fprintf(os.Stderr, "Error: test case %s needs -lower-left and -upper-right\n", d.Name())
		return ExitInvalidArgs
	}

	fmt.Fprintf(os.Stderr, "[mb] %s: %s\n", d.Name(), d.Case().Description())
	if err := d.Prepare(ctx); err != nil {
		return fail(err)
	}

	l := d.Layers()
	var written []string
	for _, k := range []string{l.Topography, l.Depth, l.FSL, l.VelocityX, l.VelocityY} {
		if k != "" {
			written = append(written, k)
		}
	}
	fmt.Fprintf(os.Stderr, "[mb] Extent %v at %gm: %s\n", d.Extent(), d.Resolution(), strings.Join(written, ", "))
	return ExitSuccess
}
