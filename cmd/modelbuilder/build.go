package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hipims/modelbuilder/internal/config"
	"github.com/hipims/modelbuilder/internal/domain"
	"github.com/hipims/modelbuilder/internal/model"
	"github.com/hipims/modelbuilder/internal/workspace"
	"github.com/hipims/modelbuilder/pkg/geo"
)

// runBuild prepares a domain and writes a model directory for it. World
// domains acquire the survey tiles they cover first.
func runBuild(args []string) int {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	common := addCommonFlags(fs)

	name := fs.String("name", "", "Model name (required)")
	typ := fs.String("type", "world", "Domain type: world, laboratory, imaginary")
	directory := fs.String("directory", "", "Model output directory or bucket URL (default: ./<name>)")
	testCase := fs.String("case", "", "Test case for laboratory and imaginary domains (default: -name)")
	resolution := fs.Float64("resolution", 0, "Grid resolution in metres (default 2)")
	format := fs.String("format", "", "Raster format: EHdr or AAIGrid")
	lowerLeft := fs.String("lower-left", "", "Lower-left corner as easting,northing")
	upperRight := fs.String("upper-right", "", "Upper-right corner as easting,northing")
	decompose := fs.Int("decompose", 1, "Split the domain into this many overlapping parts")
	overlap := fs.Int("overlap", 1, "Rows shared by neighbouring parts")
	duration := fs.Float64("duration", model.DefaultDuration, "Simulated time in seconds")
	outputFrequency := fs.Float64("output-frequency", 0, "Seconds between outputs (default: duration)")
	rainIntensity := fs.Float64("rainfall-intensity", 0, "Rainfall intensity in mm/hr")
	rainDuration := fs.Float64("rainfall-duration", 0, "Rainfall duration in minutes")
	drainage := fs.Float64("drainage", 0, "Drainage rate in mm/hr")
	showProgress := fs.Bool("progress", false, "Show progress output")
	var constants constantsFlag
	fs.Var(&constants, "const", "Test case constant as key=value (repeatable)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: modelbuilder build [options]

Prepare a domain and write a HiPIMS model directory: simulation.xml, the
domain rasters under topography/ and the boundary series under boundaries/.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *name == "" {
		fmt.Fprintln(os.Stderr, "Error: -name is required")
		fs.Usage()
		return ExitInvalidArgs
	}
	domainType, err := domain.ParseType(*typ)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	var extent geo.Extent
	switch {
	case *lowerLeft != "" || *upperRight != "":
		if extent, err = parseExtent(*lowerLeft, *upperRight); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
	case domainType == domain.World:
		fmt.Fprintln(os.Stderr, "Error: -lower-left and -upper-right are required for world domains")
		fs.Usage()
		return ExitInvalidArgs
	}

	consts, err := constants.parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	if *directory == "" {
		*directory = filepath.Join(".", *name)
	}
	if *testCase == "" {
		*testCase = *name
	}

	cfg, err := common.load(config.Config{Resolution: *resolution, Format: *format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{
		acquire:  domainType == domain.World,
		progress: *showProgress,
		label:    *name,
	})
	if err != nil {
		return fail(err)
	}
	defer a.close()

	req := domain.Request{
		Name:       *name,
		Extent:     extent,
		Resolution: cfg.Resolution,
		Format:     cfg.RasterFormat(),
		Parts:      *decompose,
		Overlap:    *overlap,
		Constants:  consts,
	}
	if domainType != domain.World {
		req.Name = *testCase
	}

	d, err := domain.New(domainType, req, a.domainServices())
	if err != nil {
		return fail(err)
	}

	if e := d.Extent(); e.Width() <= 0 || e.Height() <= 0 {
		fmt.Fprintf(os.Stderr, "Error: domain %s needs -lower-left and -upper-right\n", d.Name())
		return ExitInvalidArgs
	}

	fmt.Fprintf(os.Stderr, "[mb] Preparing %s domain %s\n", d.Type(), d.Name())
	if err := d.Prepare(ctx); err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "[mb] Build interrupted, prepared tiles are kept in the workspace")
			return ExitGeneralError
		}
		return fail(err)
	}

	dst, err := workspace.Open(ctx, *directory)
	if err != nil {
		return fail(err)
	}
	defer dst.Close()

	def := model.Definition{
		Name:            *name,
		Source:          sourceDescription(domainType),
		Duration:        *duration,
		OutputFrequency: *outputFrequency,
		Format:          cfg.RasterFormat(),
		Boundaries: model.Boundaries{
			RainfallIntensity: *rainIntensity,
			RainfallDuration:  *rainDuration * 60,
			DrainageRate:      *drainage,
		},
	}
	fmt.Fprintf(os.Stderr, "[mb] Writing model %s\n", model.Describe(def))

	res, err := model.NewWriter(a.ws, dst, a.logger).Write(ctx, def, d)
	if err != nil {
		return fail(err)
	}

	fmt.Fprintf(os.Stderr, "[mb] Model complete: %s (%d files)\n", dst.Location(), len(res.Files))
	return ExitSuccess
}

func sourceDescription(t domain.Type) string {
	if t == domain.World {
		return "terrain"
	}
	return string(t) + " test case"
}
