package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/hipims/modelbuilder/internal/domain"
	mbhttp "github.com/hipims/modelbuilder/internal/http"
	"github.com/hipims/modelbuilder/internal/model"
	"github.com/hipims/modelbuilder/internal/testcases"
	"github.com/hipims/modelbuilder/internal/tile"
	"github.com/hipims/modelbuilder/internal/workspace"
	"github.com/hipims/modelbuilder/pkg/raster"
	"github.com/hipims/modelbuilder/pkg/rastertools"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitInvalidArgs      = 2
	ExitSourceNotAccess  = 3
	ExitNoData           = 4
	ExitStorageError     = 5
	ExitNotModelDir      = 6
	ExitValidationFailed = 7
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "build":
		return runBuild(cmdArgs)
	case "synth":
		return runSynth(cmdArgs)
	case "tiles":
		return runTiles(cmdArgs)
	case "mosaic":
		return runMosaic(cmdArgs)
	case "clip":
		return runClip(cmdArgs)
	case "divide":
		return runDivide(cmdArgs)
	case "validate":
		return runValidate(cmdArgs)
	case "clean":
		return runClean(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: modelbuilder <command> [options]

Commands:
  build     Prepare a domain and write a HiPIMS model directory
  synth     Write the rasters of a laboratory test case to the workspace
  tiles     Acquire survey tiles covering an extent, or list their state
  mosaic    Build a VRT mosaic over rasters in the workspace
  clip      Clip a workspace raster to an extent
  divide    Split a workspace raster into overlapping row bands
  validate  Verify that every source of a mosaic exists with its recorded size
  clean     Remove the workspace artifacts of tiles

Run 'modelbuilder <command> -h' for command-specific help.`)
}

// exitCode maps a failure to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, tile.ErrNoMatchingData),
		errors.Is(err, domain.ErrOutsideGrid),
		errors.Is(err, rastertools.ErrNoSources),
		errors.Is(err, rastertools.ErrNoOverlap):
		return ExitNoData
	case errors.Is(err, mbhttp.ErrNotFound),
		errors.Is(err, mbhttp.ErrForbidden),
		errors.Is(err, mbhttp.ErrUnauthorized),
		errors.Is(err, mbhttp.ErrServerError):
		return ExitSourceNotAccess
	case errors.Is(err, workspace.ErrUnavailable):
		return ExitStorageError
	case errors.Is(err, model.ErrNotModelDirectory):
		return ExitNotModelDir
	case errors.Is(err, domain.ErrUnknownType),
		errors.Is(err, testcases.ErrUnknownCase),
		errors.Is(err, raster.ErrUnsupportedFormat):
		return ExitInvalidArgs
	}
	return ExitGeneralError
}

// fail reports err and returns its exit code.
func fail(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitCode(err)
}
