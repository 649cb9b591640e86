package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/hipims/modelbuilder/internal/catalog"
	"github.com/hipims/modelbuilder/internal/config"
	"github.com/hipims/modelbuilder/internal/tile"
)

// runValidate checks that every source of one or more mosaics exists and
// still has the size recorded in the descriptor. Reports validation status
// without reading raster data.
func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	common := addCommonFlags(fs)

	tileID := fs.String("tile", "", "Validate both product mosaics of this tile")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: modelbuilder validate [options] [VRT...]

Verify that every source of a mosaic exists, has the size recorded in the
descriptor and lies inside the canvas. Does not read cell values.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	keys := fs.Args()
	if *tileID != "" {
		keys = append(keys, tile.MosaicKey(*tileID, catalog.DTM), tile.MosaicKey(*tileID, catalog.DSM))
	}
	if len(keys) == 0 {
		fmt.Fprintln(os.Stderr, "Error: give mosaic keys or -tile")
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

	code := ExitSuccess
	for _, key := range keys {
		result, err := a.tools.Validate(ctx, key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			code = ExitStorageError
			continue
		}

		fmt.Printf("Mosaic: %s\n", key)
		fmt.Printf("Size: %dx%d\n", result.SizeX, result.SizeY)
		fmt.Printf("Sources: %d\n", result.SourceCount)

		if result.Valid {
			fmt.Println("Status: VALID")
			continue
		}

		fmt.Println("Status: INVALID")
		fmt.Printf("Missing sources: %d\n", result.MissingSources)
		fmt.Printf("Size mismatches: %d\n", result.SizeMismatches)
		fmt.Printf("Outside canvas: %d\n", result.OutOfCanvas)

		if len(result.Errors) > 0 {
			fmt.Println("\nErrors:")
			for _, e := range result.Errors {
				fmt.Printf("  - %s\n", e)
			}
		}
		if code == ExitSuccess {
			code = ExitValidationFailed
		}
	}
	return code
}
