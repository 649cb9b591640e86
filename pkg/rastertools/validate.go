package rastertools

import (
	"context"
	"fmt"
)

// ValidationResult contains the results of validating a mosaic.
type ValidationResult struct {
	Valid          bool     // true if every source opens with its recorded size
	SizeX, SizeY   int      // canvas size from the descriptor
	SourceCount    int      // number of sources in the descriptor
	MissingSources int      // number of sources that cannot be opened
	SizeMismatches int      // number of sources whose size differs from the descriptor
	OutOfCanvas    int      // number of placements extending past the canvas
	Errors         []string // detailed error messages
}

// Validate checks that every source of the mosaic at key can be opened,
// still has the size recorded in the descriptor, and is placed inside the
// canvas. Source problems are reported in the result, not as errors.
//
// Returns an error if the descriptor itself cannot be read.
func (t *Tools) Validate(ctx context.Context, key string) (*ValidationResult, error) {
	desc, err := t.store.ReadVRT(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("rastertools: validate %s: %w", key, err)
	}

	if len(desc.Bands) == 0 {
		return nil, fmt.Errorf("rastertools: validate %s: descriptor has no bands", key)
	}

	result := &ValidationResult{
		Valid:  true,
		SizeX:  desc.RasterXSize,
		SizeY:  desc.RasterYSize,
		Errors: make([]string, 0),
	}

	for i, s := range desc.Bands[0].AllSources() {
		result.SourceCount++
		srcKey := s.SourceKey(key)

		if s.DstRect.XOff < 0 || s.DstRect.YOff < 0 ||
			s.DstRect.XOff+s.DstRect.XSize > float64(desc.RasterXSize)+cellEpsilon ||
			s.DstRect.YOff+s.DstRect.YSize > float64(desc.RasterYSize)+cellEpsilon {
			result.Valid = false
			result.OutOfCanvas++
			result.Errors = append(result.Errors,
				fmt.Sprintf("source %d placed outside canvas: %s", i, srcKey))
		}

		ds, err := t.store.Open(ctx, srcKey)
		if err != nil {
			result.Valid = false
			result.MissingSources++
			result.Errors = append(result.Errors,
				fmt.Sprintf("source %d missing: %s", i, srcKey))
			continue
		}
		info := ds.Info()
		ds.Close(ctx)

		want := s.SourceProperties
		if want.RasterXSize != 0 && (info.SizeX != want.RasterXSize || info.SizeY != want.RasterYSize) {
			result.Valid = false
			result.SizeMismatches++
			result.Errors = append(result.Errors,
				fmt.Sprintf("source %d size mismatch: expected %dx%d, got %dx%d",
					i, want.RasterXSize, want.RasterYSize, info.SizeX, info.SizeY))
		}
	}

	return result, nil
}
