package rastertools

import (
	"context"
	"fmt"
	"time"

	"github.com/hipims/modelbuilder/pkg/geo"
	"github.com/hipims/modelbuilder/pkg/raster"
)

// GridResult describes a written synthetic grid.
type GridResult struct {
	Key       string
	SizeX     int
	SizeY     int
	Transform raster.GeoTransform
}

// GridShape returns the snapped extent and cell counts a grid over extent
// at res will have.
func GridShape(extent geo.Extent, res float64) (geo.Extent, int, int) {
	snapped := extent.SnapToGrid(res)
	return snapped, snapped.SizeX(res), snapped.SizeY(res)
}

// WriteGrid materialises a row-major array as a north-up raster covering
// extent snapped outward to res. Row 0 of values is the northernmost row.
func (t *Tools) WriteGrid(ctx context.Context, target string, format raster.Format, extent geo.Extent, res float64, values []float32) (out *GridResult, err error) {
	start := time.Now()
	defer func() { t.done("grid", start, err) }()

	if res <= 0 {
		return nil, ErrInvalidResolution
	}
	snapped, sizeX, sizeY := GridShape(extent, res)
	if sizeX <= 0 || sizeY <= 0 {
		return nil, fmt.Errorf("rastertools: grid %s: empty extent %v", target, extent)
	}
	if len(values) != sizeX*sizeY {
		return nil, fmt.Errorf("%w: %s has %d values, grid is %dx%d", ErrValueCount, target, len(values), sizeX, sizeY)
	}

	gt := raster.GeoTransform{snapped.MinX(), res, 0, snapped.MaxY(), 0, -res}
	ds, err := t.store.Create(ctx, target, format, sizeX, sizeY, gt)
	if err != nil {
		return nil, fmt.Errorf("rastertools: create %s: %w", target, err)
	}
	ds.SetNoData(raster.NoData)

	for row := 0; row < sizeY; row++ {
		if err := ds.WriteWindow(ctx, 0, row, sizeX, 1, values[row*sizeX:(row+1)*sizeX]); err != nil {
			ds.Close(ctx)
			return nil, fmt.Errorf("rastertools: write %s row %d: %w", target, row, err)
		}
	}
	if err := ds.Close(ctx); err != nil {
		return nil, fmt.Errorf("rastertools: write %s: %w", target, err)
	}

	return &GridResult{Key: target, SizeX: sizeX, SizeY: sizeY, Transform: gt}, nil
}
