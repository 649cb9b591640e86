package rastertools

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hipims/modelbuilder/internal/batch"
	"github.com/hipims/modelbuilder/pkg/geo"
	"github.com/hipims/modelbuilder/pkg/raster"
)

// Placement is where one source sits on the mosaic canvas, in mosaic
// pixels from the canvas's first stored row and column.
type Placement struct {
	Key     string
	SizeX   int
	SizeY   int
	OffsetX float64
	OffsetY float64
}

// MosaicResult describes a written mosaic descriptor.
type MosaicResult struct {
	Key        string
	SizeX      int
	SizeY      int
	Transform  raster.GeoTransform
	Placements []Placement
	// Skipped lists sources that could not be opened and were left out.
	Skipped []string
}

// Resolution returns the mosaic pixel size.
func (r *MosaicResult) Resolution() float64 { return r.Transform.Resolution() }

type probe struct {
	key    string
	info   raster.Info
	bounds geo.Extent
}

// BuildMosaic writes a VRT descriptor at target that places every readable
// source on a shared canvas. The canvas is the union of the source bounds
// at the finest source resolution, rounded up to whole cells; sources keep
// their native size and are not resampled. Unreadable sources are logged and skipped.
//
// Returns ErrNoSources if no source can be opened and ErrMixedOrientation
// if north-up and south-up sources are mixed.
func (t *Tools) BuildMosaic(ctx context.Context, target string, sources []string) (res *MosaicResult, err error) {
	start := time.Now()
	defer func() { t.done("mosaic", start, err) }()

	probes := batch.Run(ctx, sources, t.concurrency, func(ctx context.Context, key string) (probe, error) {
		ds, err := t.store.Open(ctx, key)
		if err != nil {
			return probe{}, err
		}
		defer ds.Close(ctx)
		info := ds.Info()
		return probe{key: key, info: info, bounds: info.Bounds()}, nil
	})

	result := &MosaicResult{Key: target}
	var opened []probe
	for _, p := range probes {
		if p.Err != nil {
			t.logger.Warn("skipping unreadable mosaic source", "mosaic", target, "source", sources[p.Index], "error", p.Err)
			result.Skipped = append(result.Skipped, sources[p.Index])
			continue
		}
		opened = append(opened, p.Value)
	}
	if len(opened) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSources, target)
	}

	northUp := opened[0].info.Transform.NorthUp()
	bounds := opened[0].bounds
	resolution := math.Inf(1)
	for _, p := range opened {
		if p.info.Transform.NorthUp() != northUp {
			return nil, fmt.Errorf("%w: %s and %s", ErrMixedOrientation, opened[0].key, p.key)
		}
		bounds = bounds.Union(p.bounds)
		resolution = math.Min(resolution, p.info.Transform.Resolution())
	}

	// Sources off the finest grid can end part of a cell past the union,
	// so the canvas rounds up to keep every placement inside it.
	result.SizeX = ceilCell(bounds.Width() / resolution)
	result.SizeY = ceilCell(bounds.Height() / resolution)
	if northUp {
		result.Transform = raster.GeoTransform{bounds.MinX(), resolution, 0, bounds.MaxY(), 0, -resolution}
	} else {
		result.Transform = raster.GeoTransform{bounds.MinX(), resolution, 0, bounds.MinY(), 0, resolution}
	}

	band := raster.VRTRasterBand{DataType: "Float32", Band: 1, NoDataValue: raster.NoData}
	for _, p := range opened {
		offY := (p.bounds.MinY() - bounds.MinY()) / resolution
		if northUp {
			offY = (bounds.MaxY() - p.bounds.MaxY()) / resolution
		}
		pl := Placement{
			Key:     p.key,
			SizeX:   p.info.SizeX,
			SizeY:   p.info.SizeY,
			OffsetX: (p.bounds.MinX() - bounds.MinX()) / resolution,
			OffsetY: offY,
		}
		result.Placements = append(result.Placements, pl)

		name, relative := relativeKey(target, p.key)
		rel := 0
		if relative {
			rel = 1
		}
		nodata := raster.NoData
		band.Sources = append(band.Sources, raster.SimpleSource{
			SourceFilename: raster.SourceFilename{RelativeToVRT: rel, Path: name},
			SourceBand:     1,
			SourceProperties: raster.SourceProperties{
				RasterXSize: pl.SizeX,
				RasterYSize: pl.SizeY,
				DataType:    "Float32",
				BlockXSize:  pl.SizeX,
				BlockYSize:  1,
			},
			SrcRect: raster.Rect{XSize: float64(pl.SizeX), YSize: float64(pl.SizeY)},
			DstRect: raster.Rect{XOff: pl.OffsetX, YOff: pl.OffsetY, XSize: float64(pl.SizeX), YSize: float64(pl.SizeY)},
			NoData:  &nodata,
		})
	}

	desc := &raster.VRTDataset{
		RasterXSize:  result.SizeX,
		RasterYSize:  result.SizeY,
		GeoTransform: result.Transform,
		Bands:        []raster.VRTRasterBand{band},
	}
	if err := t.store.WriteVRT(ctx, target, desc); err != nil {
		return nil, fmt.Errorf("rastertools: write mosaic %s: %w", target, err)
	}

	t.logger.Info("mosaic written", "mosaic", target, "sources", len(opened), "skipped", len(result.Skipped),
		"size_x", result.SizeX, "size_y", result.SizeY, "resolution", resolution)
	return result, nil
}
