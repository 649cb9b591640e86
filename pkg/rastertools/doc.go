// Package rastertools assembles terrain rasters: it builds virtual mosaics
// from many tiles, clips a mosaic to a study extent, divides a raster into
// overlapping row bands and writes synthetic grids.
//
// All operations work through a raster.Store and never resample: a mosaic
// takes the finest source resolution and places each source at its native
// size, and a clip keeps the pixel grid of its source.
//
// # Usage
//
//	tools := rastertools.New(raster.NewBucketProvider(bucket))
//	m, err := tools.BuildMosaic(ctx, "DOMAIN_DTM.vrt", tileVRTs)
//	c, err := tools.Clip(ctx, "DOMAIN_DTM.vrt", "CLIP_DTM.flt", raster.EHdr, extent)
//	parts, err := tools.Divide(ctx, "CLIP_DTM.flt", []string{"P0.flt", "P1.flt"}, raster.EHdr, 4)
//
// A clip whose extent misses the source fails with ErrNoOverlap rather than
// writing an empty raster.
package rastertools
