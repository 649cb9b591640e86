// Package raster is the raster I/O layer: single-band Float32 datasets
// with a fixed NODATA sentinel, addressed by key in a blob bucket.
//
// # Formats
//
//   - EHdr: .flt little-endian float32 rows, north first, with a .hdr header
//   - AAIGrid: ESRI ASCII grid (.asc), read whole into memory
//   - VRT: XML mosaic descriptor composing other datasets without copying
//
// # Usage
//
//	p := raster.NewBucketProvider(bucket)
//	ds, err := p.Create(ctx, "CLIP_DTM.flt", raster.EHdr, 500, 400, gt)
//	...
//	err = ds.WriteWindow(ctx, 0, 0, 32, 32, buf)
//	err = ds.Close(ctx) // writes CLIP_DTM.hdr and CLIP_DTM.flt
//
// Created datasets buffer their pixels and are written on Close. Opened
// EHdr datasets read rows with range requests.
package raster
