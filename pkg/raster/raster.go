package raster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"strings"

	"github.com/hipims/modelbuilder/pkg/geo"
)

// NoData is the sentinel written to every raster and mosaic this package
// produces.
const NoData = -9999.0

// Common errors.
var (
	ErrUnsupportedFormat = errors.New("raster: unsupported format")
	ErrWindowOutOfRange  = errors.New("raster: window out of range")
	ErrReadOnly          = errors.New("raster: dataset is read-only")
	ErrBufferSize        = errors.New("raster: buffer too small for window")
)

// Format names an on-disk raster encoding.
type Format string

const (
	// EHdr is a headered flat binary grid: a .flt file of little-endian
	// float32 rows, north first, next to a .hdr text header.
	EHdr Format = "EHdr"

	// AAIGrid is the ESRI ASCII grid (.asc), the format of the elevation
	// cells delivered in the survey archives.
	AAIGrid Format = "AAIGrid"

	// VRT is the XML virtual mosaic descriptor. It can be opened but not
	// created through a Provider; see WriteVRT.
	VRT Format = "VRT"
)

// FormatForKey infers the format from a key's extension.
func FormatForKey(key string) (Format, error) {
	switch strings.ToLower(path.Ext(key)) {
	case ".flt", ".hdr":
		return EHdr, nil
	case ".asc":
		return AAIGrid, nil
	case ".vrt":
		return VRT, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, key)
	}
}

// Files returns every object key a dataset stored at key consists of.
func Files(key string) []string {
	if f, err := FormatForKey(key); err == nil && f == EHdr {
		return []string{fltKey(key), hdrKey(key)}
	}
	return []string{key}
}

// ParseFormat accepts a format name in any case.
func ParseFormat(s string) (Format, error) {
	for _, f := range []Format{EHdr, AAIGrid, VRT} {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Extension returns the data file extension for the format.
func (f Format) Extension() string {
	switch f {
	case EHdr:
		return ".flt"
	case AAIGrid:
		return ".asc"
	case VRT:
		return ".vrt"
	}
	return ""
}

// GeoTransform maps pixel (col, row) to world (x, y):
//
//	x = gt[0] + col*gt[1] + row*gt[2]
//	y = gt[3] + col*gt[4] + row*gt[5]
//
// Only axis-aligned transforms (gt[2] == gt[4] == 0) are supported.
type GeoTransform [6]float64

// NorthUp reports whether the first stored row is the northernmost.
func (gt GeoTransform) NorthUp() bool { return gt[5] < 0 }

// Resolution is the absolute vertical pixel size.
func (gt GeoTransform) Resolution() float64 { return math.Abs(gt[5]) }

// Bounds returns the world extent covered by a sizeX by sizeY raster.
func (gt GeoTransform) Bounds(sizeX, sizeY int) geo.Extent {
	height := float64(sizeY) * math.Abs(gt[5])
	minY := gt[3]
	if gt.NorthUp() {
		minY = gt[3] - height
	}
	return geo.NewExtent(gt[0], minY, gt[0]+float64(sizeX)*gt[1], minY+height)
}

// Info describes an open dataset.
type Info struct {
	SizeX     int
	SizeY     int
	Bands     int
	Transform GeoTransform
	NoData    float64
}

// Bounds returns the world extent of the dataset.
func (i Info) Bounds() geo.Extent {
	return i.Transform.Bounds(i.SizeX, i.SizeY)
}

// Dataset is an open single-band Float32 raster. Window rows are in stored
// order: row 0 is the northernmost row of a north-up raster and the
// southernmost row otherwise.
type Dataset interface {
	Info() Info

	// ReadWindow fills buf with the w by h window at (x, y), row-major.
	ReadWindow(ctx context.Context, x, y, w, h int, buf []float32) error

	// WriteWindow stores buf into the w by h window at (x, y).
	WriteWindow(ctx context.Context, x, y, w, h int, buf []float32) error

	SetNoData(v float64)

	// Flush writes pending pixels to storage without releasing the dataset.
	Flush(ctx context.Context) error

	// Close flushes pending writes and releases the dataset.
	Close(ctx context.Context) error
}

// Provider opens and creates datasets addressed by key.
type Provider interface {
	Open(ctx context.Context, key string) (Dataset, error)
	Create(ctx context.Context, key string, format Format, sizeX, sizeY int, gt GeoTransform) (Dataset, error)
}

// DescriptorStore is implemented by providers that persist virtual mosaic
// descriptors next to their datasets.
type DescriptorStore interface {
	WriteVRT(ctx context.Context, key string, d *VRTDataset) error
	ReadVRT(ctx context.Context, key string) (*VRTDataset, error)
}

// Store is a Provider that can also hold mosaic descriptors.
type Store interface {
	Provider
	DescriptorStore
}

var (
	_ Store = (*BucketProvider)(nil)
	_ Store = (*Memory)(nil)
)

// checkWindow validates a window against a dataset size and buffer.
func checkWindow(info Info, x, y, w, h int, buf []float32) error {
	if x < 0 || y < 0 || w < 0 || h < 0 || x+w > info.SizeX || y+h > info.SizeY {
		return fmt.Errorf("%w: (%d,%d %dx%d) in %dx%d", ErrWindowOutOfRange, x, y, w, h, info.SizeX, info.SizeY)
	}
	if len(buf) < w*h {
		return fmt.Errorf("%w: have %d, need %d", ErrBufferSize, len(buf), w*h)
	}
	return nil
}
