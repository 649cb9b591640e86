package raster

import (
	"context"
	"encoding/xml"
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
	"sync"

	"gocloud.dev/blob"
)

// VRTDataset is the XML virtual mosaic descriptor, a subset of the GDAL
// VRT schema: one band of simple sources placed without resampling.
type VRTDataset struct {
	XMLName      xml.Name        `xml:"VRTDataset"`
	RasterXSize  int             `xml:"rasterXSize,attr"`
	RasterYSize  int             `xml:"rasterYSize,attr"`
	GeoTransform GeoTransform    `xml:"GeoTransform"`
	Bands        []VRTRasterBand `xml:"VRTRasterBand"`
}

// VRTRasterBand is one band of a virtual mosaic.
type VRTRasterBand struct {
	DataType    string         `xml:"dataType,attr"`
	Band        int            `xml:"band,attr"`
	NoDataValue float64        `xml:"NoDataValue"`
	Sources     []SimpleSource `xml:"SimpleSource"`
	Complex     []SimpleSource `xml:"ComplexSource,omitempty"`
}

// SimpleSource places a window of one source raster on the mosaic canvas.
type SimpleSource struct {
	SourceFilename   SourceFilename   `xml:"SourceFilename"`
	SourceBand       int              `xml:"SourceBand"`
	SourceProperties SourceProperties `xml:"SourceProperties"`
	SrcRect          Rect             `xml:"SrcRect"`
	DstRect          Rect             `xml:"DstRect"`
	NoData           *float64         `xml:"NODATA,omitempty"`
}

// SourceFilename names a source, relative to the descriptor when
// RelativeToVRT is 1.
type SourceFilename struct {
	RelativeToVRT int    `xml:"relativeToVRT,attr"`
	Path          string `xml:",chardata"`
}

// SourceProperties records the native shape of a source.
type SourceProperties struct {
	RasterXSize int    `xml:"RasterXSize,attr"`
	RasterYSize int    `xml:"RasterYSize,attr"`
	DataType    string `xml:"DataType,attr"`
	BlockXSize  int    `xml:"BlockXSize,attr"`
	BlockYSize  int    `xml:"BlockYSize,attr"`
}

// Rect is a pixel rectangle. Offsets may be fractional when sources are
// not aligned to the mosaic grid.
type Rect struct {
	XOff  float64 `xml:"xOff,attr"`
	YOff  float64 `xml:"yOff,attr"`
	XSize float64 `xml:"xSize,attr"`
	YSize float64 `xml:"ySize,attr"`
}

// MarshalText renders the transform the way GDAL writes it.
func (gt GeoTransform) MarshalText() ([]byte, error) {
	parts := make([]string, len(gt))
	for i, v := range gt {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return []byte(strings.Join(parts, ", ")), nil
}

// UnmarshalText parses six comma-separated coefficients.
func (gt *GeoTransform) UnmarshalText(text []byte) error {
	parts := strings.Split(string(text), ",")
	if len(parts) != 6 {
		return fmt.Errorf("geotransform: want 6 coefficients, got %d", len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("geotransform[%d]: %w", i, err)
		}
		gt[i] = v
	}
	return nil
}

// SourceKey resolves a source's bucket key against the descriptor's key.
func (s SimpleSource) SourceKey(vrtKey string) string {
	if s.SourceFilename.RelativeToVRT == 1 {
		return path.Join(path.Dir(vrtKey), s.SourceFilename.Path)
	}
	return strings.TrimPrefix(s.SourceFilename.Path, "/")
}

// AllSources returns simple and complex sources in document order of kind.
func (b VRTRasterBand) AllSources() []SimpleSource {
	out := make([]SimpleSource, 0, len(b.Sources)+len(b.Complex))
	out = append(out, b.Sources...)
	return append(out, b.Complex...)
}

// ReadVRT loads and decodes a descriptor.
func ReadVRT(ctx context.Context, bucket *blob.Bucket, key string) (*VRTDataset, error) {
	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read vrt: %w", err)
	}
	var d VRTDataset
	if err := xml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse vrt %s: %w", key, err)
	}
	if len(d.Bands) == 0 {
		return nil, fmt.Errorf("vrt %s: no raster band", key)
	}
	return &d, nil
}

// WriteVRT encodes and stores a descriptor.
func WriteVRT(ctx context.Context, bucket *blob.Bucket, key string, d *VRTDataset) error {
	data, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode vrt: %w", err)
	}
	data = append(data, '\n')
	if err := bucket.WriteAll(ctx, key, data, nil); err != nil {
		return fmt.Errorf("write vrt: %w", err)
	}
	return nil
}

// vrtDataset composes the first band of a descriptor on demand. Sources
// later in the list paint over earlier ones except where they hold NODATA.
type vrtDataset struct {
	provider Provider
	key      string
	desc     *VRTDataset
	info     Info

	mu      sync.Mutex
	sources map[string]Dataset
}

func newVRTDataset(p Provider, key string, desc *VRTDataset) *vrtDataset {
	return &vrtDataset{
		provider: p,
		key:      key,
		desc:     desc,
		info: Info{
			SizeX:     desc.RasterXSize,
			SizeY:     desc.RasterYSize,
			Bands:     len(desc.Bands),
			Transform: desc.GeoTransform,
			NoData:    desc.Bands[0].NoDataValue,
		},
		sources: make(map[string]Dataset),
	}
}

func (d *vrtDataset) Info() Info { return d.info }

func (d *vrtDataset) source(ctx context.Context, key string) (Dataset, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ds, ok := d.sources[key]; ok {
		return ds, nil
	}
	ds, err := d.provider.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	d.sources[key] = ds
	return ds, nil
}

func (d *vrtDataset) ReadWindow(ctx context.Context, x, y, w, h int, buf []float32) error {
	if err := checkWindow(d.info, x, y, w, h, buf); err != nil {
		return err
	}
	fill := float32(d.info.NoData)
	for i := 0; i < w*h; i++ {
		buf[i] = fill
	}

	for _, s := range d.desc.Bands[0].AllSources() {
		dx, dy := int(math.Round(s.DstRect.XOff)), int(math.Round(s.DstRect.YOff))
		dw, dh := int(math.Round(s.DstRect.XSize)), int(math.Round(s.DstRect.YSize))
		sx, sy := int(math.Round(s.SrcRect.XOff)), int(math.Round(s.SrcRect.YOff))
		if dw != int(math.Round(s.SrcRect.XSize)) || dh != int(math.Round(s.SrcRect.YSize)) {
			return fmt.Errorf("%w: resampled source %s", ErrUnsupportedFormat, s.SourceFilename.Path)
		}

		x0, y0 := max(x, dx), max(y, dy)
		x1, y1 := min(x+w, dx+dw), min(y+h, dy+dh)
		if x0 >= x1 || y0 >= y1 {
			continue
		}

		src, err := d.source(ctx, s.SourceKey(d.key))
		if err != nil {
			return fmt.Errorf("open source %s: %w", s.SourceFilename.Path, err)
		}
		srcNoData := src.Info().NoData
		if s.NoData != nil {
			srcNoData = *s.NoData
		}

		cw, ch := x1-x0, y1-y0
		tmp := make([]float32, cw*ch)
		if err := src.ReadWindow(ctx, sx+x0-dx, sy+y0-dy, cw, ch, tmp); err != nil {
			return fmt.Errorf("read source %s: %w", s.SourceFilename.Path, err)
		}
		for row := 0; row < ch; row++ {
			for col := 0; col < cw; col++ {
				v := tmp[row*cw+col]
				if float64(v) == srcNoData || math.IsNaN(float64(v)) {
					continue
				}
				buf[(y0-y+row)*w+(x0-x+col)] = v
			}
		}
	}
	return nil
}

func (d *vrtDataset) WriteWindow(context.Context, int, int, int, int, []float32) error {
	return ErrReadOnly
}

func (d *vrtDataset) SetNoData(v float64) { d.info.NoData = v }

func (d *vrtDataset) Flush(context.Context) error { return nil }

func (d *vrtDataset) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for key, ds := range d.sources {
		if err := ds.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.sources, key)
	}
	return firstErr
}
