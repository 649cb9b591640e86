package rastertools

import (
	"context"
	"fmt"
	"time"

	"github.com/hipims/modelbuilder/pkg/geo"
	"github.com/hipims/modelbuilder/pkg/raster"
)

// Window is a pixel rectangle of a source, with rows counted from the
// southern edge.
type Window struct {
	MinX, MinY int
	MaxX, MaxY int
}

// Width returns the window width in pixels.
func (w Window) Width() int { return w.MaxX - w.MinX }

// Height returns the window height in pixels.
func (w Window) Height() int { return w.MaxY - w.MinY }

// Empty reports whether the window covers no pixels.
func (w Window) Empty() bool { return w.Width() <= 0 || w.Height() <= 0 }

// ClipWindow converts extent to the pixel window of a source with the
// given info, flooring the lower corner and ceiling the upper one, clamped
// to the source.
func ClipWindow(info raster.Info, extent geo.Extent) Window {
	base := info.Bounds()
	res := info.Transform.Resolution()
	return Window{
		MinX: clamp(floorCell((extent.MinX()-base.MinX())/res), 0, info.SizeX),
		MinY: clamp(floorCell((extent.MinY()-base.MinY())/res), 0, info.SizeY),
		MaxX: clamp(ceilCell((extent.MaxX()-base.MinX())/res), 0, info.SizeX),
		MaxY: clamp(ceilCell((extent.MaxY()-base.MinY())/res), 0, info.SizeY),
	}
}

// ClipResult describes a written clip.
type ClipResult struct {
	Key       string
	SizeX     int
	SizeY     int
	Transform raster.GeoTransform
	Window    Window
}

// Clip copies the part of source inside extent to a new raster at target.
// The output keeps the source's pixel size, orientation and pixel grid and
// has NODATA set. If extent does not intersect the source, ErrNoOverlap is
// returned and nothing is written.
func (t *Tools) Clip(ctx context.Context, source, target string, format raster.Format, extent geo.Extent) (res *ClipResult, err error) {
	start := time.Now()
	defer func() { t.done("clip", start, err) }()

	src, err := t.store.Open(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("rastertools: clip %s: %w", source, err)
	}
	defer src.Close(ctx)

	info := src.Info()
	win := ClipWindow(info, extent)
	if win.Empty() {
		return nil, fmt.Errorf("%w: %s against %v", ErrNoOverlap, source, extent)
	}

	base := info.Bounds()
	res0 := info.Transform.Resolution()
	gt := raster.GeoTransform{base.MinX() + float64(win.MinX)*res0, info.Transform[1], 0, 0, 0, info.Transform[5]}

	// Stored rows run top-down for north-up rasters and bottom-up
	// otherwise; srcRow is the stored row of the first output row.
	var srcRow int
	if info.Transform.NorthUp() {
		gt[3] = base.MinY() + float64(win.MaxY)*res0
		srcRow = info.SizeY - win.MaxY
	} else {
		gt[3] = base.MinY() + float64(win.MinY)*res0
		srcRow = win.MinY
	}

	w, h := win.Width(), win.Height()
	dst, err := t.store.Create(ctx, target, format, w, h, gt)
	if err != nil {
		return nil, fmt.Errorf("rastertools: create %s: %w", target, err)
	}
	dst.SetNoData(raster.NoData)

	if err := t.copyWindows(ctx, src, dst, win.MinX, srcRow, w, h); err != nil {
		dst.Close(ctx)
		return nil, fmt.Errorf("rastertools: clip %s: %w", source, err)
	}
	if err := dst.Close(ctx); err != nil {
		return nil, fmt.Errorf("rastertools: write %s: %w", target, err)
	}

	t.logger.Debug("clip written", "source", source, "target", target, "size_x", w, "size_y", h)
	return &ClipResult{Key: target, SizeX: w, SizeY: h, Transform: gt, Window: win}, nil
}

// copyWindows copies a w by h block starting at stored (srcX, srcY) of src
// to (0, 0) of dst in square windows, rewriting the source's NODATA to the
// fixed sentinel.
func (t *Tools) copyWindows(ctx context.Context, src, dst raster.Dataset, srcX, srcY, w, h int) error {
	srcNoData := float32(src.Info().NoData)
	buf := make([]float32, t.window*t.window)

	for y := 0; y < h; y += t.window {
		ch := min(t.window, h-y)
		for x := 0; x < w; x += t.window {
			if err := ctx.Err(); err != nil {
				return err
			}
			cw := min(t.window, w-x)
			block := buf[:cw*ch]
			if err := src.ReadWindow(ctx, srcX+x, srcY+y, cw, ch, block); err != nil {
				return fmt.Errorf("read window (%d,%d): %w", srcX+x, srcY+y, err)
			}
			if srcNoData != raster.NoData {
				for i, v := range block {
					if v == srcNoData {
						block[i] = raster.NoData
					}
				}
			}
			if err := dst.WriteWindow(ctx, x, y, cw, ch, block); err != nil {
				return fmt.Errorf("write window (%d,%d): %w", x, y, err)
			}
		}
	}
	return nil
}
