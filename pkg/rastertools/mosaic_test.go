package rastertools

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/hipims/modelbuilder/pkg/raster"
)

// putConst stores a constant-valued sizeX by sizeY raster under key.
func putConst(t *testing.T, m *raster.Memory, key string, sizeX, sizeY int, gt raster.GeoTransform, v float32) {
	t.Helper()
	values := make([]float32, sizeX*sizeY)
	for i := range values {
		values[i] = v
	}
	if err := m.Put(key, sizeX, sizeY, gt, values); err != nil {
		t.Fatalf("Put %s: %v", key, err)
	}
}

// putRamp stores a raster whose value is storedRow*1000 + col.
func putRamp(t *testing.T, m *raster.Memory, key string, sizeX, sizeY int, gt raster.GeoTransform) {
	t.Helper()
	values := make([]float32, sizeX*sizeY)
	for row := 0; row < sizeY; row++ {
		for col := 0; col < sizeX; col++ {
			values[row*sizeX+col] = float32(row*1000 + col)
		}
	}
	if err := m.Put(key, sizeX, sizeY, gt, values); err != nil {
		t.Fatalf("Put %s: %v", key, err)
	}
}

func TestBuildMosaicOffsets(t *testing.T) {
	ctx := context.Background()
	m := raster.NewMemory()
	putConst(t, m, "tiles/a.asc", 100, 100, raster.GeoTransform{400000, 2, 0, 100200, 0, -2}, 1)
	putConst(t, m, "tiles/b.asc", 100, 100, raster.GeoTransform{400200, 2, 0, 100200, 0, -2}, 2)

	res, err := New(m).BuildMosaic(ctx, "tiles/m.vrt", []string{"tiles/a.asc", "tiles/b.asc"})
	if err != nil {
		t.Fatalf("BuildMosaic: %v", err)
	}

	if res.SizeX != 200 || res.SizeY != 100 {
		t.Errorf("size = %dx%d, want 200x100", res.SizeX, res.SizeY)
	}
	if res.Resolution() != 2 {
		t.Errorf("resolution = %g, want 2", res.Resolution())
	}
	if got := res.Placements[1].OffsetX; got != 100 {
		t.Errorf("second source offsetX = %g, want 100", got)
	}
	for _, p := range res.Placements {
		if p.OffsetX < 0 || p.OffsetY < 0 ||
			p.OffsetX+float64(p.SizeX) > float64(res.SizeX) ||
			p.OffsetY+float64(p.SizeY) > float64(res.SizeY) {
			t.Errorf("placement %+v outside %dx%d canvas", p, res.SizeX, res.SizeY)
		}
	}

	desc, err := m.ReadVRT(ctx, "tiles/m.vrt")
	if err != nil {
		t.Fatalf("ReadVRT: %v", err)
	}
	src := desc.Bands[0].Sources[1]
	if src.SourceFilename.Path != "b.asc" || src.SourceFilename.RelativeToVRT != 1 {
		t.Errorf("source filename = %+v", src.SourceFilename)
	}
	if src.SrcRect.XSize != 100 || src.SrcRect.YSize != 100 || src.DstRect.XSize != 100 || src.DstRect.YSize != 100 {
		t.Errorf("rects not native size: src %+v dst %+v", src.SrcRect, src.DstRect)
	}
	if desc.GeoTransform != (raster.GeoTransform{400000, 2, 0, 100200, 0, -2}) {
		t.Errorf("GeoTransform = %v", desc.GeoTransform)
	}
}

func TestBuildMosaicVerticalOffsets(t *testing.T) {
	tests := []struct {
		name   string
		gtLow  raster.GeoTransform
		gtHigh raster.GeoTransform
		// expected OffsetY of the low and high source
		wantLow, wantHigh float64
	}{
		{
			name:     "north up measures from top",
			gtLow:    raster.GeoTransform{0, 1, 0, 10, 0, -1},
			gtHigh:   raster.GeoTransform{0, 1, 0, 20, 0, -1},
			wantLow:  10,
			wantHigh: 0,
		},
		{
			name:     "south up measures from bottom",
			gtLow:    raster.GeoTransform{0, 1, 0, 0, 0, 1},
			gtHigh:   raster.GeoTransform{0, 1, 0, 10, 0, 1},
			wantLow:  0,
			wantHigh: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := raster.NewMemory()
			putConst(t, m, "low", 10, 10, tt.gtLow, 1)
			putConst(t, m, "high", 10, 10, tt.gtHigh, 2)

			res, err := New(m).BuildMosaic(context.Background(), "m.vrt", []string{"low", "high"})
			if err != nil {
				t.Fatalf("BuildMosaic: %v", err)
			}
			if res.SizeY != 20 {
				t.Errorf("SizeY = %d, want 20", res.SizeY)
			}
			if got := res.Placements[0].OffsetY; got != tt.wantLow {
				t.Errorf("low OffsetY = %g, want %g", got, tt.wantLow)
			}
			if got := res.Placements[1].OffsetY; got != tt.wantHigh {
				t.Errorf("high OffsetY = %g, want %g", got, tt.wantHigh)
			}
		})
	}
}

func TestBuildMosaicMinimumResolution(t *testing.T) {
	m := raster.NewMemory()
	putConst(t, m, "coarse", 10, 10, raster.GeoTransform{0, 2, 0, 20, 0, -2}, 1)
	putConst(t, m, "fine", 20, 20, raster.GeoTransform{20, 1, 0, 20, 0, -1}, 2)

	res, err := New(m).BuildMosaic(context.Background(), "m.vrt", []string{"coarse", "fine"})
	if err != nil {
		t.Fatalf("BuildMosaic: %v", err)
	}
	if res.Resolution() != 1 {
		t.Errorf("resolution = %g, want 1", res.Resolution())
	}
	if res.SizeX != 40 || res.SizeY != 20 {
		t.Errorf("size = %dx%d, want 40x20", res.SizeX, res.SizeY)
	}
	// Sources keep their native size.
	if res.Placements[0].SizeX != 10 {
		t.Errorf("coarse placement resized to %d", res.Placements[0].SizeX)
	}
}

func TestBuildMosaicOffGridSourceStaysInside(t *testing.T) {
	m := raster.NewMemory()
	putConst(t, m, "a", 2, 5, raster.GeoTransform{0, 2, 0, 10, 0, -2}, 1)
	putConst(t, m, "b", 7, 5, raster.GeoTransform{0.8, 2, 0, 10, 0, -2}, 2)

	res, err := New(m).BuildMosaic(context.Background(), "m.vrt", []string{"a", "b"})
	if err != nil {
		t.Fatalf("BuildMosaic: %v", err)
	}
	if res.SizeX != 8 || res.SizeY != 5 {
		t.Errorf("size = %dx%d, want 8x5", res.SizeX, res.SizeY)
	}
	if got := res.Placements[1].OffsetX; math.Abs(got-0.4) > 1e-9 {
		t.Errorf("offsetX = %g, want 0.4", got)
	}
	for _, p := range res.Placements {
		if p.OffsetX+float64(p.SizeX) > float64(res.SizeX) || p.OffsetY+float64(p.SizeY) > float64(res.SizeY) {
			t.Errorf("placement %+v outside %dx%d canvas", p, res.SizeX, res.SizeY)
		}
	}
}

func TestBuildMosaicSkipsUnreadable(t *testing.T) {
	m := raster.NewMemory()
	putConst(t, m, "a", 10, 10, raster.GeoTransform{0, 1, 0, 10, 0, -1}, 1)
	putConst(t, m, "b", 10, 10, raster.GeoTransform{10, 1, 0, 10, 0, -1}, 1)

	res, err := New(m).BuildMosaic(context.Background(), "m.vrt", []string{"a", "missing", "b"})
	if err != nil {
		t.Fatalf("BuildMosaic: %v", err)
	}
	if len(res.Placements) != 2 {
		t.Errorf("placements = %d, want 2", len(res.Placements))
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "missing" {
		t.Errorf("Skipped = %v", res.Skipped)
	}

	// The extent shrinks to the readable sources.
	res, err = New(m).BuildMosaic(context.Background(), "m2.vrt", []string{"a", "gone"})
	if err != nil {
		t.Fatalf("BuildMosaic: %v", err)
	}
	if res.SizeX != 10 {
		t.Errorf("SizeX = %d, want 10", res.SizeX)
	}
}

func TestBuildMosaicNoSources(t *testing.T) {
	m := raster.NewMemory()
	_, err := New(m).BuildMosaic(context.Background(), "m.vrt", []string{"x", "y"})
	if !errors.Is(err, ErrNoSources) {
		t.Fatalf("expected ErrNoSources, got %v", err)
	}
	if _, err := m.ReadVRT(context.Background(), "m.vrt"); err == nil {
		t.Error("descriptor should not be written")
	}
}

func TestBuildMosaicMixedOrientation(t *testing.T) {
	m := raster.NewMemory()
	putConst(t, m, "n", 10, 10, raster.GeoTransform{0, 1, 0, 10, 0, -1}, 1)
	putConst(t, m, "s", 10, 10, raster.GeoTransform{10, 1, 0, 0, 0, 1}, 1)

	_, err := New(m).BuildMosaic(context.Background(), "m.vrt", []string{"n", "s"})
	if !errors.Is(err, ErrMixedOrientation) {
		t.Fatalf("expected ErrMixedOrientation, got %v", err)
	}
}

func TestMosaicReadsThrough(t *testing.T) {
	ctx := context.Background()
	m := raster.NewMemory()
	putConst(t, m, "a", 2, 2, raster.GeoTransform{0, 1, 0, 2, 0, -1}, 1)
	putConst(t, m, "b", 2, 2, raster.GeoTransform{2, 1, 0, 4, 0, -1}, 2)

	if _, err := New(m).BuildMosaic(ctx, "m.vrt", []string{"a", "b"}); err != nil {
		t.Fatalf("BuildMosaic: %v", err)
	}
	ds, err := m.Open(ctx, "m.vrt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	buf := make([]float32, 16)
	if err := ds.ReadWindow(ctx, 0, 0, 4, 4, buf); err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	nd := float32(raster.NoData)
	want := []float32{
		nd, nd, 2, 2,
		nd, nd, 2, 2,
		1, 1, nd, nd,
		1, 1, nd, nd,
	}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("canvas = %v, want %v", buf, want)
		}
	}
}
