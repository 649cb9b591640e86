package rastertools

import (
	"context"
	"testing"
	"time"

	"github.com/hipims/modelbuilder/pkg/raster"
)

func TestValidate(t *testing.T) {
	ctx := context.Background()
	m := raster.NewMemory()
	putConst(t, m, "t/a", 10, 10, raster.GeoTransform{0, 1, 0, 10, 0, -1}, 1)
	putConst(t, m, "t/b", 10, 10, raster.GeoTransform{10, 1, 0, 10, 0, -1}, 1)
	tools := New(m)

	if _, err := tools.BuildMosaic(ctx, "t/m.vrt", []string{"t/a", "t/b"}); err != nil {
		t.Fatalf("BuildMosaic: %v", err)
	}
	result, err := tools.Validate(ctx, "t/m.vrt")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Valid || result.SourceCount != 2 {
		t.Errorf("result = %+v, want valid with 2 sources", result)
	}

	// Replace b with a smaller raster and drop a.
	putConst(t, m, "t/b", 5, 5, raster.GeoTransform{10, 1, 0, 10, 0, -1}, 1)
	desc, _ := m.ReadVRT(ctx, "t/m.vrt")
	desc.Bands[0].Sources[0].SourceFilename.Path = "gone"
	desc.Bands[0].Sources[1].DstRect.XOff = 15

	result, err = tools.Validate(ctx, "t/m.vrt")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid {
		t.Error("expected invalid result")
	}
	if result.MissingSources != 1 || result.SizeMismatches != 1 || result.OutOfCanvas != 1 {
		t.Errorf("counts = missing %d, mismatched %d, outside %d; want 1 each",
			result.MissingSources, result.SizeMismatches, result.OutOfCanvas)
	}
	if len(result.Errors) != 3 {
		t.Errorf("errors = %v", result.Errors)
	}
}

func TestValidateMissingDescriptor(t *testing.T) {
	if _, err := New(raster.NewMemory()).Validate(context.Background(), "none.vrt"); err == nil {
		t.Fatal("expected error")
	}
}

func TestObserver(t *testing.T) {
	m := raster.NewMemory()
	putConst(t, m, "a", 2, 2, raster.GeoTransform{0, 1, 0, 2, 0, -1}, 1)

	var ops []string
	var failed int
	tools := New(m, WithObserver(func(op string, _ time.Duration, err error) {
		ops = append(ops, op)
		if err != nil {
			failed++
		}
	}))

	ctx := context.Background()
	tools.BuildMosaic(ctx, "m.vrt", []string{"a"})
	tools.BuildMosaic(ctx, "n.vrt", []string{"missing"})

	if len(ops) != 2 || ops[0] != "mosaic" {
		t.Errorf("ops = %v", ops)
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}

func TestRelativeKey(t *testing.T) {
	tests := []struct {
		target, src string
		want        string
		relative    bool
	}{
		{"m.vrt", "a.flt", "a.flt", true},
		{"SU12/DTM.vrt", "SU12/DTM/su1020_DTM_2m.asc", "DTM/su1020_DTM_2m.asc", true},
		{"SU12/DTM.vrt", "other/x.asc", "other/x.asc", false},
	}
	for _, tt := range tests {
		got, rel := relativeKey(tt.target, tt.src)
		if got != tt.want || rel != tt.relative {
			t.Errorf("relativeKey(%q, %q) = %q, %v; want %q, %v", tt.target, tt.src, got, rel, tt.want, tt.relative)
		}
	}
}
