package raster

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

func openMemBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

func TestGeoTransformBounds(t *testing.T) {
	tests := []struct {
		name string
		gt   GeoTransform
		want [4]float64
	}{
		{"north up", GeoTransform{100, 2, 0, 300, 0, -2}, [4]float64{100, 100, 300, 300}},
		{"south up", GeoTransform{100, 2, 0, 100, 0, 2}, [4]float64{100, 100, 300, 300}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.gt.Bounds(100, 100)
			got := [4]float64{b.MinX(), b.MinY(), b.MaxX(), b.MaxY()}
			if got != tt.want {
				t.Errorf("Bounds = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatForKey(t *testing.T) {
	tests := []struct {
		key  string
		want Format
		err  bool
	}{
		{"a/b.flt", EHdr, false},
		{"a/b.HDR", EHdr, false},
		{"SU30ne/su3005_DTM_2m.asc", AAIGrid, false},
		{"DOMAIN_DTM.vrt", VRT, false},
		{"model.img", "", true},
	}
	for _, tt := range tests {
		got, err := FormatForKey(tt.key)
		if (err != nil) != tt.err {
			t.Errorf("FormatForKey(%q) error = %v", tt.key, err)
			continue
		}
		if got != tt.want {
			t.Errorf("FormatForKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
	if _, err := FormatForKey("x.tif"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestFiles(t *testing.T) {
	if got := Files("out/CLIP_DTM.flt"); len(got) != 2 || got[0] != "out/CLIP_DTM.flt" || got[1] != "out/CLIP_DTM.hdr" {
		t.Errorf("Files(flt) = %v", got)
	}
	if got := Files("m.vrt"); len(got) != 1 || got[0] != "m.vrt" {
		t.Errorf("Files(vrt) = %v", got)
	}
}

func TestEHdrRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := NewBucketProvider(openMemBucket(t))

	gt := GeoTransform{1000, 2, 0, 2000, 0, -2}
	ds, err := p.Create(ctx, "out/test.flt", EHdr, 4, 3, gt)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	values := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	if err := ds.WriteWindow(ctx, 0, 0, 4, 3, values); err != nil {
		t.Fatalf("WriteWindow: %v", err)
	}
	if err := ds.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	hdr, err := p.Bucket().ReadAll(ctx, "out/test.hdr")
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	for _, want := range []string{"NCOLS 4", "NROWS 3", "XLLCORNER 1000", "YLLCORNER 1994", "CELLSIZE 2", "NODATA_VALUE -9999"} {
		if !strings.Contains(string(hdr), want) {
			t.Errorf("header missing %q:\n%s", want, hdr)
		}
	}

	rd, err := p.Open(ctx, "out/test.flt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rd.Close(ctx)

	info := rd.Info()
	if info.SizeX != 4 || info.SizeY != 3 || info.Transform != gt {
		t.Errorf("Info = %+v", info)
	}

	buf := make([]float32, 4)
	if err := rd.ReadWindow(ctx, 1, 1, 2, 2, buf); err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	want := []float32{6, 7, 10, 11}
	for i := range want {
		if buf[i] != want[i] {
			t.Errorf("buf[%d] = %g, want %g", i, buf[i], want[i])
		}
	}
}

func TestWriteObjectAbandonsFailedWrite(t *testing.T) {
	ctx := context.Background()
	bucket := openMemBucket(t)
	errFill := errors.New("short write")

	err := writeObject(ctx, bucket, "partial.flt", func(bw *bufio.Writer) error {
		bw.WriteString("half a raster")
		bw.Flush()
		return errFill
	})
	if !errors.Is(err, errFill) {
		t.Fatalf("expected fill error, got %v", err)
	}
	if ok, _ := bucket.Exists(ctx, "partial.flt"); ok {
		t.Error("partial object was committed")
	}

	if err := writeObject(ctx, bucket, "whole.flt", func(bw *bufio.Writer) error {
		_, err := bw.WriteString("a raster")
		return err
	}); err != nil {
		t.Fatalf("writeObject: %v", err)
	}
	if data, _ := bucket.ReadAll(ctx, "whole.flt"); string(data) != "a raster" {
		t.Errorf("whole.flt = %q", data)
	}
}

func TestEHdrFailedDataWriteRemovesHeader(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	// A directory where the data file belongs makes the commit fail.
	if err := os.MkdirAll(filepath.Join(dir, "out", "blocked.flt", "x"), 0o755); err != nil {
		t.Fatal(err)
	}
	bucket, err := fileblob.OpenBucket(dir, nil)
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	ds, err := NewBucketProvider(bucket).Create(ctx, "out/blocked.flt", EHdr, 2, 2, GeoTransform{0, 1, 0, 2, 0, -1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ds.Close(ctx); err == nil {
		t.Fatal("expected Close to fail")
	}
	if ok, _ := bucket.Exists(ctx, "out/blocked.hdr"); ok {
		t.Error("header left behind after failed data write")
	}
}

func TestEHdrSouthUpStoredNorthFirst(t *testing.T) {
	ctx := context.Background()
	p := NewBucketProvider(openMemBucket(t))

	// Row 0 of a south-up raster is its southern edge.
	ds, err := p.Create(ctx, "s.flt", EHdr, 2, 2, GeoTransform{0, 1, 0, 0, 0, 1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ds.WriteWindow(ctx, 0, 0, 2, 2, []float32{1, 2, 3, 4})
	if err := ds.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rd, err := p.Open(ctx, "s.flt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !rd.Info().Transform.NorthUp() {
		t.Fatal("reopened EHdr should be north-up")
	}
	buf := make([]float32, 4)
	if err := rd.ReadWindow(ctx, 0, 0, 2, 2, buf); err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	want := []float32{3, 4, 1, 2}
	for i := range want {
		if buf[i] != want[i] {
			t.Errorf("buf[%d] = %g, want %g", i, buf[i], want[i])
		}
	}
}

func TestOpenAAIGrid(t *testing.T) {
	ctx := context.Background()
	bucket := openMemBucket(t)
	content := `ncols        3
nrows        2
xllcenter    401
yllcenter    101
cellsize     2
NODATA_value -9999
1.5 2.5 -9999
4 5 6
`
	if err := bucket.WriteAll(ctx, "cells/a.asc", []byte(content), nil); err != nil {
		t.Fatalf("write: %v", err)
	}

	ds, err := NewBucketProvider(bucket).Open(ctx, "cells/a.asc")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	info := ds.Info()
	if info.SizeX != 3 || info.SizeY != 2 {
		t.Fatalf("size = %dx%d", info.SizeX, info.SizeY)
	}
	if want := (GeoTransform{400, 2, 0, 104, 0, -2}); info.Transform != want {
		t.Errorf("Transform = %v, want %v", info.Transform, want)
	}

	buf := make([]float32, 6)
	if err := ds.ReadWindow(ctx, 0, 0, 3, 2, buf); err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	if buf[0] != 1.5 || buf[2] != NoData || buf[5] != 6 {
		t.Errorf("values = %v", buf)
	}
	if err := ds.WriteWindow(ctx, 0, 0, 1, 1, buf); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

func TestOpenAAIGridShortData(t *testing.T) {
	ctx := context.Background()
	bucket := openMemBucket(t)
	content := "ncols 2\nnrows 2\nxllcorner 0\nyllcorner 0\ncellsize 1\n1 2\n3\n"
	bucket.WriteAll(ctx, "short.asc", []byte(content), nil)

	if _, err := NewBucketProvider(bucket).Open(ctx, "short.asc"); err == nil {
		t.Fatal("expected error for truncated grid")
	}
}

func TestAAIGridRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := NewBucketProvider(openMemBucket(t))

	ds, err := p.Create(ctx, "rt.asc", AAIGrid, 2, 2, GeoTransform{10, 5, 0, 20, 0, -5})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ds.WriteWindow(ctx, 0, 0, 2, 2, []float32{0.25, 1, 2, 3})
	if err := ds.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rd, err := p.Open(ctx, "rt.asc")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	buf := make([]float32, 4)
	rd.ReadWindow(ctx, 0, 0, 2, 2, buf)
	if buf[0] != 0.25 || buf[3] != 3 {
		t.Errorf("values = %v", buf)
	}
}

func TestWindowOutOfRange(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ds, _ := m.Create(ctx, "g", EHdr, 4, 4, GeoTransform{0, 1, 0, 4, 0, -1})
	buf := make([]float32, 16)
	if err := ds.ReadWindow(ctx, 2, 2, 4, 4, buf); !errors.Is(err, ErrWindowOutOfRange) {
		t.Errorf("expected ErrWindowOutOfRange, got %v", err)
	}
	if err := ds.ReadWindow(ctx, 0, 0, 4, 4, buf[:3]); !errors.Is(err, ErrBufferSize) {
		t.Errorf("expected ErrBufferSize, got %v", err)
	}
}

func TestFlushWritesBeforeClose(t *testing.T) {
	ctx := context.Background()
	bucket := openMemBucket(t)
	p := NewBucketProvider(bucket)

	ds, err := p.Create(ctx, "f.flt", EHdr, 2, 2, GeoTransform{0, 1, 0, 2, 0, -1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ds.WriteWindow(ctx, 0, 0, 2, 2, []float32{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteWindow: %v", err)
	}
	if err := ds.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if ok, _ := bucket.Exists(ctx, "f.hdr"); !ok {
		t.Error("header not written by Flush")
	}

	reopened, err := p.Open(ctx, "f.flt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	buf := make([]float32, 4)
	if err := reopened.ReadWindow(ctx, 0, 0, 2, 2, buf); err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	if buf[3] != 4 {
		t.Errorf("flushed values = %v", buf)
	}
	if err := ds.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
