package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"

	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"
)

func buildZip(t *testing.T, files map[string]string, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		w.Write([]byte(files[name]))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func putArchive(t *testing.T, b *blob.Bucket, key string, data []byte) {
	t.Helper()
	if err := b.WriteAll(context.Background(), key, data, nil); err != nil {
		t.Fatalf("write %s: %v", key, err)
	}
}

func TestTargetDir(t *testing.T) {
	tests := []struct{ in, want string }{
		{"SU12_DTM_EA.zip", "SU12_DTM"},
		{"SU12ne_DTM_EA.zip", "SU12_DTM"},
		{"SU12sw_DEM_EA.zip", "SU12_DEM"},
		{"work/SU12nw_DEM_EA.zip", "work/SU12_DEM"},
	}
	for _, tt := range tests {
		if got := TargetDir(tt.in); got != tt.want {
			t.Errorf("TargetDir(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtract(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	files := map[string]string{
		"su1020_DTM_2m.asc": "ncols 1\n",
		"su1021_DTM_2m.asc": "ncols 2\n",
		"docs/":             "",
		"docs/licence.txt":  "OGL",
	}
	putArchive(t, bucket, "SU12_DTM_EA.zip", buildZip(t, files, "su1020_DTM_2m.asc", "su1021_DTM_2m.asc", "docs/", "docs/licence.txt"))

	n, err := NewExtractor(bucket, nil).Extract(ctx, "SU12_DTM_EA.zip", TargetDir("SU12_DTM_EA.zip"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if n != 3 {
		t.Errorf("extracted %d files, want 3", n)
	}

	got, err := bucket.ReadAll(ctx, "SU12_DTM/su1021_DTM_2m.asc")
	if err != nil || string(got) != "ncols 2\n" {
		t.Errorf("extracted content = %q, %v", got, err)
	}
	if ok, _ := bucket.Exists(ctx, "SU12_DTM/docs/licence.txt"); !ok {
		t.Error("nested entry missing")
	}
}

func TestExtractQuadrantsShareDirectory(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	putArchive(t, bucket, "SU12ne_DTM_EA.zip", buildZip(t, map[string]string{"su1525.asc": "a"}, "su1525.asc"))
	putArchive(t, bucket, "SU12sw_DTM_EA.zip", buildZip(t, map[string]string{"su1020.asc": "b"}, "su1020.asc"))

	x := NewExtractor(bucket, nil)
	for _, key := range []string{"SU12ne_DTM_EA.zip", "SU12sw_DTM_EA.zip"} {
		if _, err := x.Extract(ctx, key, TargetDir(key)); err != nil {
			t.Fatalf("Extract %s: %v", key, err)
		}
	}
	for _, key := range []string{"SU12_DTM/su1525.asc", "SU12_DTM/su1020.asc"} {
		if ok, _ := bucket.Exists(ctx, key); !ok {
			t.Errorf("%s missing", key)
		}
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	putArchive(t, bucket, "bad.zip", buildZip(t, map[string]string{"../../etc/passwd": "x"}, "../../etc/passwd"))

	_, err := NewExtractor(bucket, nil).Extract(ctx, "bad.zip", "out")
	if !errors.Is(err, ErrUnsafePath) {
		t.Errorf("expected ErrUnsafePath, got %v", err)
	}
}

func TestExtractCorrupt(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	putArchive(t, bucket, "junk.zip", []byte("this is not a zip archive"))
	if _, err := NewExtractor(bucket, nil).Extract(ctx, "junk.zip", "out"); err == nil {
		t.Error("expected error for corrupt archive")
	}
	if _, err := NewExtractor(bucket, nil).Extract(ctx, "absent.zip", "out"); err == nil {
		t.Error("expected error for missing archive")
	}
}
