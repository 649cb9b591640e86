package raster

import (
	"context"
	"encoding/xml"
	"strings"
	"testing"
)

func TestGeoTransformText(t *testing.T) {
	gt := GeoTransform{400000, 2, 0, 110000, 0, -2}
	text, err := gt.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(text) != "400000, 2, 0, 110000, 0, -2" {
		t.Errorf("MarshalText = %q", text)
	}

	var back GeoTransform
	if err := back.UnmarshalText([]byte(" 4.0e+05,  2.0, 0.0, 1.1e+05, 0.0, -2.0")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if back != gt {
		t.Errorf("UnmarshalText = %v, want %v", back, gt)
	}
	if err := back.UnmarshalText([]byte("1, 2, 3")); err == nil {
		t.Error("expected error for short transform")
	}
}

func TestVRTDecodeGDAL(t *testing.T) {
	doc := `<VRTDataset rasterXSize="200" rasterYSize="100">
  <GeoTransform>  0.0000000000000000e+00,  2.0000000000000000e+00,  0.0000000000000000e+00,  2.0000000000000000e+02,  0.0000000000000000e+00, -2.0000000000000000e+00</GeoTransform>
  <VRTRasterBand dataType="Float32" band="1">
    <NoDataValue>-9999</NoDataValue>
    <ComplexSource>
      <SourceFilename relativeToVRT="1">b.asc</SourceFilename>
      <SourceBand>1</SourceBand>
      <SrcRect xOff="0" yOff="0" xSize="100" ySize="100" />
      <DstRect xOff="100" yOff="0" xSize="100" ySize="100" />
    </ComplexSource>
  </VRTRasterBand>
</VRTDataset>`

	var d VRTDataset
	if err := xml.Unmarshal([]byte(doc), &d); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if d.GeoTransform[3] != 200 || d.GeoTransform[5] != -2 {
		t.Errorf("GeoTransform = %v", d.GeoTransform)
	}
	srcs := d.Bands[0].AllSources()
	if len(srcs) != 1 || srcs[0].DstRect.XOff != 100 {
		t.Fatalf("sources = %+v", srcs)
	}
	if got := srcs[0].SourceKey("tiles/SU30_DTM.vrt"); got != "tiles/b.asc" {
		t.Errorf("SourceKey = %q", got)
	}
}

func TestVRTReadComposes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	nd := NoData
	m.Put("a", 2, 2, GeoTransform{0, 1, 0, 2, 0, -1}, []float32{1, 1, 1, 1})
	m.Put("b", 2, 2, GeoTransform{2, 1, 0, 2, 0, -1}, []float32{2, float32(nd), 2, 2})

	desc := &VRTDataset{
		RasterXSize:  4,
		RasterYSize:  2,
		GeoTransform: GeoTransform{0, 1, 0, 2, 0, -1},
		Bands: []VRTRasterBand{{
			DataType:    "Float32",
			Band:        1,
			NoDataValue: NoData,
			Sources: []SimpleSource{
				{SourceFilename: SourceFilename{Path: "a"}, SrcRect: Rect{0, 0, 2, 2}, DstRect: Rect{0, 0, 2, 2}},
				{SourceFilename: SourceFilename{Path: "b"}, SrcRect: Rect{0, 0, 2, 2}, DstRect: Rect{2, 0, 2, 2}, NoData: &nd},
			},
		}},
	}
	m.WriteVRT(ctx, "m.vrt", desc)

	ds, err := m.Open(ctx, "m.vrt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ds.Close(ctx)

	buf := make([]float32, 8)
	if err := ds.ReadWindow(ctx, 0, 0, 4, 2, buf); err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	want := []float32{1, 1, 2, NoData, 1, 1, 2, 2}
	for i := range want {
		if buf[i] != want[i] {
			t.Errorf("buf[%d] = %g, want %g", i, buf[i], want[i])
		}
	}
}

func TestWriteVRTIsGDALShaped(t *testing.T) {
	ctx := context.Background()
	p := NewBucketProvider(openMemBucket(t))
	d := &VRTDataset{
		RasterXSize:  10,
		RasterYSize:  10,
		GeoTransform: GeoTransform{0, 1, 0, 10, 0, -1},
		Bands:        []VRTRasterBand{{DataType: "Float32", Band: 1, NoDataValue: NoData}},
	}
	if err := p.WriteVRT(ctx, "x.vrt", d); err != nil {
		t.Fatalf("WriteVRT: %v", err)
	}
	data, _ := p.Bucket().ReadAll(ctx, "x.vrt")
	for _, want := range []string{`<VRTDataset rasterXSize="10" rasterYSize="10">`, `<GeoTransform>0, 1, 0, 10, 0, -1</GeoTransform>`, `<NoDataValue>-9999</NoDataValue>`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("descriptor missing %q:\n%s", want, data)
		}
	}
}
