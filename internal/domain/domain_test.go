package domain

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"gocloud.dev/blob/memblob"

	"github.com/hipims/modelbuilder/internal/archive"
	"github.com/hipims/modelbuilder/internal/catalog"
	"github.com/hipims/modelbuilder/internal/downloader"
	"github.com/hipims/modelbuilder/internal/events"
	"github.com/hipims/modelbuilder/internal/testcases"
	"github.com/hipims/modelbuilder/internal/testutils"
	"github.com/hipims/modelbuilder/internal/tile"
	"github.com/hipims/modelbuilder/internal/workspace"
	"github.com/hipims/modelbuilder/pkg/geo"
	"github.com/hipims/modelbuilder/pkg/raster"
	"github.com/hipims/modelbuilder/pkg/rastertools"
)

type env struct {
	ws     *workspace.Workspace
	survey *testutils.SurveyServer
	events *events.Recorder
	svc    *Services
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ws := workspace.New(memblob.OpenBucket(nil))
	t.Cleanup(func() { ws.Close() })
	survey := testutils.StartSurveyServer(t)
	queue := downloader.New(ctx, ws.Bucket(), downloader.Options{})
	t.Cleanup(queue.Close)

	tools := rastertools.New(ws.Rasters())
	rec := &events.Recorder{}
	tiles := tile.NewRegistry(&tile.Services{
		Workspace: ws,
		Catalog:   catalog.New(catalog.Options{URL: survey.CatalogURL(), DownloadURL: survey.DownloadURL()}),
		Fetcher:   queue,
		Extractor: archive.NewExtractor(ws.Bucket(), nil),
		Mosaicker: tools,
	})
	return &env{
		ws:     ws,
		survey: survey,
		events: rec,
		svc:    &Services{Workspace: ws, Tools: tools, Tiles: tiles, Events: rec},
	}
}

func timeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestParseType(t *testing.T) {
	for in, want := range map[string]Type{"world": World, "Laboratory": Laboratory, " imaginary ": Imaginary} {
		got, err := ParseType(in)
		if err != nil || got != want {
			t.Errorf("ParseType(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseType("fluvial"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestTileIDs(t *testing.T) {
	ids, err := TileIDs(geo.NewExtent(425000, 95000, 445000, 104000))
	if err != nil {
		t.Fatalf("TileIDs: %v", err)
	}
	want := []string{"SZ29", "SU20", "SZ39", "SU30", "SZ49", "SU40"}
	if !slices.Equal(ids, want) {
		t.Errorf("TileIDs = %v, want %v", ids, want)
	}

	if _, err := TileIDs(geo.NewExtent(-5000, 0, 5000, 5000)); !errors.Is(err, ErrOutsideGrid) {
		t.Errorf("expected ErrOutsideGrid, got %v", err)
	}
}

func TestWorldPrepare(t *testing.T) {
	e := newEnv(t)
	testutils.SurveyTile(t, e.survey, "SU30", 430000, 100000, 10, 10)
	testutils.SurveyTile(t, e.survey, "SU40", 440000, 100000, 10, 10)

	d, err := New(World, Request{
		Name:    "test",
		Extent:  geo.NewExtent(430010, 100002, 440010, 100018),
		Parts:   2,
		Overlap: 1,
	}, e.svc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := timeout(t)
	if err := d.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	layers := d.Layers()
	if layers.Topography != "CLIP_DTM.flt" {
		t.Errorf("topography = %q", layers.Topography)
	}
	if !slices.Equal(layers.Parts, []string{"CLIP_DTM_0.flt", "CLIP_DTM_1.flt"}) {
		t.Errorf("parts = %v", layers.Parts)
	}
	for _, key := range []string{MosaicDTM, MosaicDEM, "CLIP_DTM.hdr", "CLIP_DTM_1.flt"} {
		if ok, _ := e.ws.Exists(ctx, key); !ok {
			t.Errorf("%s missing", key)
		}
	}

	ds, err := e.ws.Rasters().Open(ctx, "CLIP_DTM.flt")
	if err != nil {
		t.Fatalf("open clip: %v", err)
	}
	defer ds.Close(ctx)
	info := ds.Info()
	if info.SizeX != 5000 || info.SizeY != 8 {
		t.Errorf("clip size = %dx%d, want 5000x8", info.SizeX, info.SizeY)
	}
	row := make([]float32, info.SizeX)
	if err := ds.ReadWindow(ctx, 0, 0, info.SizeX, 1, row); err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	if row[0] != 10 || row[2000] != raster.NoData || row[info.SizeX-1] != 10 {
		t.Errorf("clip row = %g ... %g ... %g", row[0], row[2000], row[info.SizeX-1])
	}

	want := []string{"tiles", "mosaic", "clip", "divide", "prepared"}
	if got := e.events.Stages("test"); !slices.Equal(got, want) {
		t.Errorf("domain stages = %v, want %v", got, want)
	}
	sources, err := DataSources(layers, raster.EHdr)
	if err != nil || sources[0].CopyFrom != "CLIP_DTM.flt" {
		t.Errorf("DataSources = %+v, %v", sources, err)
	}
}

func TestWorldMissingTile(t *testing.T) {
	e := newEnv(t)
	testutils.SurveyTile(t, e.survey, "SU30", 430000, 100000, 10, 10)

	d := NewWorld(Request{Name: "gap", Extent: geo.NewExtent(430010, 100002, 440010, 100018)}, e.svc)
	err := d.Prepare(timeout(t))
	if !errors.Is(err, tile.ErrNoMatchingData) {
		t.Fatalf("expected ErrNoMatchingData, got %v", err)
	}
	if ok, _ := e.ws.Exists(context.Background(), MosaicDTM); ok {
		t.Error("mosaic written despite missing tile")
	}
	if got := e.events.Stages("gap"); got[len(got)-1] != "failed" {
		t.Errorf("domain stages = %v", got)
	}
}

func TestWorldNeedsRegistry(t *testing.T) {
	if _, err := New(World, Request{Name: "x"}, &Services{}); err == nil {
		t.Error("expected error without tile registry")
	}
	if _, err := New(Type("tidal"), Request{}, &Services{}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestLabPrepare(t *testing.T) {
	e := newEnv(t)
	d, err := New(Laboratory, Request{
		Name:       "lake at rest",
		Extent:     geo.NewExtent(-500, -500, 500, 500),
		Resolution: 100,
	}, e.svc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := timeout(t)
	if err := d.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	layers := d.Layers()
	if layers.Topography != "TEST_DOMAIN_DTM.flt" || layers.FSL != "TEST_DOMAIN_FSL.flt" {
		t.Errorf("layers = %+v", layers)
	}
	if layers.Depth != "" || layers.VelocityX != "" {
		t.Errorf("unexpected layers = %+v", layers)
	}

	ds, err := e.ws.Rasters().Open(ctx, layers.Topography)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ds.Close(ctx)
	buf := make([]float32, 1)
	if err := ds.ReadWindow(ctx, 4, 4, 1, 1, buf); err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	if buf[0] != 93.75 {
		t.Errorf("island bed = %g, want 93.75", buf[0])
	}

	sources, err := DataSources(layers, raster.EHdr)
	if err != nil {
		t.Fatalf("DataSources: %v", err)
	}
	got := make([]string, len(sources))
	for i, s := range sources {
		got[i] = s.Kind + ":" + s.Value + ":" + s.Source
	}
	want := []string{
		"raster:structure,dem:MODEL_TOPOGRAPHY.flt",
		"raster:fsl:MODEL_INITIAL_FSL.flt",
		"constant:velocityX:0.0",
		"constant:velocityY:0.0",
	}
	if !slices.Equal(got, want) {
		t.Errorf("DataSources = %v, want %v", got, want)
	}
}

func TestLabUsesCaseExtent(t *testing.T) {
	e := newEnv(t)
	d, err := New(Imaginary, Request{Name: testcases.DamBreakObstacleName, Resolution: 0.5}, e.svc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.Type() != Imaginary || d.Manning() != 0.01 {
		t.Errorf("type %q manning %g", d.Type(), d.Manning())
	}
	if err := d.Prepare(timeout(t)); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if d.Layers().Depth == "" {
		t.Error("obstacle case should write a depth layer")
	}
}

func TestLabUnknownCase(t *testing.T) {
	if _, err := New(Laboratory, Request{Name: "tsunami"}, &Services{}); !errors.Is(err, testcases.ErrUnknownCase) {
		t.Errorf("expected ErrUnknownCase, got %v", err)
	}
}

func TestDataSources(t *testing.T) {
	if _, err := DataSources(Layers{}, raster.EHdr); !errors.Is(err, ErrNoTopography) {
		t.Errorf("expected ErrNoTopography, got %v", err)
	}

	sources, err := DataSources(Layers{Topography: "t.flt", Depth: "d.flt", FSL: "f.flt", VelocityY: "v.flt"}, raster.EHdr)
	if err != nil {
		t.Fatalf("DataSources: %v", err)
	}
	if sources[1].Value != "depth" || sources[1].CopyFrom != "d.flt" {
		t.Errorf("depth should win over fsl: %+v", sources[1])
	}
	if sources[2].Kind != "constant" || sources[3].Source != "MODEL_INITIAL_VEL_Y.flt" {
		t.Errorf("velocities = %+v, %+v", sources[2], sources[3])
	}
}
