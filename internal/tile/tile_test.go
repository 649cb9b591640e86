package tile

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"gocloud.dev/blob/memblob"

	"github.com/hipims/modelbuilder/internal/archive"
	"github.com/hipims/modelbuilder/internal/catalog"
	"github.com/hipims/modelbuilder/internal/downloader"
	"github.com/hipims/modelbuilder/internal/events"
	"github.com/hipims/modelbuilder/internal/testutils"
	"github.com/hipims/modelbuilder/internal/workspace"
	"github.com/hipims/modelbuilder/pkg/rastertools"
)

type fixture struct {
	ws     *workspace.Workspace
	survey *testutils.SurveyServer
	events *events.Recorder
	svc    *Services
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ws := workspace.New(memblob.OpenBucket(nil))
	t.Cleanup(func() { ws.Close() })

	survey := testutils.StartSurveyServer(t)
	queue := downloader.New(ctx, ws.Bucket(), downloader.Options{})
	t.Cleanup(queue.Close)

	rec := &events.Recorder{}
	return &fixture{
		ws:     ws,
		survey: survey,
		events: rec,
		svc: &Services{
			Workspace: ws,
			Catalog:   catalog.New(catalog.Options{URL: survey.CatalogURL(), DownloadURL: survey.DownloadURL()}),
			Fetcher:   queue,
			Extractor: archive.NewExtractor(ws.Bucket(), nil),
			Mosaicker: rastertools.New(ws.Rasters()),
			Events:    rec,
		},
	}
}

func (f *fixture) put(t *testing.T, key string, data []byte) {
	t.Helper()
	if err := f.ws.Bucket().WriteAll(context.Background(), key, data, nil); err != nil {
		t.Fatalf("write %s: %v", key, err)
	}
}

func prepare(t *testing.T, tl *Tile) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return tl.Prepare(ctx)
}

func TestPrepareAcquiresTile(t *testing.T) {
	f := newFixture(t)
	testutils.SurveyTile(t, f.survey, "SU12", 410000, 120000, 5, 5)

	tl := New("SU12", f.svc)
	if err := prepare(t, tl); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if tl.Phase() != Prepared || !tl.Flags().Prepared {
		t.Errorf("phase = %v, flags = %+v", tl.Phase(), tl.Flags())
	}
	ctx := context.Background()
	for _, key := range []string{"SU12_DTM_EA.zip", "SU12_DEM_EA.zip", "SU12_DTM/su12_DTM_2m.asc", "SU12_DTM.vrt", "SU12_DEM.vrt"} {
		if ok, _ := f.ws.Exists(ctx, key); !ok {
			t.Errorf("%s missing", key)
		}
	}
	if got := f.survey.Downloads(); got != 2 {
		t.Errorf("downloads = %d, want 2", got)
	}

	want := []string{"download", "extract", "rasterise", "prepared"}
	if got := f.events.Stages("SU12"); !slices.Equal(got, want) {
		t.Errorf("stages = %v, want %v", got, want)
	}

	desc, err := f.ws.Rasters().ReadVRT(ctx, "SU12_DEM.vrt")
	if err != nil {
		t.Fatalf("ReadVRT: %v", err)
	}
	if desc.RasterXSize != 5 || desc.RasterYSize != 5 {
		t.Errorf("mosaic size = %dx%d, want 5x5", desc.RasterXSize, desc.RasterYSize)
	}
}

func TestPrepareResumesFromWorkspace(t *testing.T) {
	grid := testutils.ASCIIGrid(3, 3, 0, 0, 2, 1)

	tests := []struct {
		name  string
		files map[string][]byte
	}{
		{
			name:  "rasterised",
			files: map[string][]byte{"SU12_DTM.vrt": []byte("<VRTDataset/>"), "SU12_DEM.vrt": []byte("<VRTDataset/>")},
		},
		{
			name:  "extracted",
			files: map[string][]byte{"SU12_DTM/a.asc": grid, "SU12_DEM/a.asc": grid},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			for k, v := range tt.files {
				f.put(t, k, v)
			}

			if err := prepare(t, New("SU12", f.svc)); err != nil {
				t.Fatalf("Prepare: %v", err)
			}
			if n := f.survey.CatalogRequests(); n != 0 {
				t.Errorf("catalog queried %d times", n)
			}
			if ok, _ := f.ws.AllExist(context.Background(), "SU12_DTM.vrt", "SU12_DEM.vrt"); !ok {
				t.Error("mosaics missing")
			}
		})
	}
}

func TestPrepareExtractsExistingArchives(t *testing.T) {
	f := newFixture(t)
	grid := testutils.ASCIIGrid(2, 2, 0, 0, 2, 1)
	f.put(t, "SU12ne_DTM_EA.zip", testutils.Zip(t, testutils.ZipFile{Name: "su1525.asc", Data: grid}))
	f.put(t, "SU12ne_DEM_EA.zip", testutils.Zip(t, testutils.ZipFile{Name: "su1525.asc", Data: grid}))

	if err := prepare(t, New("SU12", f.svc)); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if n := f.survey.CatalogRequests(); n != 0 {
		t.Errorf("catalog queried %d times", n)
	}
	if ok, _ := f.ws.Exists(context.Background(), "SU12_DEM/su1525.asc"); !ok {
		t.Error("archive not extracted into SU12_DEM")
	}
}

func TestPrepareNoMatchingData(t *testing.T) {
	f := newFixture(t)
	f.survey.AddTile("SU12", testutils.Dataset{FileName: "LIDAR-DTM-1M-SU12.zip", GUID: "g1"})

	tl := New("SU12", f.svc)
	err := prepare(t, tl)
	if !errors.Is(err, ErrNoMatchingData) {
		t.Fatalf("expected ErrNoMatchingData, got %v", err)
	}
	if tl.Phase() != Failed {
		t.Errorf("phase = %v, want failed", tl.Phase())
	}
	if got := f.events.Stages("SU12"); got[len(got)-1] != "failed" {
		t.Errorf("last stage = %v", got)
	}
}

func TestPrepareDownloadFailure(t *testing.T) {
	f := newFixture(t)
	testutils.SurveyTile(t, f.survey, "SU12", 0, 0, 2, 2)
	f.survey.AddTile("SU12", testutils.Dataset{FileName: "LIDAR-DTM-2M-SU12ne.zip", GUID: "gone"})

	err := prepare(t, New("SU12", f.svc))
	if err == nil {
		t.Fatal("expected error")
	}
	// Siblings still complete before the tile fails.
	if got := f.survey.Downloads(); got != 3 {
		t.Errorf("downloads = %d, want 3", got)
	}
	if ok, _ := f.ws.Exists(context.Background(), "SU12ne_DTM_EA.zip"); ok {
		t.Error("failed archive left in workspace")
	}
}

func TestPrepareStalls(t *testing.T) {
	f := newFixture(t)
	// A lone terrain archive never satisfies the archive pair probe.
	f.survey.AddTile("SU12", testutils.Dataset{
		FileName: "LIDAR-DTM-2M-SU12.zip",
		GUID:     "dtm",
		Archive:  testutils.Zip(t, testutils.ZipFile{Name: "a.asc", Data: testutils.ASCIIGrid(2, 2, 0, 0, 2, 1)}),
	})

	err := prepare(t, New("SU12", f.svc))
	if !errors.Is(err, ErrStalled) {
		t.Fatalf("expected ErrStalled, got %v", err)
	}
}

func TestMultipleWaiters(t *testing.T) {
	f := newFixture(t)
	testutils.SurveyTile(t, f.survey, "SU12", 0, 0, 2, 2)
	reg := NewRegistry(f.svc)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = prepare(t, reg.Get("SU12"))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("waiter %d: %v", i, err)
		}
	}
	if n := f.survey.CatalogRequests(); n != 1 {
		t.Errorf("catalog queried %d times, want 1", n)
	}
	if len(reg.Tiles()) != 1 {
		t.Errorf("registry holds %d tiles", len(reg.Tiles()))
	}
}

func TestRegistryTiles(t *testing.T) {
	reg := NewRegistry(&Services{})
	for _, id := range []string{"SU40", "SU30", "SU40", "ST99"} {
		reg.Get(id)
	}

	var ids []string
	for _, tl := range reg.Tiles() {
		ids = append(ids, tl.ID)
	}
	if want := []string{"ST99", "SU30", "SU40"}; !slices.Equal(ids, want) {
		t.Errorf("Tiles = %v, want %v", ids, want)
	}
	if reg.Get("SU30") != reg.Get("SU30") {
		t.Error("Get returned different tiles for one ID")
	}
}

func TestWaitRespectsContext(t *testing.T) {
	f := newFixture(t)
	tl := New("SU12", f.svc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tl.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait = %v, want context.Canceled", err)
	}
}

func TestAssess(t *testing.T) {
	tests := []struct {
		name  string
		keys  []string
		want  Flags
		phase Phase
	}{
		{
			name:  "empty",
			want:  Flags{Assessed: true},
			phase: NotDownloaded,
		},
		{
			name:  "one archive",
			keys:  []string{"SU12_DTM_EA.zip"},
			want:  Flags{Assessed: true},
			phase: NotDownloaded,
		},
		{
			name:  "quadrant archives",
			keys:  []string{"SU12ne_DTM_EA.zip", "SU12ne_DEM_EA.zip"},
			want:  Flags{Assessed: true, Downloaded: true},
			phase: NotExtracted,
		},
		{
			name:  "other tile ignored",
			keys:  []string{"SU13_DTM_EA.zip", "SU13_DEM_EA.zip", "SU13_DTM.vrt", "SU13_DEM.vrt"},
			want:  Flags{Assessed: true},
			phase: NotDownloaded,
		},
		{
			name:  "one directory",
			keys:  []string{"SU12_DTM/a.asc"},
			want:  Flags{Assessed: true},
			phase: NotDownloaded,
		},
		{
			name:  "extracted",
			keys:  []string{"SU12_DTM/a.asc", "SU12_DEM/a.asc"},
			want:  Flags{Assessed: true, Extracted: true},
			phase: NotRasterised,
		},
		{
			name:  "rasterised",
			keys:  []string{"SU12_DTM.vrt", "SU12_DEM.vrt"},
			want:  Flags{Assessed: true, Rasterised: true},
			phase: Prepared,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			for _, k := range tt.keys {
				f.put(t, k, []byte("x"))
			}
			tl := New("SU12", f.svc)
			got, err := tl.Assess(context.Background())
			if err != nil {
				t.Fatalf("Assess: %v", err)
			}
			if got != tt.want {
				t.Errorf("flags = %+v, want %+v", got, tt.want)
			}
			if tl.Phase() != tt.phase {
				t.Errorf("phase = %v, want %v", tl.Phase(), tt.phase)
			}
		})
	}
}

func TestPhaseString(t *testing.T) {
	for p, want := range map[Phase]string{
		Unassessed:    "unassessed",
		NotDownloaded: "not_downloaded",
		Prepared:      "prepared",
		Failed:        "failed",
		Phase(42):     "phase(42)",
	} {
		if got := p.String(); got != want {
			t.Errorf("%d: got %q, want %q", int(p), got, want)
		}
	}
}
