// Package testutils provides shared test infrastructure: a fake survey
// catalog with archive downloads, archive and grid builders, and (behind
// the integration build tag) a MinIO workspace.
package testutils

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// ASCIIGrid returns an ASCII grid of cols by rows cells with its lower-left
// corner at (xll, yll) where every cell holds value.
func ASCIIGrid(cols, rows int, xll, yll, cellSize float64, value float32) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "ncols %d\nnrows %d\n", cols, rows)
	fmt.Fprintf(&buf, "xllcorner %s\nyllcorner %s\n", formatFloat(xll), formatFloat(yll))
	fmt.Fprintf(&buf, "cellsize %s\nnodata_value -9999\n", formatFloat(cellSize))
	v := strconv.FormatFloat(float64(value), 'g', -1, 32)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if c > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(v)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// ZipFile is one entry of an archive built by Zip.
type ZipFile struct {
	Name string
	Data []byte
}

// Zip builds a zip archive holding files in order.
func Zip(t *testing.T, files ...ZipFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.Name)
		if err != nil {
			t.Fatalf("zip %s: %v", f.Name, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			t.Fatalf("zip %s: %v", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip: %v", err)
	}
	return buf.Bytes()
}

// Dataset is one catalog entry served by a SurveyServer.
type Dataset struct {
	FileName string
	GUID     string
	Archive  []byte // served at /download/<GUID>; nil answers 404
}

// SurveyServer is a fake survey portal: /product/<tile> lists datasets as
// JSON and /download/<guid> serves their archives.
type SurveyServer struct {
	*httptest.Server

	mu       sync.Mutex
	tiles    map[string][]Dataset
	catalogs atomic.Int64
	fetches  atomic.Int64
}

// StartSurveyServer starts a survey server with no tiles.
func StartSurveyServer(t *testing.T) *SurveyServer {
	t.Helper()
	s := &SurveyServer{tiles: make(map[string][]Dataset)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// AddTile registers the datasets listed for a tile.
func (s *SurveyServer) AddTile(id string, datasets ...Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiles[id] = append(s.tiles[id], datasets...)
}

// CatalogURL is the product endpoint to configure a catalog client with.
func (s *SurveyServer) CatalogURL() string { return s.URL + "/product" }

// DownloadURL is the download endpoint to configure a catalog client with.
func (s *SurveyServer) DownloadURL() string { return s.URL + "/download" }

// CatalogRequests returns how many catalog queries were served.
func (s *SurveyServer) CatalogRequests() int64 { return s.catalogs.Load() }

// Downloads returns how many archive downloads were requested.
func (s *SurveyServer) Downloads() int64 { return s.fetches.Load() }

func (s *SurveyServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case strings.HasPrefix(r.URL.Path, "/product/"):
		s.catalogs.Add(1)
		id := strings.TrimPrefix(r.URL.Path, "/product/")
		type entry struct {
			FileName string `json:"fileName"`
			GUID     string `json:"guid"`
		}
		entries := []entry{}
		for _, d := range s.tiles[id] {
			entries = append(entries, entry{FileName: d.FileName, GUID: d.GUID})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)

	case strings.HasPrefix(r.URL.Path, "/download/"):
		s.fetches.Add(1)
		guid := strings.TrimPrefix(r.URL.Path, "/download/")
		for _, datasets := range s.tiles {
			for _, d := range datasets {
				if d.GUID == guid && d.Archive != nil {
					w.Header().Set("Content-Type", "application/zip")
					w.Header().Set("Content-Length", strconv.Itoa(len(d.Archive)))
					w.Write(d.Archive)
					return
				}
			}
		}
		http.NotFound(w, r)

	default:
		http.NotFound(w, r)
	}
}

// SurveyTile registers a complete tile on s: one DTM and one DSM dataset,
// each archive holding a single cols by rows ASCII grid at 2 m whose
// lower-left corner is (xll, yll).
func SurveyTile(t *testing.T, s *SurveyServer, id string, xll, yll float64, cols, rows int) {
	t.Helper()
	lower := strings.ToLower(id)
	grid := func(v float32) []byte { return ASCIIGrid(cols, rows, xll, yll, 2, v) }
	s.AddTile(id,
		Dataset{
			FileName: "LIDAR-DTM-2M-" + id + ".zip",
			GUID:     id + "-dtm",
			Archive:  Zip(t, ZipFile{Name: lower + "_DTM_2m.asc", Data: grid(10)}),
		},
		Dataset{
			FileName: "LIDAR-DSM-2M-" + id + ".zip",
			GUID:     id + "-dsm",
			Archive:  Zip(t, ZipFile{Name: lower + "_DSM_2m.asc", Data: grid(12)}),
		},
	)
}
