// Package catalog queries the survey product catalog for the LiDAR
// archives covering a 10 km grid square.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hipims/modelbuilder/internal/cache"
	mbhttp "github.com/hipims/modelbuilder/internal/http"
	"github.com/hipims/modelbuilder/internal/metrics"
)

// Defaults for the Environment Agency survey catalog.
const (
	DefaultURL         = "http://www.geostore.com/environment-agency/rest/product/EA_SUPPLIED_OS_10KM/"
	DefaultDownloadURL = "http://www.geostore.com/environment-agency/rest/product/download/"
	DefaultName        = "Survey"

	// Source tags archive keys fetched from this catalog.
	Source = "EA"
)

// Product is a surface model kind.
type Product int

const (
	DTM Product = iota // terrain, ground only
	DSM                // surface, including buildings and vegetation
)

// String returns the product name used in catalog file names.
func (p Product) String() string {
	if p == DSM {
		return "DSM"
	}
	return "DTM"
}

// Suffix returns the tag used in workspace keys. Surface models are
// stored under DEM.
func (p Product) Suffix() string {
	if p == DSM {
		return "DEM"
	}
	return "DTM"
}

// Products lists every product a tile needs.
var Products = []Product{DTM, DSM}

var (
	dtmPattern     = regexp.MustCompile(`LIDAR-DTM-2M-[A-Z]{2}[0-9]{2}([a-z]{2})?\.zip`)
	dsmPattern     = regexp.MustCompile(`LIDAR-DSM-2M-[A-Z]{2}[0-9]{2}([a-z]{2})?\.zip`)
	subtilePattern = regexp.MustCompile(`[A-Z]{2}[0-9]{2}([a-z]{2})?`)
)

// Classify reports which product a catalog file name provides. Files that
// are neither 2 m terrain nor 2 m surface archives are not wanted.
func Classify(fileName string) (Product, bool) {
	switch {
	case dtmPattern.MatchString(fileName):
		return DTM, true
	case dsmPattern.MatchString(fileName):
		return DSM, true
	}
	return 0, false
}

// Subtile returns the grid square named in a catalog file name, including
// its optional quadrant letters ("SU12" or "SU12ne").
func Subtile(fileName string) string {
	base := fileName
	if i := strings.LastIndex(base, "-"); i >= 0 {
		base = base[i+1:]
	}
	return subtilePattern.FindString(base)
}

// Entry is one dataset in a catalog response.
type Entry struct {
	FileName string `json:"fileName"`
	GUID     string `json:"guid"`
}

// Download is a wanted catalog entry resolved to a fetch.
type Download struct {
	Entry   Entry
	Product Product
	URL     string
	Key     string // workspace key, e.g. SU12ne_DTM_EA.zip
}

// Options configures the catalog client.
type Options struct {
	URL         string // product endpoint; the tile ID is appended
	DownloadURL string // download endpoint; the GUID is appended
	Name        string // catalogName query parameter

	// Cache stores raw catalog responses. Nil disables caching.
	Cache    cache.Cache
	CacheTTL time.Duration

	HTTP   *mbhttp.Client
	Logger *slog.Logger
}

// Client lists the archives available for a tile.
type Client struct {
	opts   Options
	http   *mbhttp.Client
	logger *slog.Logger
}

// New returns a catalog client. Unset options take the package defaults.
func New(opts Options) *Client {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.DownloadURL == "" {
		opts.DownloadURL = DefaultDownloadURL
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.HTTP == nil {
		opts.HTTP = mbhttp.NewClient(mbhttp.DefaultOptions())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{opts: opts, http: opts.HTTP, logger: opts.Logger.With("component", "catalog")}
}

// EntriesURL returns the catalog query URL for tileID.
func (c *Client) EntriesURL(tileID string) string {
	return strings.TrimSuffix(c.opts.URL, "/") + "/" + url.PathEscape(tileID) +
		"?catalogName=" + url.QueryEscape(c.opts.Name)
}

// DownloadURL returns the archive URL for a dataset GUID.
func (c *Client) DownloadURL(guid string) string {
	return strings.TrimSuffix(c.opts.DownloadURL, "/") + "/" + url.PathEscape(guid)
}

// Entries returns every dataset the catalog lists for tileID.
func (c *Client) Entries(ctx context.Context, tileID string) ([]Entry, error) {
	cacheKey := "catalog:" + c.opts.Name + ":" + tileID

	if c.opts.Cache != nil {
		raw, err := c.opts.Cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			var entries []Entry
			if err := json.Unmarshal(raw, &entries); err == nil {
				metrics.CatalogLookups.WithLabelValues("cache").Inc()
				return entries, nil
			}
			c.logger.Warn("discarding unreadable cached catalog response", "tile", tileID)
		case !errors.Is(err, cache.ErrMiss):
			c.logger.Warn("catalog cache unavailable", "tile", tileID, "error", err)
		}
	}

	var entries []Entry
	if err := c.http.GetJSON(ctx, c.EntriesURL(tileID), &entries); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", tileID, err)
	}
	metrics.CatalogLookups.WithLabelValues("remote").Inc()
	c.logger.Debug("catalog queried", "tile", tileID, "datasets", len(entries))

	if c.opts.Cache != nil {
		if raw, err := json.Marshal(entries); err == nil {
			if err := c.opts.Cache.Set(ctx, cacheKey, raw, c.opts.CacheTTL); err != nil {
				c.logger.Warn("catalog cache write failed", "tile", tileID, "error", err)
			}
		}
	}
	return entries, nil
}

// Downloads returns the wanted archives for tileID, in catalog order. An
// empty result means the catalog has no 2 m surface data for the tile.
func (c *Client) Downloads(ctx context.Context, tileID string) ([]Download, error) {
	entries, err := c.Entries(ctx, tileID)
	if err != nil {
		return nil, err
	}

	var out []Download
	for _, e := range entries {
		product, ok := Classify(e.FileName)
		if !ok {
			continue
		}
		sub := Subtile(e.FileName)
		out = append(out, Download{
			Entry:   e,
			Product: product,
			URL:     c.DownloadURL(e.GUID),
			Key:     ArchiveKey(sub, product),
		})
		c.logger.Debug("dataset provides required data", "tile", tileID, "guid", e.GUID, "product", product)
	}
	return out, nil
}

// ArchiveKey returns the workspace key an archive for subtile and product
// is stored under.
func ArchiveKey(subtile string, p Product) string {
	return subtile + "_" + p.Suffix() + "_" + Source + ".zip"
}
