package rastertools

import (
	"errors"
	"log/slog"
	"math"
	"path"
	"strings"
	"time"

	"github.com/hipims/modelbuilder/pkg/raster"
)

// Common errors.
var (
	ErrNoSources         = errors.New("rastertools: no readable sources")
	ErrMixedOrientation  = errors.New("rastertools: sources differ in vertical orientation")
	ErrNoOverlap         = errors.New("rastertools: extent does not intersect source")
	ErrValueCount        = errors.New("rastertools: value count does not match grid size")
	ErrInvalidPartition  = errors.New("rastertools: invalid partition request")
	ErrInvalidResolution = errors.New("rastertools: resolution must be positive")
)

// DefaultWindowSize is the edge of the square block copied per read/write.
const DefaultWindowSize = 32

// cellEpsilon keeps floor/ceil stable for coordinates that sit on a cell
// edge but carry float noise.
const cellEpsilon = 1e-9

// Observer is told about every completed operation.
type Observer func(op string, elapsed time.Duration, err error)

// Option configures Tools.
type Option func(*Tools)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Tools) { t.logger = l }
}

// WithObserver registers a hook called after every operation.
func WithObserver(o Observer) Option {
	return func(t *Tools) { t.observe = o }
}

// WithWindowSize sets the copy block edge. Default: 32.
func WithWindowSize(n int) Option {
	return func(t *Tools) {
		if n > 0 {
			t.window = n
		}
	}
}

// WithConcurrency bounds how many sources are opened at once while
// building a mosaic. Default: 16.
func WithConcurrency(n int) Option {
	return func(t *Tools) { t.concurrency = n }
}

// Tools builds mosaics, clips, partitions and synthetic grids over a
// raster store.
type Tools struct {
	store       raster.Store
	logger      *slog.Logger
	observe     Observer
	window      int
	concurrency int
}

// New returns Tools operating on store.
func New(store raster.Store, opts ...Option) *Tools {
	t := &Tools{
		store:       store,
		logger:      slog.Default(),
		window:      DefaultWindowSize,
		concurrency: 16,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "rastertools")
	return t
}

// Store returns the store the tools operate on.
func (t *Tools) Store() raster.Store { return t.store }

func (t *Tools) done(op string, start time.Time, err error) {
	if t.observe != nil {
		t.observe(op, time.Since(start), err)
	}
}

func floorCell(v float64) int { return int(math.Floor(v + cellEpsilon)) }
func ceilCell(v float64) int  { return int(math.Ceil(v - cellEpsilon)) }

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// relativeKey expresses src relative to the directory of target when src
// lies beneath it.
func relativeKey(target, src string) (string, bool) {
	dir := path.Dir(target)
	if dir == "." {
		return src, true
	}
	if rel, ok := strings.CutPrefix(src, dir+"/"); ok {
		return rel, true
	}
	return src, false
}
