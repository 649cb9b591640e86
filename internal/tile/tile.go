// Package tile acquires the 2 m terrain of one 10 km grid tile: it works
// out what the workspace already holds, downloads the missing archives,
// extracts them and mosaics the extracted cells into one descriptor per
// product.
//
// A tile advances through phases, re-deriving its state from the
// workspace after every step:
//
//	Unassessed -> NotDownloaded -> NotExtracted -> NotRasterised -> Prepared
//
// Any step may end in Failed.
package tile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hipims/modelbuilder/internal/archive"
	"github.com/hipims/modelbuilder/internal/batch"
	"github.com/hipims/modelbuilder/internal/catalog"
	"github.com/hipims/modelbuilder/internal/downloader"
	"github.com/hipims/modelbuilder/internal/events"
	"github.com/hipims/modelbuilder/internal/metrics"
	"github.com/hipims/modelbuilder/internal/progress"
	"github.com/hipims/modelbuilder/internal/workspace"
	"github.com/hipims/modelbuilder/pkg/rastertools"
)

var (
	// ErrNoMatchingData is returned when the catalog lists no 2 m terrain
	// archives for a tile.
	ErrNoMatchingData = errors.New("tile: catalog has no matching terrain data")

	// ErrStalled is returned when a phase completes but the workspace still
	// does not show its result.
	ErrStalled = errors.New("tile: phase completed without progress")
)

// Phase is the acquisition state of a tile.
type Phase int

const (
	Unassessed Phase = iota
	NotDownloaded
	NotExtracted
	NotRasterised
	Prepared
	Failed
)

func (p Phase) String() string {
	switch p {
	case Unassessed:
		return "unassessed"
	case NotDownloaded:
		return "not_downloaded"
	case NotExtracted:
		return "not_extracted"
	case NotRasterised:
		return "not_rasterised"
	case Prepared:
		return "prepared"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Flags records what the workspace holds for a tile.
type Flags struct {
	Assessed   bool
	Downloaded bool
	Extracted  bool
	Rasterised bool
	Required   bool
	Prepared   bool
}

// Catalog resolves a tile to the archives that should be fetched.
type Catalog interface {
	Downloads(ctx context.Context, tileID string) ([]catalog.Download, error)
}

// Fetcher queues archive downloads.
type Fetcher interface {
	Enqueue(url, key string) *downloader.Request
}

// Extractor unpacks one archive.
type Extractor interface {
	Extract(ctx context.Context, archiveKey, targetPrefix string) (int, error)
}

// Mosaicker builds a mosaic descriptor over a set of rasters.
type Mosaicker interface {
	BuildMosaic(ctx context.Context, target string, sources []string) (*rastertools.MosaicResult, error)
}

// Services are the collaborators a tile needs. Workspace, Catalog, Fetcher,
// Extractor and Mosaicker are required.
type Services struct {
	Workspace *workspace.Workspace
	Catalog   Catalog
	Fetcher   Fetcher
	Extractor Extractor
	Mosaicker Mosaicker

	Events   events.Publisher   // optional
	Progress *progress.Reporter // optional
	Logger   *slog.Logger       // optional
}

// Key names of a tile's artifacts.
func ArchivePattern(id string) string  { return id + "*_D?M_*.zip" }
func ProductDir(id string, p catalog.Product) string {
	return id + "_" + p.Suffix()
}
func MosaicKey(id string, p catalog.Product) string { return ProductDir(id, p) + ".vrt" }

// Tile is one 10 km grid square.
type Tile struct {
	ID string

	svc    *Services
	logger *slog.Logger

	mu      sync.Mutex
	flags   Flags
	phase   Phase
	err     error
	started bool
	done    chan struct{}
}

// New returns an unassessed tile.
func New(id string, svc *Services) *Tile {
	logger := svc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tile{
		ID:     id,
		svc:    svc,
		logger: logger.With("component", "tile", "tile", id),
		done:   make(chan struct{}),
	}
}

// Phase returns the current phase.
func (t *Tile) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Flags returns the last assessed flags.
func (t *Tile) Flags() Flags {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flags
}

// Err returns the failure of a failed tile.
func (t *Tile) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed once the tile is prepared or has failed.
func (t *Tile) Done() <-chan struct{} { return t.done }

// Assess probes the workspace and updates the tile's flags. The three
// probes run concurrently and all must succeed.
func (t *Tile) Assess(ctx context.Context) (Flags, error) {
	ws := t.svc.Workspace
	probes := []func(context.Context) (bool, error){
		func(ctx context.Context) (bool, error) {
			archives, err := ws.Glob(ctx, "", ArchivePattern(t.ID))
			return len(archives) >= 2, err
		},
		func(ctx context.Context) (bool, error) {
			for _, p := range catalog.Products {
				ok, err := ws.DirExists(ctx, ProductDir(t.ID, p))
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil
		},
		func(ctx context.Context) (bool, error) {
			return ws.AllExist(ctx, MosaicKey(t.ID, catalog.DTM), MosaicKey(t.ID, catalog.DSM))
		},
	}

	results := batch.Run(ctx, probes, 0, func(ctx context.Context, probe func(context.Context) (bool, error)) (bool, error) {
		return probe(ctx)
	})
	if err := results.Err(); err != nil {
		return t.Flags(), fmt.Errorf("tile %s: assess: %w", t.ID, err)
	}

	t.mu.Lock()
	t.flags.Assessed = true
	t.flags.Downloaded = results[0].Value
	t.flags.Extracted = results[1].Value
	t.flags.Rasterised = results[2].Value
	if t.phase != Failed && t.phase != Prepared {
		t.phase = nextPhase(t.flags)
	}
	flags := t.flags
	t.mu.Unlock()

	t.logger.Debug("tile assessed", "downloaded", flags.Downloaded, "extracted", flags.Extracted, "rasterised", flags.Rasterised)
	return flags, nil
}

// nextPhase maps flags to the phase that is still outstanding. Rasterised
// descriptors are sufficient on their own, and extracted directories make
// the archives unnecessary.
func nextPhase(f Flags) Phase {
	switch {
	case f.Rasterised:
		return Prepared
	case f.Extracted:
		return NotRasterised
	case f.Downloaded:
		return NotExtracted
	default:
		return NotDownloaded
	}
}

// Require marks the tile as needed and starts preparing it. The prepare
// loop starts at most once no matter how often Require is called.
func (t *Tile) Require(ctx context.Context) {
	t.mu.Lock()
	t.flags.Required = true
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	if t.svc.Progress != nil {
		t.svc.Progress.TileAdded()
	}
	go t.prepare(ctx)
}

// Wait blocks until the tile is prepared or has failed, or ctx ends. Any
// number of goroutines may wait; all see the same outcome.
func (t *Tile) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Prepare is Require followed by Wait.
func (t *Tile) Prepare(ctx context.Context) error {
	t.Require(ctx)
	return t.Wait(ctx)
}

func (t *Tile) prepare(ctx context.Context) {
	var last Phase
	for {
		flags, err := t.Assess(ctx)
		if err != nil {
			t.finish(ctx, err)
			return
		}

		phase := nextPhase(flags)
		if phase == Prepared {
			t.finish(ctx, nil)
			return
		}
		if phase == last {
			t.finish(ctx, fmt.Errorf("%w: %s after %s", ErrStalled, t.ID, phase))
			return
		}
		last = phase
		t.transition(phase)

		switch phase {
		case NotDownloaded:
			err = t.runPhase(ctx, "download", t.download)
		case NotExtracted:
			err = t.runPhase(ctx, "extract", t.extract)
		case NotRasterised:
			err = t.runPhase(ctx, "rasterise", t.rasterise)
		}
		if err != nil {
			t.finish(ctx, err)
			return
		}
	}
}

func (t *Tile) runPhase(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	t.logger.Info("tile phase started", "phase", name)
	t.publish(ctx, events.Tile(t.ID, name, nil))

	err := fn(ctx)
	metrics.TilePhaseDuration.WithLabelValues(name, metrics.Result(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("tile %s: %s: %w", t.ID, name, err)
	}
	t.logger.Info("tile phase finished", "phase", name, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func (t *Tile) transition(p Phase) {
	t.mu.Lock()
	t.phase = p
	t.mu.Unlock()
	metrics.TilePhases.WithLabelValues(p.String()).Inc()
}

func (t *Tile) finish(ctx context.Context, err error) {
	t.mu.Lock()
	if err != nil {
		t.phase = Failed
		t.err = err
	} else {
		t.phase = Prepared
		t.flags.Prepared = true
	}
	phase := t.phase
	t.mu.Unlock()

	metrics.TilePhases.WithLabelValues(phase.String()).Inc()
	if err != nil {
		t.logger.Error("tile failed", "error", err)
		if t.svc.Progress != nil {
			t.svc.Progress.TileFailed()
		}
	} else {
		t.logger.Info("tile prepared")
		metrics.TilesPrepared.Inc()
		if t.svc.Progress != nil {
			t.svc.Progress.TilePrepared()
		}
	}
	t.publish(ctx, events.Tile(t.ID, phase.String(), err))
	close(t.done)
}

func (t *Tile) publish(ctx context.Context, ev events.Event) {
	if t.svc.Events == nil {
		return
	}
	if err := t.svc.Events.Publish(ctx, ev); err != nil {
		t.logger.Warn("event publish failed", "subject", ev.Subject(), "error", err)
	}
}

// download fetches every wanted archive the catalog lists for the tile and
// waits for all of them.
func (t *Tile) download(ctx context.Context) error {
	wanted, err := t.svc.Catalog.Downloads(ctx, t.ID)
	if err != nil {
		return err
	}
	if len(wanted) == 0 {
		return fmt.Errorf("%w: %s", ErrNoMatchingData, t.ID)
	}

	requests := make([]*downloader.Request, len(wanted))
	for i, d := range wanted {
		t.logger.Debug("queueing archive", "guid", d.Entry.GUID, "key", d.Key, "product", d.Product)
		requests[i] = t.svc.Fetcher.Enqueue(d.URL, d.Key)
	}
	return batch.Each(ctx, requests, 0, func(ctx context.Context, r *downloader.Request) error {
		if err := r.Wait(ctx); err != nil {
			return err
		}
		t.logger.Debug("archive stored", "key", r.Key, "bytes", r.Bytes())
		return nil
	}).Err()
}

// extract unpacks every archive of the tile into its product directory.
func (t *Tile) extract(ctx context.Context) error {
	archives, err := t.svc.Workspace.Glob(ctx, "", ArchivePattern(t.ID))
	if err != nil {
		return err
	}
	return batch.Each(ctx, archives, 0, func(ctx context.Context, key string) error {
		_, err := t.svc.Extractor.Extract(ctx, key, archive.TargetDir(key))
		return err
	}).Err()
}

// rasterise mosaics the ASCII grids of each product directory into
// <dir>.vrt.
func (t *Tile) rasterise(ctx context.Context) error {
	dirs, err := t.svc.Workspace.Dirs(ctx, t.ID+"_D?M")
	if err != nil {
		return err
	}
	return batch.Each(ctx, dirs, 0, func(ctx context.Context, dir string) error {
		sources, err := t.svc.Workspace.Glob(ctx, dir, "*.asc")
		if err != nil {
			return err
		}
		_, err = t.svc.Mosaicker.BuildMosaic(ctx, dir+".vrt", sources)
		return err
	}).Err()
}

// Registry hands out one Tile per ID so that each tile is prepared once no
// matter how many domains need it.
type Registry struct {
	svc *Services

	mu    sync.Mutex
	tiles map[string]*Tile
}

// NewRegistry returns an empty registry.
func NewRegistry(svc *Services) *Registry {
	return &Registry{svc: svc, tiles: make(map[string]*Tile)}
}

// Get returns the tile for id, creating it if needed.
func (r *Registry) Get(id string) *Tile {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tiles[id]
	if !ok {
		t = New(id, r.svc)
		r.tiles[id] = t
	}
	return t
}

// Tiles returns every tile handed out so far, ordered by ID.
func (r *Registry) Tiles() []*Tile {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Tile, 0, len(r.tiles))
	for _, t := range r.tiles {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *Tile) int { return strings.Compare(a.ID, b.ID) })
	return out
}
