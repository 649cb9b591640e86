package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hipims/modelbuilder/internal/batch"
	"github.com/hipims/modelbuilder/internal/catalog"
	"github.com/hipims/modelbuilder/internal/tile"
	"github.com/hipims/modelbuilder/pkg/geo"
	"github.com/hipims/modelbuilder/pkg/gridref"
	"github.com/hipims/modelbuilder/pkg/rastertools"
)

// DefaultManning is the roughness coefficient of surveyed terrain.
const DefaultManning = 0.02

// Workspace keys written by a world domain.
const (
	MosaicDTM = "DOMAIN_DTM.vrt"
	MosaicDEM = "DOMAIN_DEM.vrt"
	ClipDTM   = "CLIP_DTM"
)

// TileIDs returns the grid references of the tiles covering extent,
// column by column from the south-west.
func TileIDs(extent geo.Extent) ([]string, error) {
	var ids []string
	seen := make(map[string]bool)
	for _, p := range extent.TileOrigins(geo.TileSize) {
		id := gridref.Encode(p[0], p[1], 1)
		if id == "" {
			return nil, fmt.Errorf("%w: tile at %.0f,%.0f", ErrOutsideGrid, p[0], p[1])
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// WorldDomain builds terrain for a real extent from survey tiles: every
// covering tile is acquired, the tiles are mosaicked per product, and the
// terrain mosaic is clipped to the extent.
type WorldDomain struct {
	req    Request
	svc    *Services
	logger *slog.Logger

	mu     sync.Mutex
	layers Layers
}

// NewWorld returns a world domain for req.
func NewWorld(req Request, svc *Services) *WorldDomain {
	req = req.withDefaults()
	return &WorldDomain{
		req:    req,
		svc:    svc,
		logger: svc.logger().With("component", "domain", "domain", req.Name),
	}
}

func (w *WorldDomain) Name() string        { return w.req.Name }
func (w *WorldDomain) Type() Type          { return World }
func (w *WorldDomain) Extent() geo.Extent  { return w.req.Extent }
func (w *WorldDomain) Resolution() float64 { return w.req.Resolution }
func (w *WorldDomain) Manning() float64    { return DefaultManning }

// Layers returns the prepared layers.
func (w *WorldDomain) Layers() Layers {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.layers
}

// Prepare acquires every tile, builds the domain mosaics, clips the terrain
// and, if requested, divides it.
func (w *WorldDomain) Prepare(ctx context.Context) error {
	err := w.prepare(ctx)
	if err != nil {
		w.logger.Error("domain preparation failed", "error", err)
		w.svc.publish(ctx, w.req.Name, "failed", err.Error())
		return err
	}
	w.svc.publish(ctx, w.req.Name, "prepared", w.Layers())
	return nil
}

func (w *WorldDomain) prepare(ctx context.Context) error {
	ids, err := TileIDs(w.req.Extent)
	if err != nil {
		return err
	}
	w.logger.Info("tiles required", "count", len(ids), "tiles", ids)
	w.svc.publish(ctx, w.req.Name, "tiles", ids)

	if err := w.acquire(ctx, ids); err != nil {
		return err
	}
	if err := w.mosaic(ctx, ids); err != nil {
		return err
	}

	clipKey := ClipDTM + w.req.Format.Extension()
	clip, err := w.svc.Tools.Clip(ctx, MosaicDTM, clipKey, w.req.Format, w.req.Extent)
	if err != nil {
		return fmt.Errorf("domain %s: %w", w.req.Name, err)
	}
	w.logger.Info("terrain clipped", "target", clipKey, "size_x", clip.SizeX, "size_y", clip.SizeY)
	w.svc.publish(ctx, w.req.Name, "clip", clipKey)

	layers := Layers{Topography: clipKey}
	if w.req.Parts > 1 {
		layers.Parts, err = w.divide(ctx, clipKey)
		if err != nil {
			return err
		}
	}

	w.mu.Lock()
	w.layers = layers
	w.mu.Unlock()
	return nil
}

// acquire requires every tile and waits for all of them. Every failure is
// logged; the first is returned.
func (w *WorldDomain) acquire(ctx context.Context, ids []string) error {
	tiles := make([]*tile.Tile, len(ids))
	for i, id := range ids {
		tiles[i] = w.svc.Tiles.Get(id)
		tiles[i].Require(ctx)
	}

	results := batch.Each(ctx, tiles, 0, func(ctx context.Context, t *tile.Tile) error {
		return t.Wait(ctx)
	})
	for _, o := range results {
		if o.Err != nil {
			w.logger.Warn("tile unavailable", "tile", ids[o.Index], "error", o.Err)
		}
	}
	if err := results.Err(); err != nil {
		return fmt.Errorf("domain %s: tiles: %w", w.req.Name, batch.FirstError(err))
	}
	return nil
}

// mosaic builds the terrain and surface mosaics of the domain
// concurrently. Both must succeed.
func (w *WorldDomain) mosaic(ctx context.Context, ids []string) error {
	type job struct {
		target  string
		product catalog.Product
	}
	jobs := []job{{MosaicDTM, catalog.DTM}, {MosaicDEM, catalog.DSM}}

	results := batch.Run(ctx, jobs, 0, func(ctx context.Context, j job) (*rastertools.MosaicResult, error) {
		sources := make([]string, len(ids))
		for i, id := range ids {
			sources[i] = tile.MosaicKey(id, j.product)
		}
		return w.svc.Tools.BuildMosaic(ctx, j.target, sources)
	})
	if err := results.Err(); err != nil {
		return fmt.Errorf("domain %s: mosaic: %w", w.req.Name, err)
	}
	w.svc.publish(ctx, w.req.Name, "mosaic", []string{MosaicDTM, MosaicDEM})
	return nil
}

// divide splits the clipped terrain into overlapping row bands.
func (w *WorldDomain) divide(ctx context.Context, clipKey string) ([]string, error) {
	targets := make([]string, w.req.Parts)
	for i := range targets {
		targets[i] = fmt.Sprintf("%s_%d%s", ClipDTM, i, w.req.Format.Extension())
	}
	if _, err := w.svc.Tools.Divide(ctx, clipKey, targets, w.req.Format, w.req.Overlap); err != nil {
		return nil, fmt.Errorf("domain %s: %w", w.req.Name, err)
	}
	w.logger.Info("terrain divided", "parts", len(targets), "overlap", w.req.Overlap)
	w.svc.publish(ctx, w.req.Name, "divide", targets)
	return targets, nil
}

var _ Domain = (*WorldDomain)(nil)

