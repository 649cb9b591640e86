package rastertools

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hipims/modelbuilder/internal/batch"
	"github.com/hipims/modelbuilder/pkg/geo"
	"github.com/hipims/modelbuilder/pkg/raster"
)

// Part is one row band produced by Divide.
type Part struct {
	Key    string
	Extent geo.Extent
	Result *ClipResult
	Err    error
}

// PartExtents splits bounds into k full-width row bands that share exactly
// overlap rows with their neighbours. The cuts between bands fall on whole
// rows: cut i sits at round(i*(sizeY-overlap)/k) rows above the southern
// edge and band i spans [cut i, cut i+1 + overlap]. Band heights therefore
// differ from the nominal (sizeY + (k-1)*overlap)/k by less than one row and
// sum to exactly sizeY + (k-1)*overlap. Bands are clamped to bounds.
func PartExtents(bounds geo.Extent, sizeY int, res float64, k, overlap int) ([]geo.Extent, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: %d parts", ErrInvalidPartition, k)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: negative overlap %d", ErrInvalidPartition, overlap)
	}
	if res <= 0 {
		return nil, ErrInvalidResolution
	}

	cut := func(i int) int {
		return int(math.Round(float64(i) * float64(sizeY-overlap) / float64(k)))
	}

	parts := make([]geo.Extent, k)
	for i := 0; i < k; i++ {
		lo := clamp(cut(i), 0, sizeY)
		hi := clamp(cut(i+1)+overlap, 0, sizeY)
		parts[i] = geo.NewExtent(
			bounds.MinX(), bounds.MinY()+float64(lo)*res,
			bounds.MaxX(), bounds.MinY()+float64(hi)*res,
		)
	}
	return parts, nil
}

// Divide clips source into one overlapping row band per target, south to
// north. Every clip runs to completion; if any fail, the returned error
// reports the first failure and each Part carries its own outcome.
func (t *Tools) Divide(ctx context.Context, source string, targets []string, format raster.Format, overlap int) (parts []Part, err error) {
	start := time.Now()
	defer func() { t.done("divide", start, err) }()

	src, err := t.store.Open(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("rastertools: divide %s: %w", source, err)
	}
	info := src.Info()
	src.Close(ctx)

	extents, err := PartExtents(info.Bounds(), info.SizeY, info.Transform.Resolution(), len(targets), overlap)
	if err != nil {
		return nil, err
	}

	parts = make([]Part, len(targets))
	for i := range targets {
		parts[i] = Part{Key: targets[i], Extent: extents[i]}
	}

	results := batch.Run(ctx, parts, 0, func(ctx context.Context, p Part) (*ClipResult, error) {
		return t.Clip(ctx, source, p.Key, format, p.Extent)
	})
	for _, o := range results {
		parts[o.Index].Result = o.Value
		parts[o.Index].Err = o.Err
	}

	if err := results.Err(); err != nil {
		return parts, fmt.Errorf("rastertools: divide %s: %w", source, err)
	}
	t.logger.Info("domain divided", "source", source, "parts", len(parts), "overlap", overlap)
	return parts, nil
}
