package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// TileSize is the edge length, in map units, of one acquisition tile.
const TileSize = 10000.0

// Extent is an axis-aligned rectangle in projected map coordinates.
// The zero value is the degenerate extent at the origin.
type Extent struct {
	orb.Bound
}

// NewExtent returns the extent spanned by two corners in any order.
func NewExtent(x1, y1, x2, y2 float64) Extent {
	return Extent{orb.Bound{
		Min: orb.Point{math.Min(x1, x2), math.Min(y1, y2)},
		Max: orb.Point{math.Max(x1, x2), math.Max(y1, y2)},
	}}
}

func (e Extent) MinX() float64 { return e.Min[0] }
func (e Extent) MinY() float64 { return e.Min[1] }
func (e Extent) MaxX() float64 { return e.Max[0] }
func (e Extent) MaxY() float64 { return e.Max[1] }

// Width returns the horizontal span in map units.
func (e Extent) Width() float64 { return e.Max[0] - e.Min[0] }

// Height returns the vertical span in map units.
func (e Extent) Height() float64 { return e.Max[1] - e.Min[1] }

// snapEpsilon absorbs float noise such as 3.6/0.1 = 36.00000000000001.
const snapEpsilon = 1e-9

// SnapToGrid rounds the extent outward so every edge is a multiple of res.
func (e Extent) SnapToGrid(res float64) Extent {
	return NewExtent(
		math.Floor(e.Min[0]/res+snapEpsilon)*res,
		math.Floor(e.Min[1]/res+snapEpsilon)*res,
		math.Ceil(e.Max[0]/res-snapEpsilon)*res,
		math.Ceil(e.Max[1]/res-snapEpsilon)*res,
	)
}

// SizeX returns the number of cells of size res across the extent.
func (e Extent) SizeX(res float64) int {
	return int(math.Round(e.Width() / res))
}

// SizeY returns the number of cells of size res up the extent.
func (e Extent) SizeY(res float64) int {
	return int(math.Round(e.Height() / res))
}

// Overlaps reports whether the two extents share a region of non-zero area.
// Extents that only touch along an edge do not overlap.
func (e Extent) Overlaps(o Extent) bool {
	return e.Min[0] < o.Max[0] && o.Min[0] < e.Max[0] &&
		e.Min[1] < o.Max[1] && o.Min[1] < e.Max[1]
}

// Union returns the smallest extent containing both e and o.
func (e Extent) Union(o Extent) Extent {
	return Extent{e.Bound.Union(o.Bound)}
}

// TileOrigins returns the south-west corner of every size-by-size grid cell
// the extent touches, west to east then south to north within each column.
func (e Extent) TileOrigins(size float64) []orb.Point {
	var origins []orb.Point
	maxE := math.Ceil(e.Max[0]/size) * size
	maxN := math.Ceil(e.Max[1]/size) * size
	for east := math.Floor(e.Min[0]/size) * size; east < maxE; east += size {
		for north := math.Floor(e.Min[1]/size) * size; north < maxN; north += size {
			origins = append(origins, orb.Point{east, north})
		}
	}
	return origins
}

func (e Extent) String() string {
	return fmt.Sprintf("(%g,%g)-(%g,%g)", e.Min[0], e.Min[1], e.Max[0], e.Max[1])
}

// ParsePoint parses an "x,y" coordinate pair as accepted on the command line.
func ParsePoint(s string) (orb.Point, error) {
	var x, y float64
	if _, err := fmt.Sscanf(s, "%g,%g", &x, &y); err != nil {
		return orb.Point{}, fmt.Errorf("geo: invalid coordinate %q: %w", s, err)
	}
	return orb.Point{x, y}, nil
}
