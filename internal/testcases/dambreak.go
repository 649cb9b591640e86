package testcases

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/hipims/modelbuilder/pkg/geo"
)

const (
	DamBreakEmergingBedName = "DAM BREAK EMERGING BED"
	DamBreakObstacleName    = "DAM BREAK AGAINST OBSTACLE"
)

// DamBreakEmergingBed releases a dam onto a sloping dry bed, for which the
// front location is known analytically. Xing et al. (2010), Advances in
// Water Resources 33:1476-1493.
type DamBreakEmergingBed struct {
	base
	H0          float64
	WallHeight  float64
	SlopeAngle  float64 // radians
	DamLevel    float64 // depth behind the dam
	DamPosition float64 // along X
}

func NewDamBreakEmergingBed(c Constants) *DamBreakEmergingBed {
	return &DamBreakEmergingBed{
		H0:          1,
		WallHeight:  c.Get("w", 2),
		SlopeAngle:  c.Get("a", math.Pi/60),
		DamLevel:    c.Get("n", 1),
		DamPosition: c.Get("p", 0),
	}
}

func (d *DamBreakEmergingBed) Name() string { return DamBreakEmergingBedName }

func (d *DamBreakEmergingBed) Description() string {
	return "2D dam break over an emerging bed with a known front location.\n" +
		"Xing et al. (2010), Advances in Water Resources 33:1476-1493."
}

// bed walls in the outermost cells and slopes up along X elsewhere.
func (d *DamBreakEmergingBed) bed(g Grid, x, y float64) float64 {
	edge := g.Resolution * 1.1
	if math.Abs(x-g.Extent.MinX()) <= edge || math.Abs(x-g.Extent.MaxX()) <= edge ||
		math.Abs(y-g.Extent.MinY()) <= edge || math.Abs(y-g.Extent.MaxY()) <= edge {
		return d.WallHeight
	}
	return x * math.Tan(d.SlopeAngle)
}

func (d *DamBreakEmergingBed) depth(g Grid, x, y float64) float64 {
	bed := d.bed(g, x, y)
	if x <= d.DamPosition && d.DamLevel > bed {
		return d.DamLevel - bed
	}
	return 0
}

// FrontX returns the analytic wet front position at time t.
func (d *DamBreakEmergingBed) FrontX(t float64) float64 {
	return 2*t*math.Sqrt(Gravity*d.H0*math.Cos(d.SlopeAngle)) - 0.5*Gravity*t*t*math.Tan(d.SlopeAngle)
}

func (d *DamBreakEmergingBed) Topography(g Grid) []float32 {
	return g.Fill(func(x, y float64) float64 { return d.bed(g, x, y) })
}

func (d *DamBreakEmergingBed) InitialDepth(g Grid) []float32 {
	return g.Fill(func(x, y float64) float64 { return d.depth(g, x, y) })
}

// DamBreakObstacle is a flume experiment where a dam break hits an
// isolated rotated block. Soares-Frazão and Zech (2007), Journal of
// Hydraulic Research 45:sup1, 27-36.
type DamBreakObstacle struct {
	base
	ManningN      float64
	WallWidth     float64
	WallExtrusion float64
	FlumeWidth    float64
	FlumeLength   float64
	EdgeHeight    float64
	EdgeLength    float64
	GateOffsetX   float64
	GateWidth     float64
	GateOpening   float64
	DamDepth      float64
	FlumeDepth    float64

	obstacle orb.Polygon
	gates    []orb.Polygon
}

const (
	obstacleExtrusion = 0.5
	gateExtrusion     = 0.5
)

func NewDamBreakObstacle(Constants) *DamBreakObstacle {
	d := &DamBreakObstacle{
		ManningN:      0.01,
		WallWidth:     0.2,
		WallExtrusion: 0.5,
		FlumeWidth:    3.6,
		FlumeLength:   35.8,
		EdgeHeight:    0.155,
		EdgeLength:    0.34,
		GateOffsetX:   6.75,
		GateWidth:     0.8,
		GateOpening:   1.0,
		DamDepth:      0.4,
		FlumeDepth:    0.02,
	}
	d.buildObstacles(orb.Point{10.99, 1.75}, 0.8, 0.4, 64*math.Pi/180)
	return d
}

// buildObstacles lays out the rotated block and the two gate walls in
// flume coordinates.
func (d *DamBreakObstacle) buildObstacles(origin orb.Point, length, width, rotation float64) {
	along := orb.Point{math.Cos(rotation) * length, math.Sin(rotation) * length}
	across := orb.Point{math.Cos(math.Pi/2-rotation) * width, -math.Sin(math.Pi/2-rotation) * width}
	d.obstacle = orb.Polygon{orb.Ring{
		origin,
		{origin[0] + along[0], origin[1] + along[1]},
		{origin[0] + along[0] + across[0], origin[1] + along[1] + across[1]},
		{origin[0] + across[0], origin[1] + across[1]},
		origin,
	}}

	x0, x1 := d.GateOffsetX, d.GateOffsetX+d.GateWidth
	low := (d.FlumeWidth - d.GateOpening) / 2
	high := (d.FlumeWidth + d.GateOpening) / 2
	d.gates = []orb.Polygon{
		{orb.Ring{{x0, 0}, {x0, low}, {x1, low}, {x1, 0}, {x0, 0}}},
		{orb.Ring{{x0, d.FlumeWidth}, {x0, high}, {x1, high}, {x1, d.FlumeWidth}, {x0, d.FlumeWidth}}},
	}
}

func (d *DamBreakObstacle) Name() string { return DamBreakObstacleName }

func (d *DamBreakObstacle) Description() string {
	return "2D dam break against an isolated obstacle, for comparison with\n" +
		"laboratory results. Soares-Frazão and Zech (2007), Journal of\n" +
		"Hydraulic Research 45:sup1, 27-36."
}

func (d *DamBreakObstacle) Extent() (geo.Extent, bool) {
	return geo.NewExtent(0, 0, d.FlumeLength+2*d.WallWidth, d.FlumeWidth+2*d.WallWidth), true
}

func (d *DamBreakObstacle) Manning() float64 { return d.ManningN }

// flume converts grid coordinates to flume coordinates, with Y measured
// from the northern wall.
func (d *DamBreakObstacle) flume(g Grid, x, y float64) orb.Point {
	return orb.Point{x - g.Extent.MinX() - d.WallWidth, g.Extent.MaxY() - y - d.WallWidth}
}

func (d *DamBreakObstacle) outside(p orb.Point) bool {
	return p[0] < 0 || p[1] < 0 || p[0] > d.FlumeLength || p[1] > d.FlumeWidth
}

func (d *DamBreakObstacle) bed(g Grid, x, y float64) float64 {
	p := d.flume(g, x, y)
	if d.outside(p) {
		return d.WallExtrusion
	}
	if planar.PolygonContains(d.obstacle, p) {
		return obstacleExtrusion
	}
	for _, gate := range d.gates {
		if planar.PolygonContains(gate, p) {
			return gateExtrusion
		}
	}
	switch {
	case p[1] >= d.FlumeWidth-d.EdgeLength:
		return math.Max(d.EdgeHeight-(d.FlumeWidth-p[1])*d.EdgeHeight/d.EdgeLength, 0)
	case p[1] <= d.EdgeLength:
		return math.Max(d.EdgeHeight-p[1]*d.EdgeHeight/d.EdgeLength, 0)
	}
	return 0
}

func (d *DamBreakObstacle) depth(g Grid, x, y float64) float64 {
	p := d.flume(g, x, y)
	bed := d.bed(g, x, y)
	if d.outside(p) || bed >= d.WallExtrusion {
		return 0
	}
	if p[0] < d.GateOffsetX+d.GateWidth {
		return math.Max(d.DamDepth-bed, 0)
	}
	return math.Max(d.FlumeDepth-bed, 0)
}

func (d *DamBreakObstacle) Topography(g Grid) []float32 {
	return g.Fill(func(x, y float64) float64 { return d.bed(g, x, y) })
}

func (d *DamBreakObstacle) InitialDepth(g Grid) []float32 {
	return g.Fill(func(x, y float64) float64 { return d.depth(g, x, y) })
}
