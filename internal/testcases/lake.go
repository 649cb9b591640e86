package testcases

import "math"

const LakeAtRestName = "LAKE AT REST"

// LakeAtRest is a still lake around a smooth island with no friction. A
// well-balanced scheme must keep the water level unchanged.
type LakeAtRest struct {
	base
	ShapeFactor float64
	ScaleFactor float64
	WaterLevel  float64
	IslandLevel float64
	SeaDepth    float64
}

func NewLakeAtRest(c Constants) *LakeAtRest {
	return &LakeAtRest{
		ShapeFactor: c.Get("a", 2000),
		ScaleFactor: c.Get("b", 5000),
		WaterLevel:  c.Get("n", 0),
		IslandLevel: c.Get("i", 100),
		SeaDepth:    c.Get("s", 50),
	}
}

func (l *LakeAtRest) Name() string { return LakeAtRestName }

func (l *LakeAtRest) Description() string {
	return "2D domain with a smooth island in the centre and no friction.\n" +
		"The water level should not change.\n" +
		"Adapted from Xing et al. (2010), Advances in Water Resources 33:1476-1493."
}

func (l *LakeAtRest) bed(x, y float64) float64 {
	island := l.IslandLevel - l.ScaleFactor*(x*x+y*y)/(l.ShapeFactor*l.ShapeFactor)
	return math.Max(island, l.WaterLevel-l.SeaDepth)
}

func (l *LakeAtRest) fsl(x, y float64) float64 {
	return math.Max(l.WaterLevel, l.bed(x, y))
}

func (l *LakeAtRest) Topography(g Grid) []float32 { return g.FillCentred(l.bed) }
func (l *LakeAtRest) InitialFSL(g Grid) []float32  { return g.FillCentred(l.fsl) }
