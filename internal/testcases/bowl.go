package testcases

import "math"

const SloshingBowlName = "SLOSHING PARABOLIC BOWL"

// SloshingBowl is a frictionless parabolic bowl whose water surface is a
// tilted plane that sloshes around the bowl; see Wang et al. (2011),
// Journal of Hydraulic Research 49(3):307-316.
type SloshingBowl struct {
	base
	H0    float64 // scaling factor
	Alpha float64 // sloping factor
	Beta  float64 // initial velocity, m/s
	Tau   float64 // friction parameter

	s float64
}

func NewSloshingBowl(c Constants) *SloshingBowl {
	b := &SloshingBowl{
		H0:    c.Get("h", 10),
		Alpha: c.Get("a", 3000),
		Beta:  c.Get("b", 5),
		Tau:   c.Get("t", 0),
	}
	peak := math.Sqrt(8 * Gravity * b.H0 / (b.Alpha * b.Alpha))
	b.s = math.Sqrt(peak*peak-b.Tau*b.Tau) / 2
	return b
}

func (b *SloshingBowl) Name() string { return SloshingBowlName }

func (b *SloshingBowl) Description() string {
	return "2D sloshing parabolic bowl, with or without friction. Needs a\n" +
		"MUSCL-Hancock scheme to keep diffusion from dominating over time.\n" +
		"Wang et al. (2011), Journal of Hydraulic Research 49(3):307-316."
}

func (b *SloshingBowl) bed(x, y float64) float64 {
	return b.H0 * (x*x + y*y) / (b.Alpha * b.Alpha)
}

// FSL returns the free surface level at (x, y) and time t.
func (b *SloshingBowl) FSL(x, y, t float64) float64 {
	decay := b.Beta * math.Exp(-b.Tau*t/2) / Gravity
	fsl := b.H0 -
		decay*(b.Tau/2*math.Sin(b.s*t)+b.s*math.Cos(b.s*t))*x -
		decay*(b.Tau/2*math.Cos(b.s*t)-b.s*math.Sin(b.s*t))*y
	return math.Max(fsl, b.bed(x, y))
}

func (b *SloshingBowl) Topography(g Grid) []float32 { return g.FillCentred(b.bed) }

func (b *SloshingBowl) InitialFSL(g Grid) []float32 {
	return g.FillCentred(func(x, y float64) float64 { return b.FSL(x, y, 0) })
}

// Velocity returns the uniform flow velocity at time t.
func (b *SloshingBowl) Velocity(t float64) (vx, vy float64) {
	decay := b.Beta * math.Exp(-b.Tau*t/2)
	return decay * math.Sin(b.s*t), -decay * math.Cos(b.s*t)
}

func (b *SloshingBowl) InitialVelocityX(g Grid) []float32 {
	vx, _ := b.Velocity(0)
	return g.Fill(func(x, y float64) float64 { return vx })
}

func (b *SloshingBowl) InitialVelocityY(g Grid) []float32 {
	_, vy := b.Velocity(0)
	return g.Fill(func(x, y float64) float64 { return vy })
}
