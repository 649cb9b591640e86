// Package testcases defines analytic laboratory domains used to verify the
// hydrodynamic model: each case supplies its terrain and initial
// conditions as formulas evaluated on the domain grid.
package testcases

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hipims/modelbuilder/pkg/geo"
)

// Gravity is the gravitational acceleration used by the analytic cases.
const Gravity = 9.806

// ErrUnknownCase is returned by Lookup for names with no definition.
var ErrUnknownCase = errors.New("testcases: unknown test case")

// Grid is the cell layout a case is evaluated on.
type Grid struct {
	Extent     geo.Extent // snapped to Resolution
	SizeX      int
	SizeY      int
	Resolution float64
}

// Fill evaluates fn at the centre of every cell. Row 0 of the result is
// the northernmost row.
func (g Grid) Fill(fn func(x, y float64) float64) []float32 {
	out := make([]float32, g.SizeX*g.SizeY)
	for row := 0; row < g.SizeY; row++ {
		y := g.Extent.MaxY() - (float64(row)+0.5)*g.Resolution
		for col := 0; col < g.SizeX; col++ {
			x := g.Extent.MinX() + (float64(col)+0.5)*g.Resolution
			out[row*g.SizeX+col] = float32(fn(x, y))
		}
	}
	return out
}

// FillCentred is Fill with coordinates measured from the domain centre.
func (g Grid) FillCentred(fn func(x, y float64) float64) []float32 {
	cx := (g.Extent.MinX() + g.Extent.MaxX()) / 2
	cy := (g.Extent.MinY() + g.Extent.MaxY()) / 2
	return g.Fill(func(x, y float64) float64 { return fn(x-cx, y-cy) })
}

// Case is a laboratory domain. Layer methods return nil when the case
// does not define that layer; a nil topography makes the case unusable.
// Extent and Resolution report ok=false when the model's own values apply.
type Case interface {
	Name() string
	Description() string
	Extent() (geo.Extent, bool)
	Resolution() (float64, bool)
	Manning() float64

	Topography(g Grid) []float32
	InitialDepth(g Grid) []float32
	InitialFSL(g Grid) []float32
	InitialVelocityX(g Grid) []float32
	InitialVelocityY(g Grid) []float32
}

// Constants are named numeric parameters a case may read, such as a
// wall height or a water level. Absent keys take the case default.
type Constants map[string]float64

// Get returns the value of key or fallback when it is not set.
func (c Constants) Get(key string, fallback float64) float64 {
	if v, ok := c[key]; ok {
		return v
	}
	return fallback
}

// ParseConstants parses "k=v" pairs such as "w=2.5".
func ParseConstants(pairs []string) (Constants, error) {
	c := Constants{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("constant %q: expected key=value", p)
		}
		var f float64
		if _, err := fmt.Sscan(strings.TrimSpace(v), &f); err != nil {
			return nil, fmt.Errorf("constant %q: %w", p, err)
		}
		c[strings.TrimSpace(k)] = f
	}
	return c, nil
}

// base supplies the defaults shared by every case.
type base struct{}

func (base) Extent() (geo.Extent, bool)      { return geo.Extent{}, false }
func (base) Resolution() (float64, bool)     { return 0, false }
func (base) Manning() float64                { return 0 }
func (base) Topography(Grid) []float32       { return nil }
func (base) InitialDepth(Grid) []float32     { return nil }
func (base) InitialFSL(Grid) []float32       { return nil }
func (base) InitialVelocityX(Grid) []float32 { return nil }
func (base) InitialVelocityY(Grid) []float32 { return nil }

type constructor func(Constants) Case

var registry = map[string]constructor{
	SloshingBowlName:        func(c Constants) Case { return NewSloshingBowl(c) },
	LakeAtRestName:          func(c Constants) Case { return NewLakeAtRest(c) },
	DamBreakEmergingBedName: func(c Constants) Case { return NewDamBreakEmergingBed(c) },
	DamBreakObstacleName:    func(c Constants) Case { return NewDamBreakObstacle(c) },
}

// Lookup returns the case registered under name, ignoring case.
func Lookup(name string, c Constants) (Case, error) {
	ctor, ok := registry[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCase, name)
	}
	return ctor(c), nil
}

// Names lists the registered case names.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
