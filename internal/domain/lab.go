package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hipims/modelbuilder/internal/batch"
	"github.com/hipims/modelbuilder/internal/testcases"
	"github.com/hipims/modelbuilder/pkg/geo"
	"github.com/hipims/modelbuilder/pkg/rastertools"
)

// Workspace keys (without extension) written by a laboratory domain.
const (
	LabTopography = "TEST_DOMAIN_DTM"
	LabDepth      = "TEST_DOMAIN_DEPTH"
	LabFSL        = "TEST_DOMAIN_FSL"
	LabVelocityX  = "TEST_DOMAIN_VELX"
	LabVelocityY  = "TEST_DOMAIN_VELY"
)

// LabDomain materialises the layers of an analytic test case. The case is
// chosen by the request name.
type LabDomain struct {
	typ    Type
	req    Request
	tc     testcases.Case
	svc    *Services
	logger *slog.Logger

	extent geo.Extent
	res    float64

	mu     sync.Mutex
	layers Layers
}

// NewLab returns a laboratory domain for the test case named req.Name.
func NewLab(t Type, req Request, svc *Services) (*LabDomain, error) {
	req = req.withDefaults()
	tc, err := testcases.Lookup(req.Name, req.Constants)
	if err != nil {
		return nil, err
	}

	extent, ok := tc.Extent()
	if !ok {
		extent = req.Extent
	}
	res, ok := tc.Resolution()
	if !ok {
		res = req.Resolution
	}
	return &LabDomain{
		typ:    t,
		req:    req,
		tc:     tc,
		svc:    svc,
		logger: svc.logger().With("component", "domain", "domain", tc.Name()),
		extent: extent,
		res:    res,
	}, nil
}

func (l *LabDomain) Name() string         { return l.tc.Name() }
func (l *LabDomain) Type() Type           { return l.typ }
func (l *LabDomain) Extent() geo.Extent   { return l.extent }
func (l *LabDomain) Resolution() float64  { return l.res }
func (l *LabDomain) Manning() float64     { return l.tc.Manning() }
func (l *LabDomain) Case() testcases.Case { return l.tc }

// Layers returns the prepared layers.
func (l *LabDomain) Layers() Layers {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.layers
}

type labLayer struct {
	name string
	fill func(testcases.Grid) []float32
	set  func(*Layers, string)
}

// Prepare evaluates every layer the case defines on the domain grid and
// writes them concurrently.
func (l *LabDomain) Prepare(ctx context.Context) error {
	l.logger.Info("preparing laboratory domain", "description", l.tc.Description())

	snapped, sizeX, sizeY := rastertools.GridShape(l.extent, l.res)
	if sizeX <= 0 || sizeY <= 0 {
		return fmt.Errorf("domain %s: empty extent %v", l.tc.Name(), l.extent)
	}
	g := testcases.Grid{Extent: snapped, SizeX: sizeX, SizeY: sizeY, Resolution: l.res}

	all := []labLayer{
		{LabTopography, l.tc.Topography, func(ls *Layers, k string) { ls.Topography = k }},
		{LabDepth, l.tc.InitialDepth, func(ls *Layers, k string) { ls.Depth = k }},
		{LabFSL, l.tc.InitialFSL, func(ls *Layers, k string) { ls.FSL = k }},
		{LabVelocityX, l.tc.InitialVelocityX, func(ls *Layers, k string) { ls.VelocityX = k }},
		{LabVelocityY, l.tc.InitialVelocityY, func(ls *Layers, k string) { ls.VelocityY = k }},
	}

	type written struct {
		layer labLayer
		key   string
	}
	var todo []written
	values := make(map[string][]float32)
	for _, layer := range all {
		v := layer.fill(g)
		if v == nil {
			continue
		}
		key := layer.name + l.req.Format.Extension()
		values[key] = v
		todo = append(todo, written{layer, key})
		l.logger.Debug("test case provides layer", "target", key)
	}
	if len(todo) == 0 || values[LabTopography+l.req.Format.Extension()] == nil {
		return fmt.Errorf("domain %s: %w", l.tc.Name(), ErrNoTopography)
	}

	results := batch.Each(ctx, todo, 0, func(ctx context.Context, w written) error {
		_, err := l.svc.Tools.WriteGrid(ctx, w.key, l.req.Format, snapped, l.res, values[w.key])
		return err
	})
	if err := results.Err(); err != nil {
		l.svc.publish(ctx, l.tc.Name(), "failed", err.Error())
		return fmt.Errorf("domain %s: %w", l.tc.Name(), err)
	}

	var layers Layers
	for _, w := range todo {
		w.layer.set(&layers, w.key)
	}
	l.mu.Lock()
	l.layers = layers
	l.mu.Unlock()

	l.logger.Info("laboratory domain written", "layers", len(todo), "size_x", sizeX, "size_y", sizeY)
	l.svc.publish(ctx, l.tc.Name(), "prepared", layers)
	return nil
}

var _ Domain = (*LabDomain)(nil)
